package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_RFC4231Vector(t *testing.T) {
	svc := NewHMACSignatureService()

	sig := svc.Sign("Jefe", "what do ya want for nothing?")
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", sig)
}

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := svc.BuildSignedPayload(1708092000, []byte(`{"eventType":"payment.confirmed"}`))

	signature := svc.Sign("whsec_key", payload)
	assert.Regexp(t, `^[0-9a-f]{64}$`, signature)
	assert.True(t, svc.Verify("whsec_key", payload, signature))

	assert.False(t, svc.Verify("other-key", payload, signature))
	assert.False(t, svc.Verify("whsec_key", payload+" ", signature))
	assert.False(t, svc.Verify("whsec_key", payload, "invalidsignature"))
}

func TestHMACSignatureService_BuildSignedPayload(t *testing.T) {
	svc := NewHMACSignatureService()

	assert.Equal(t, `1708092000.{"a":1}`, svc.BuildSignedPayload(1708092000, []byte(`{"a":1}`)))
	assert.Equal(t, "0.", svc.BuildSignedPayload(0, nil))
}

func TestHMACSignatureService_VerifyIgnoresHexCase(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := svc.BuildSignedPayload(1767225600, []byte(`{"event":"payment.confirmed"}`))
	signature := svc.Sign("whsec_key", payload)

	assert.True(t, svc.Verify("whsec_key", payload, strings.ToUpper(signature)))
	assert.False(t, svc.Verify("whsec_key", payload, signature[:len(signature)-2]))
}
