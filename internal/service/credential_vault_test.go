package service

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPepper = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

// flakyReader fails once, then behaves.
type flakyReader struct {
	failed bool
	next   io.Reader
}

func (r *flakyReader) Read(p []byte) (int, error) {
	if !r.failed {
		r.failed = true
		return 0, errors.New("entropy pool exhausted")
	}
	return r.next.Read(p)
}

func newTestVault(t *testing.T) *CredentialVaultImpl {
	t.Helper()
	v, err := NewCredentialVault(testPepper, nil, zerolog.Nop())
	require.NoError(t, err)
	return v
}

func TestCredentialVault_NewRejectsBadPepper(t *testing.T) {
	_, err := NewCredentialVault("abc", nil, zerolog.Nop())
	assertAppError(t, err, "SYS_005")

	_, err = NewCredentialVault("abcd", nil, zerolog.Nop())
	assertAppError(t, err, "SYS_005")
}

func TestCredentialVault_GenerateSecret(t *testing.T) {
	v := newTestVault(t)

	apiKey, err := v.GenerateSecret(domain.SecretKindAPIKey)
	require.NoError(t, err)
	assert.Regexp(t, `^sk_[0-9a-f]{64}$`, apiKey)

	whsec, err := v.GenerateSecret(domain.SecretKindWebhook)
	require.NoError(t, err)
	assert.Regexp(t, `^whsec_[0-9a-f]{64}$`, whsec)

	raw, err := v.GenerateSecret(domain.SecretKindProvisioning)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{64}$`, raw)

	other, err := v.GenerateSecret(domain.SecretKindAPIKey)
	require.NoError(t, err)
	assert.NotEqual(t, apiKey, other)
}

func TestCredentialVault_HashAndVerifyAPIKey(t *testing.T) {
	v := newTestVault(t)

	prefix, stored := v.HashAPIKey("sk_live_example")
	assert.Len(t, prefix, 16)
	assert.Regexp(t, `^[0-9a-f]{64}$`, stored)
	assert.Equal(t, prefix, v.LookupPrefix("sk_live_example"))

	// Deterministic.
	prefix2, stored2 := v.HashAPIKey("sk_live_example")
	assert.Equal(t, prefix, prefix2)
	assert.Equal(t, stored, stored2)

	assert.True(t, v.VerifyAPIKey("sk_live_example", stored))
	assert.False(t, v.VerifyAPIKey("sk_live_other", stored))
	assert.False(t, v.VerifyAPIKey("sk_live_example", "not-hex"))
	assert.NotContains(t, stored, "sk_live_example")
}

func TestCredentialVault_PepperKeysTheDigest(t *testing.T) {
	a := newTestVault(t)
	b, err := NewCredentialVault(strings.Repeat("11", 32), nil, zerolog.Nop())
	require.NoError(t, err)

	_, storedA := a.HashAPIKey("sk_same")
	_, storedB := b.HashAPIKey("sk_same")

	assert.NotEqual(t, storedA, storedB)
	assert.Equal(t, a.LookupPrefix("sk_same"), b.LookupPrefix("sk_same"))
}

func TestCredentialVault_LatchesOnEntropyFailure(t *testing.T) {
	src := &flakyReader{next: bytes.NewReader(bytes.Repeat([]byte{1, 2, 3, 4}, 64))}
	v, err := NewCredentialVault(testPepper, src, zerolog.Nop())
	require.NoError(t, err)

	_, err = v.GenerateSecret(domain.SecretKindAPIKey)
	assertAppError(t, err, "SYS_005")
	assert.True(t, v.Halted())

	// The source has recovered, but the vault stays halted.
	_, err = v.GenerateSecret(domain.SecretKindWebhook)
	assertAppError(t, err, "SYS_005")

	_, err = v.GenerateProvisioningSecrets()
	assertAppError(t, err, "SYS_005")
}

func TestCredentialVault_DegenerateEntropy(t *testing.T) {
	v, err := NewCredentialVault(testPepper, bytes.NewReader(make([]byte, 64)), zerolog.Nop())
	require.NoError(t, err)

	_, err = v.GenerateSecret(domain.SecretKindAPIKey)
	assertAppError(t, err, "SYS_005")
	assert.True(t, v.Halted())
}

func TestCredentialVault_ReadError(t *testing.T) {
	v, err := NewCredentialVault(testPepper, failingReader{err: io.ErrUnexpectedEOF}, zerolog.Nop())
	require.NoError(t, err)

	_, err = v.GenerateSecret(domain.SecretKindAPIKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCredentialVault_GenerateProvisioningSecrets(t *testing.T) {
	v := newTestVault(t)

	secrets, err := v.GenerateProvisioningSecrets()
	require.NoError(t, err)

	assert.Regexp(t, `^[0-9a-f]{64}$`, secrets.JWTSecret)
	assert.Regexp(t, `^[0-9a-f]{64}$`, secrets.AESKey)
	assert.Regexp(t, `^[0-9a-f]{64}$`, secrets.APIKeyPepper)
	assert.Regexp(t, `^whsec_[0-9a-f]{64}$`, secrets.WebhookSecret)

	// The generated key and pepper are directly usable.
	_, err = NewAESEncryptionService(secrets.AESKey)
	require.NoError(t, err)
	_, err = NewCredentialVault(secrets.APIKeyPepper, nil, zerolog.Nop())
	require.NoError(t, err)
}
