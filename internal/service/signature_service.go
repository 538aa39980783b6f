package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
type HMACSignatureService struct{}

func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign returns the lowercase hex HMAC-SHA256 of payload under secretKey.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	return hex.EncodeToString(computeMAC(secretKey, payload))
}

// Verify reports whether signature is the hex MAC of payload. Hex case is ignored.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(computeMAC(secretKey, payload), got)
}

func computeMAC(secretKey, payload string) []byte {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// BuildSignedPayload joins the unix timestamp and the exact body bytes:
// "<timestamp>.<body>". Receivers recompute it from X-Timestamp and the raw body.
func (s *HMACSignatureService) BuildSignedPayload(timestamp int64, body []byte) string {
	buf := make([]byte, 0, len(body)+21)
	buf = strconv.AppendInt(buf, timestamp, 10)
	buf = append(buf, '.')
	buf = append(buf, body...)
	return string(buf)
}
