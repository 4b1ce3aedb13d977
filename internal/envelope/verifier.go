package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Verifier checks envelope authentication tags.
type Verifier struct {
	key []byte
}

// NewVerifier creates a verifier bound to the fleet HMAC key.
func NewVerifier(secrets *Secrets) *Verifier {
	return &Verifier{key: secrets.hmacKey}
}

// Verify computes HMAC-SHA256 over payload and compares it to providedTag
// in constant time. It returns false, never an error, on any mismatch; the
// caller must treat false as an integrity failure and stop before any
// decryption is attempted.
func (v *Verifier) Verify(payload, providedTag []byte) bool {
	mac := hmac.New(sha256.New, v.key)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), providedTag)
}

// Tag computes the expected tag for payload. Used by tests and device
// provisioning tooling.
func (v *Verifier) Tag(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.key)
	mac.Write(payload)
	return mac.Sum(nil)
}
