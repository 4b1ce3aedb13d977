// Package envelope implements the secure envelope protocol spoken by the
// device fleet. An envelope carries ciphertext and an authentication tag;
// the gateway verifies the tag before it will even attempt decryption.
//
// Three wire versions exist in the field and are treated as protocol
// versioning rather than code drift:
//
//   - VersionPlaintext: the oldest firmware posts the telemetry record as
//     bare JSON with no envelope at all.
//   - VersionText: ciphertext is base64 text, tag is hex.
//   - VersionHex: ciphertext and tag are both hex.
//
// The version is selected by content sniffing since devices do not send a
// version field.
package envelope

import (
	"encoding/base64"
	"encoding/json"

	"telemetry-gateway/internal/codec"
	"telemetry-gateway/internal/common/errors"
)

// Version identifies the wire protocol variant of a submission.
type Version string

const (
	// VersionPlaintext is the legacy unencrypted JSON body
	VersionPlaintext Version = "v0-plaintext"
	// VersionText is base64-encoded AES ciphertext with a hex HMAC tag
	VersionText Version = "v1-text"
	// VersionHex is hex-encoded AES ciphertext with a hex HMAC tag
	VersionHex Version = "v2-hex"
)

// Envelope is the authenticated-then-encrypted unit a device submits.
type Envelope struct {
	Payload string `json:"payload"`
	HMAC    string `json:"hmac"`

	Version Version `json:"-"`
}

// Reading is the decrypted telemetry payload. Gender is not reported by the
// device; it is sourced from the device registry at enrichment time.
type Reading struct {
	UID    string  `json:"uid"`
	Age    int     `json:"age"`
	Height float64 `json:"height"`
	Status string  `json:"status"`
	Gender string  `json:"gender,omitempty"`
}

// Validate checks the structural requirements on a decrypted reading.
func (r *Reading) Validate() error {
	if r.UID == "" {
		return errors.ValidationError("reading missing device uid")
	}
	if r.Age < 0 {
		return errors.ValidationError("reading age cannot be negative")
	}
	if r.Height <= 0 {
		return errors.ValidationError("reading height must be positive")
	}
	if r.Status == "" {
		return errors.ValidationError("reading missing status")
	}
	return nil
}

// Sniff inspects a request body and decides which protocol version it
// carries. Bodies with top-level payload and hmac strings are envelopes;
// hex payloads are VersionHex, anything else VersionText. A body that
// parses as a bare reading is VersionPlaintext. Other shapes are a
// validation error.
func Sniff(body []byte) (*Envelope, *Reading, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Payload != "" && env.HMAC != "" {
		if codec.IsHex(env.Payload) {
			env.Version = VersionHex
		} else {
			env.Version = VersionText
		}
		return &env, nil, nil
	}

	var reading Reading
	if err := json.Unmarshal(body, &reading); err == nil && reading.UID != "" {
		return nil, &reading, nil
	}

	return nil, nil, errors.ValidationError("body is neither an envelope nor a telemetry reading")
}

// CiphertextBytes decodes the payload string into raw ciphertext according
// to the envelope version.
func (e *Envelope) CiphertextBytes() ([]byte, error) {
	switch e.Version {
	case VersionHex:
		return codec.HexDecode(e.Payload)
	case VersionText:
		decoded, err := base64.StdEncoding.DecodeString(e.Payload)
		if err != nil {
			return nil, errors.ValidationError("malformed base64 ciphertext")
		}
		return decoded, nil
	default:
		return nil, errors.ValidationError("envelope version carries no ciphertext")
	}
}

// TagBytes decodes the hex authentication tag.
func (e *Envelope) TagBytes() ([]byte, error) {
	return codec.HexDecode(e.HMAC)
}
