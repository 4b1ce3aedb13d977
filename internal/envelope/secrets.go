package envelope

import (
	"crypto/aes"

	"telemetry-gateway/internal/codec"
	"telemetry-gateway/internal/common/errors"
)

// Secrets holds the key material shared out-of-band with the device fleet.
// It is built once at startup and injected into the pipeline; nothing in the
// request path reads the environment.
//
// The fleet reuses a single static IV across all messages. That is a known
// weakness of the observed wire protocol, kept for compatibility with
// deployed firmware.
type Secrets struct {
	aesKey  []byte
	iv      []byte
	hmacKey []byte
}

// NewSecrets builds a Secrets from hex-encoded key material. The AES key
// must be 16, 24, or 32 bytes and the IV exactly one cipher block.
func NewSecrets(aesKeyHex, ivHex, hmacKeyHex string) (*Secrets, error) {
	aesKey, err := codec.HexDecode(aesKeyHex)
	if err != nil {
		return nil, errors.ConfigError("AES key is not valid hex")
	}
	switch len(aesKey) {
	case 16, 24, 32:
	default:
		return nil, errors.ConfigError("AES key must be 16, 24, or 32 bytes")
	}

	iv, err := codec.HexDecode(ivHex)
	if err != nil {
		return nil, errors.ConfigError("AES IV is not valid hex")
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.ConfigError("AES IV must be exactly one block")
	}

	if hmacKeyHex == "" {
		return nil, errors.ConfigError("HMAC key is required")
	}
	hmacKey, err := codec.HexDecode(hmacKeyHex)
	if err != nil {
		// Older provisioning scripts handed devices the raw passphrase
		// rather than hex. Accept it as-is for compatibility.
		hmacKey = []byte(hmacKeyHex)
	}

	return &Secrets{
		aesKey:  aesKey,
		iv:      iv,
		hmacKey: hmacKey,
	}, nil
}
