package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"

	"telemetry-gateway/internal/codec"
	"telemetry-gateway/internal/common/errors"
)

// Decryptor decrypts envelope ciphertext with the fleet's shared AES key
// and static IV.
type Decryptor struct {
	key []byte
	iv  []byte
}

// NewDecryptor creates a decryptor bound to the fleet key material.
func NewDecryptor(secrets *Secrets) *Decryptor {
	return &Decryptor{key: secrets.aesKey, iv: secrets.iv}
}

// Decrypt performs AES-CBC decryption followed by PKCS7 unpadding. The
// ciphertext must already be authenticated; this method performs no
// integrity check of its own.
func (d *Decryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.DecryptionError("ciphertext length is not a multiple of the block size", nil).
			WithContext("length", len(ciphertext))
	}

	block, err := aes.NewCipher(d.key)
	if err != nil {
		return nil, errors.DecryptionError("failed to create cipher", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, d.iv).CryptBlocks(plaintext, ciphertext)

	return codec.PKCS7Unpad(plaintext, aes.BlockSize)
}

// Encrypt is the inverse of Decrypt. The gateway itself never encrypts on
// the ingest path; this exists for tests and provisioning tooling.
func (d *Decryptor) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(d.key)
	if err != nil {
		return nil, errors.DecryptionError("failed to create cipher", err)
	}

	padded := codec.PKCS7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, d.iv).CryptBlocks(ciphertext, padded)

	return ciphertext, nil
}

// DecodeReading turns decrypted bytes into a telemetry reading. Trailing
// NUL bytes are tolerated before JSON parsing; anything else that fails to
// decode or parse is malformed telemetry.
func DecodeReading(plaintext []byte) (*Reading, error) {
	text, err := codec.DecodeUTF8(plaintext, false)
	if err != nil {
		return nil, err
	}

	var reading Reading
	if err := json.Unmarshal([]byte(text), &reading); err != nil {
		return nil, errors.MalformedTelemetryError("decrypted payload is not a telemetry record", err)
	}

	if err := reading.Validate(); err != nil {
		return nil, errors.MalformedTelemetryError("telemetry record failed validation", err)
	}

	return &reading, nil
}
