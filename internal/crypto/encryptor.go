// Package crypto provides AES-256-GCM encryption for sensitive settings,
// currently the recommendation scorer's API credential, so that it is never
// stored in plaintext. This is unrelated to the envelope protocol: the
// device fleet speaks AES-CBC with a fixed IV, while values encrypted here
// never leave the gateway and use a random nonce per operation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"telemetry-gateway/internal/common/errors"
)

// kdf parameters; changing them invalidates previously encrypted values.
const (
	kdfIterations = 10000
	kdfSalt       = "telemetry-gateway-settings"
)

// SettingsEncryptor encrypts and decrypts sensitive settings values using
// AES-256-GCM. Safe for concurrent use.
type SettingsEncryptor struct {
	key []byte
}

// NewSettingsEncryptor derives a 32-byte key from the passphrase with
// PBKDF2 and returns an encryptor. The passphrase must not be empty.
func NewSettingsEncryptor(passphrase string) (*SettingsEncryptor, error) {
	if passphrase == "" {
		return nil, errors.ConfigError("settings encryption key cannot be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(kdfSalt), kdfIterations, 32, sha256.New)
	return &SettingsEncryptor{key: key}, nil
}

// Encrypt seals plaintext with a random nonce and returns base64
// nonce||ciphertext. Empty input passes through unencrypted.
func (e *SettingsEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := e.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to generate nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or truncated input fails; GCM performs
// the integrity check as part of decryption.
func (e *SettingsEncryptor) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.ValidationError("encrypted value is not valid base64")
	}

	gcm, err := e.aead()
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.ValidationError("encrypted value too short")
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt settings value", err)
	}

	return string(plaintext), nil
}

func (e *SettingsEncryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}
	return gcm, nil
}
