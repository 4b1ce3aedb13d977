// Package codec provides the byte-level primitives shared by the envelope
// protocol versions: hex conversion, PKCS7 block padding, and UTF-8 decoding
// tolerant of the trailing NUL padding emitted by legacy device firmware.
package codec

import (
	"bytes"
	"encoding/hex"
	"unicode/utf8"

	"telemetry-gateway/internal/common/errors"
)

// BlockSize is the cipher block size the device fleet pads to.
const BlockSize = 16

// HexDecode converts a hex string to bytes. Returns a validation error when
// the input has odd length or contains non-hex characters.
func HexDecode(s string) ([]byte, error) {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.ValidationError("malformed hex input").WithContext("length", len(s))
	}
	return decoded, nil
}

// HexEncode converts bytes to a lowercase hex string.
func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// IsHex reports whether s is a non-empty, even-length hex string. Used by
// envelope version sniffing to tell hex-encoded ciphertext from text-encoded.
func IsHex(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// PKCS7Pad appends PKCS7 padding so that len(result) is a multiple of
// blockSize. A full block of padding is added when data is already aligned.
func PKCS7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

// PKCS7Unpad strips PKCS7 padding. The final byte names the pad length N;
// the call fails when N is 0, exceeds the block size, or exceeds the total
// length. Adversarial values must error, never panic.
func PKCS7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.DecryptionError("cannot unpad empty input", nil)
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.DecryptionError("invalid padding length", nil).
			WithContext("pad_len", padLen)
	}

	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.DecryptionError("inconsistent padding bytes", nil)
		}
	}

	return data[:len(data)-padLen], nil
}

// DecodeUTF8 converts bytes to a string. In tolerant mode trailing NUL bytes
// are stripped first; old firmware zero-pads short strings instead of using
// PKCS7. Invalid byte sequences fail in strict mode only.
func DecodeUTF8(data []byte, strict bool) (string, error) {
	trimmed := data
	if !strict {
		trimmed = bytes.TrimRight(data, "\x00")
	}

	if strict && !utf8.Valid(trimmed) {
		return "", errors.MalformedTelemetryError("invalid UTF-8 byte sequence", nil)
	}

	return string(trimmed), nil
}
