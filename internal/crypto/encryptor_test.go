package crypto

import (
	"strings"
	"testing"
)

func TestNewSettingsEncryptor(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantError bool
	}{
		{"valid passphrase", "a-reasonable-passphrase", false},
		{"short passphrase", "x", false}, // derived to 32 bytes either way
		{"long passphrase", strings.Repeat("a", 128), false},
		{"empty passphrase", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewSettingsEncryptor(tt.key)
			if tt.wantError {
				if err == nil {
					t.Error("NewSettingsEncryptor() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSettingsEncryptor() error = %v", err)
			}
			if len(enc.key) != 32 {
				t.Errorf("derived key length = %d, want 32", len(enc.key))
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewSettingsEncryptor("test-passphrase")
	if err != nil {
		t.Fatal(err)
	}

	tests := []string{
		"scorer-api-key-123",
		"",
		`{"token":"abc","expires":123}`,
		strings.Repeat("long", 1024),
	}

	for _, plaintext := range tests {
		sealed, err := enc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", plaintext, err)
		}

		got, err := enc.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptNonceUniqueness(t *testing.T) {
	enc, err := NewSettingsEncryptor("test-passphrase")
	if err != nil {
		t.Fatal(err)
	}

	first, _ := enc.Encrypt("same plaintext")
	second, _ := enc.Encrypt("same plaintext")
	if first == second {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecryptTampered(t *testing.T) {
	enc, err := NewSettingsEncryptor("test-passphrase")
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the last character of the base64 text.
	tampered := sealed[:len(sealed)-2] + "AA"
	if _, err := enc.Decrypt(tampered); err == nil {
		t.Error("Decrypt() accepted tampered ciphertext")
	}

	if _, err := enc.Decrypt("not base64 at all!!!"); err == nil {
		t.Error("Decrypt() accepted invalid base64")
	}

	if _, err := enc.Decrypt("AAAA"); err == nil {
		t.Error("Decrypt() accepted truncated input")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	enc1, _ := NewSettingsEncryptor("passphrase-one")
	enc2, _ := NewSettingsEncryptor("passphrase-two")

	sealed, err := enc1.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := enc2.Decrypt(sealed); err == nil {
		t.Error("Decrypt() with wrong key succeeded")
	}
}
