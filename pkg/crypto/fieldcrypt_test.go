package crypto

import (
	"strings"
	"testing"
)

func newTestEncryptor(t *testing.T, purpose string) *FieldEncryptor {
	t.Helper()
	fe, err := DeriveFieldEncryptor([]byte("test-master-secret"), purpose)
	if err != nil {
		t.Fatalf("derive encryptor: %v", err)
	}
	return fe
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	fe := newTestEncryptor(t, "tokens")

	plaintext := "IGQVJXa-very-secret-access-token"
	stored, err := fe.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(stored, "enc:v1:") {
		t.Fatalf("expected prefixed ciphertext, got %q", stored)
	}
	if strings.Contains(stored, plaintext) {
		t.Fatal("ciphertext must not contain plaintext")
	}

	decrypted, err := fe.Decrypt(stored)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("round trip mismatch: got %q", decrypted)
	}
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	fe := newTestEncryptor(t, "tokens")

	got, err := fe.Decrypt("legacy-plaintext-token")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "legacy-plaintext-token" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	fe := newTestEncryptor(t, "tokens")

	stored, err := fe.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := stored[:len(stored)-2] + "AA"
	if tampered == stored {
		tampered = stored[:len(stored)-2] + "BB"
	}
	if _, err := fe.Decrypt(tampered); err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	fe := newTestEncryptor(t, "tokens")

	a, err := fe.Encrypt("same")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := fe.Encrypt("same")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if a == b {
		t.Fatal("two encryptions of the same value must differ")
	}
}

func TestPurposeIsolation(t *testing.T) {
	tokens := newTestEncryptor(t, "tokens")
	other := newTestEncryptor(t, "webhooks")

	stored, err := tokens.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := other.Decrypt(stored); err == nil {
		t.Fatal("a different purpose key must not decrypt the value")
	}
}

func TestIsEncrypted(t *testing.T) {
	fe := newTestEncryptor(t, "tokens")

	stored, err := fe.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !IsEncrypted(stored) {
		t.Fatal("expected IsEncrypted true for ciphertext")
	}
	if IsEncrypted("plaintext") {
		t.Fatal("expected IsEncrypted false for plaintext")
	}
}
