package vault

import (
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("test-secret")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	token := "sk-live-abc123"
	sealed, err := v.Encrypt(token, "acct-1")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	got, err := v.Decrypt(sealed, "acct-1")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if got != token {
		t.Errorf("Decrypt() = %q, want %q", got, token)
	}
}

func TestDecryptFailsForWrongAccount(t *testing.T) {
	v, err := New("test-secret")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sealed, err := v.Encrypt("sk-live-abc123", "acct-1")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := v.Decrypt(sealed, "acct-2"); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Decrypt() with wrong account error = %v, want ErrDecryptFailed", err)
	}
}

func TestDecryptFailsForWrongSecret(t *testing.T) {
	v1, _ := New("secret-one")
	v2, _ := New("secret-two")

	sealed, err := v1.Encrypt("token", "acct-1")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := v2.Decrypt(sealed, "acct-1"); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Decrypt() with wrong secret error = %v, want ErrDecryptFailed", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	v, _ := New("test-secret")

	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"too short", "YWJj"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Decrypt(tt.input, "acct-1"); !errors.Is(err, ErrDecryptFailed) {
				t.Errorf("Decrypt(%q) error = %v, want ErrDecryptFailed", tt.input, err)
			}
		})
	}
}

func TestEncryptProducesFreshNonces(t *testing.T) {
	v, _ := New("test-secret")

	a, err := v.Encrypt("token", "acct-1")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	b, err := v.Encrypt("token", "acct-1")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if a == b {
		t.Error("two encryptions of the same token produced identical ciphertext")
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") error = nil, want error")
	}
}
