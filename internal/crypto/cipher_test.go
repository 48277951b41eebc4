package crypto

import "testing"

func TestRoundTripWithKey(t *testing.T) {
	c := NewCipher("a secret key")
	if !c.Enabled() {
		t.Fatal("expected cipher to be enabled")
	}

	plaintext := "your OTP is 482913"
	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == plaintext {
		t.Fatal("ciphertext must not equal plaintext when a key is configured")
	}

	got, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != plaintext {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestIdentityWithoutKey(t *testing.T) {
	c := NewCipher("")
	if c.Enabled() {
		t.Fatal("expected cipher to be disabled")
	}

	plaintext := "hello"
	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext != plaintext {
		t.Errorf("Encrypt without key = %q, want identity %q", ciphertext, plaintext)
	}

	got, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != plaintext {
		t.Errorf("Decrypt without key = %q, want %q", got, plaintext)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	c1 := NewCipher("key-one")
	c2 := NewCipher("key-two")

	ciphertext, err := c1.Encrypt("payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := c2.Decrypt(ciphertext); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}
