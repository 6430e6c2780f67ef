package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testKey(t *testing.T) [keySize]byte {
	t.Helper()
	var k [keySize]byte
	if _, err := rand.Read(k[:]); err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e := New(testKey(t))
	plaintext := []byte(`{"accessToken":"secret-value"}`)
	aad := []byte("user1|github")

	ciphertext, err := e.Encrypt(plaintext, aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := e.Decrypt(ciphertext, aad)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestEncryptProducesDistinctCiphertexts(t *testing.T) {
	e := New(testKey(t))
	plaintext := []byte("same plaintext")

	c1, err := e.Encrypt(plaintext, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	c2, err := e.Encrypt(plaintext, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(c1, c2) {
		t.Fatal("expected distinct ciphertexts for repeated encryption of the same plaintext")
	}
}

func TestDecryptRejectsWrongAAD(t *testing.T) {
	e := New(testKey(t))
	ciphertext, err := e.Encrypt([]byte("payload"), []byte("user1|github"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := e.Decrypt(ciphertext, []byte("user1|google")); err == nil {
		t.Fatal("expected decryption to fail with mismatched AAD")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	e := New(testKey(t))
	ciphertext, err := e.Encrypt([]byte("payload"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF
	if _, err := e.Decrypt(ciphertext, nil); err == nil {
		t.Fatal("expected decryption to fail for tampered ciphertext")
	}
}
