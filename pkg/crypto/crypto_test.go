package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("Passw0rd")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !VerifyPassword(hash, "Passw0rd") {
		t.Fatal("expected password verification to succeed")
	}
	if VerifyPassword(hash, "incorrect") {
		t.Fatal("expected password verification to fail")
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("cost error: %v", err)
	}
	if cost != PasswordCost {
		t.Fatalf("expected cost %d, got %d", PasswordCost, cost)
	}
}

func TestHashPasswordRejectsOverlongInput(t *testing.T) {
	if _, err := HashPassword(strings.Repeat("a", MaxPasswordBytes)); err != nil {
		t.Fatalf("expected %d bytes to hash, got %v", MaxPasswordBytes, err)
	}

	_, err := HashPassword(strings.Repeat("a", MaxPasswordBytes+1))
	if !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestPasswordHashingIsSalted(t *testing.T) {
	first, err := HashPassword("same-input")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	second, err := HashPassword("same-input")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if first == second {
		t.Fatal("expected distinct hashes for the same plaintext")
	}

	other, err := HashPassword("other-input")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if VerifyPassword(other, "same-input") {
		t.Fatal("expected plaintext not to verify against another plaintext's hash")
	}
}

func TestVerifyPasswordWithoutHash(t *testing.T) {
	if VerifyPassword("", "anything") {
		t.Fatal("expected empty hash to never verify")
	}
	if VerifyPassword("not-a-bcrypt-hash", "anything") {
		t.Fatal("expected malformed hash to never verify")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{0x1}, 32)
	plaintext := []byte("ya29.provider-access-token")
	owner := []byte("user-1")

	encoded, err := Encrypt(plaintext, key, owner)
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}

	decrypted, err := Decrypt(encoded, key, owner)
	if err != nil {
		t.Fatalf("decrypt error: %v", err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("expected decrypted plaintext to match original, got %s", decrypted)
	}

	if _, err := Decrypt(encoded, bytes.Repeat([]byte{0x2}, 32), owner); err == nil {
		t.Fatal("expected decrypt with the wrong key to fail")
	}
	if _, err := Decrypt(encoded, key, []byte("user-2")); err == nil {
		t.Fatal("expected decrypt bound to another owner to fail")
	}
	if _, err := Decrypt("c2hvcnQ=", key, owner); !errors.Is(err, ErrCiphertextTooShort) {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
	if _, err := Encrypt(plaintext, []byte("short"), owner); err == nil {
		t.Fatal("expected invalid key size to fail")
	}
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if len(token) == 0 {
		t.Fatal("expected token to be non-empty")
	}
}

func TestGenerateHexToken(t *testing.T) {
	token, err := GenerateHexToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if len(token) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(token))
	}
	if _, err := hex.DecodeString(token); err != nil {
		t.Fatalf("expected valid hex: %v", err)
	}
	if strings.ToLower(token) != token {
		t.Fatal("expected lowercase hex")
	}
}
