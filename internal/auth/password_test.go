package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	password := "mySecurePassword123"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if hash == "" {
		t.Fatal("Expected hash to be generated")
	}

	if hash == password {
		t.Fatal("Hash should not equal plain password")
	}
}

func TestCheckPassword_Valid(t *testing.T) {
	password := "mySecurePassword123"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	err = CheckPassword(hash, password)
	if err != nil {
		t.Errorf("Expected password to match, got error: %v", err)
	}
}

func TestCheckPassword_Invalid(t *testing.T) {
	password := "mySecurePassword123"
	wrongPassword := "wrongPassword"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	err = CheckPassword(hash, wrongPassword)
	if err == nil {
		t.Error("Expected error for wrong password")
	}
}

func TestHashPassword_EmptyString(t *testing.T) {
	password := ""

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("Expected no error for empty password, got %v", err)
	}

	if hash == "" {
		t.Fatal("Expected hash to be generated even for empty password")
	}
}

func TestHashPassword_DefaultCost(t *testing.T) {
	hash, err := HashPassword("mySecurePassword123")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("Expected a bcrypt hash, got %v", err)
	}
	if cost != bcrypt.DefaultCost {
		t.Errorf("Expected cost %d, got %d", bcrypt.DefaultCost, cost)
	}
}

func TestHashPassword_Salted(t *testing.T) {
	password := "mySecurePassword123"

	first, err := HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	second, err := HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	if first == second {
		t.Fatal("Expected two hashes of the same password to differ")
	}
	if CheckPassword(first, password) != nil || CheckPassword(second, password) != nil {
		t.Error("Expected both hashes to match the password")
	}
}

func TestCheckPassword_EmptyAgainstHash(t *testing.T) {
	hash, err := HashPassword("")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	if err := CheckPassword(hash, ""); err != nil {
		t.Errorf("Expected empty password to match its own hash, got %v", err)
	}
	if err := CheckPassword(hash, " "); !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		t.Errorf("Expected mismatch, got %v", err)
	}
}

func TestHashPassword_TooLong(t *testing.T) {
	if _, err := HashPassword(strings.Repeat("a", 73)); err == nil {
		t.Error("Expected error for a password over 72 bytes")
	}
}

func TestCheckPassword_NotAHash(t *testing.T) {
	if err := CheckPassword("plain-text", "plain-text"); err == nil {
		t.Error("Expected error when the stored value is not a bcrypt hash")
	}
}
