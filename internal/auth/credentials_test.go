package auth

import (
	"testing"
	"time"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := hashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hashPassword() error = %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("hash must differ from the password")
	}
	if !checkPassword(hash, "s3cret-pass") {
		t.Error("checkPassword() = false for correct password")
	}
	if checkPassword(hash, "other") {
		t.Error("checkPassword() = true for wrong password")
	}
	if checkPassword("", "s3cret-pass") {
		t.Error("checkPassword() = true for empty hash")
	}
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	token, err := issuer.Issue("user-1", "user@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	userID, email, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if userID != "user-1" || email != "user@example.com" {
		t.Errorf("Verify() = %q, %q", userID, email)
	}
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	token, _ := issuer.Issue("user-1", "user@example.com")

	issuer.nowFn = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, _, err := issuer.Verify(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestTokenIssuer_RejectsOtherSecret(t *testing.T) {
	token, _ := NewTokenIssuer("secret-a", time.Hour).Issue("user-1", "user@example.com")

	if _, _, err := NewTokenIssuer("secret-b", time.Hour).Verify(token); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}
}

func TestTokenIssuer_RejectsGarbage(t *testing.T) {
	if _, _, err := NewTokenIssuer("secret", time.Hour).Verify("a.b.c"); err == nil {
		t.Error("expected malformed token to be rejected")
	}
}
