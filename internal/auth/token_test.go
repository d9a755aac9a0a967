package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenSignerRoundTrip(t *testing.T) {
	signer, err := NewTokenSigner("test-secret", "test-issuer")
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	token, exp, err := signer.Sign("identity-1", "session-1", "client-1", "a@firm.com", time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}
	claims, err := signer.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "identity-1" || claims.SessionID != "session-1" || claims.ClientID != "client-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenSignerRejects(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	signer, _ := NewTokenSigner("secret-a", "issuer", WithSignerClock(clock))
	other, _ := NewTokenSigner("secret-b", "issuer", WithSignerClock(clock))

	token, _, err := signer.Sign("identity-1", "session-1", "", "", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret accepted: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := signer.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
	if _, err := signer.Parse(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token accepted: %v", err)
	}
	if _, err := NewTokenSigner(" ", ""); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}
