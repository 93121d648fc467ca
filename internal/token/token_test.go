package token

import (
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/ittrkart-backend/internal/model"
)

func TestIssueSession_RoundTrip(t *testing.T) {
	m := NewManager("test-secret")

	u := &model.User{
		ID:    42,
		Name:  "alice",
		Email: "a@x.com",
	}

	signed, err := m.IssueSession(u)
	if err != nil {
		t.Fatalf("IssueSession error: %v", err)
	}

	claims, err := m.Parse(signed)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	id, err := claims.UserID()
	if err != nil {
		t.Fatalf("UserID error: %v", err)
	}
	if id != 42 {
		t.Fatalf("UserID = %d, want 42", id)
	}
	if claims.Email != "a@x.com" {
		t.Fatalf("Email = %q, want a@x.com", claims.Email)
	}
	if claims.IsAdmin || claims.IsVendor {
		t.Fatalf("new user claims must have isAdmin=false, isVendor=false, got %v/%v", claims.IsAdmin, claims.IsVendor)
	}
}

func TestIssueReset_Expiry(t *testing.T) {
	m := NewManager("test-secret")

	signed, err := m.IssueReset(7)
	if err != nil {
		t.Fatalf("IssueReset error: %v", err)
	}

	claims, err := m.Parse(signed)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	id, err := claims.UserID()
	if err != nil {
		t.Fatalf("UserID error: %v", err)
	}
	if id != 7 {
		t.Fatalf("UserID = %d, want 7", id)
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl > 3*time.Hour || ttl < 3*time.Hour-time.Minute {
		t.Fatalf("reset token TTL = %v, want ~3h", ttl)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	signed, err := NewManager("secret-one").IssueReset(1)
	if err != nil {
		t.Fatalf("IssueReset error: %v", err)
	}

	_, err = NewManager("secret-two").Parse(signed)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParse_Garbage(t *testing.T) {
	m := NewManager("test-secret")

	if _, err := m.Parse("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
