package token

import (
	"errors"
	"testing"
	"time"
)

func TestIssueVerifyRoundtrip(t *testing.T) {
	m := NewManager("test_secret", time.Hour)

	tok, err := m.Issue("u1", "trainer", "Anna")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.Role != "trainer" || claims.Name != "Anna" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("token must carry a jti")
	}
}

func TestVerifyExpired(t *testing.T) {
	m := NewManager("test_secret", -time.Minute)

	tok, err := m.Issue("u1", "student", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, err := NewManager("secret_a", time.Hour).Issue("u1", "student", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewManager("secret_b", time.Hour).Verify(tok); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	m := NewManager("test_secret", time.Hour)
	for _, tok := range []string{"", "not.a.jwt", "aaaa.bbbb.cccc"} {
		if _, err := m.Verify(tok); !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: expected ErrMalformed, got %v", tok, err)
		}
	}
}

func TestRemainingTTL(t *testing.T) {
	m := NewManager("test_secret", time.Hour)
	tok, err := m.Issue("u1", "student", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	left := m.RemainingTTL(claims)
	if left <= 59*time.Minute || left > time.Hour {
		t.Fatalf("unexpected remaining ttl: %v", left)
	}
}
