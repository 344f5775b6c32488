package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"kidgate.dev/internal/identity"
)

func TestIssueAndValidate(t *testing.T) {
	store := identity.NewInMemory()
	seedIdentity(t, store, "g-1", "parent@example.com", "4321")
	issuer := NewIssuer(store)

	issued, err := issuer.Issue(context.Background(), "g-1", identity.DeviceMeta{
		UserAgent: "test-agent",
		IP:        "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.Token == "" {
		t.Fatal("empty token")
	}
	if issued.Session.TokenHash == issued.Token {
		t.Fatal("raw token stored instead of hash")
	}
	if got := issued.Session.ExpiresAt.Sub(issued.Session.CreatedAt); got != 24*time.Hour {
		t.Fatalf("ttl = %v, want 24h", got)
	}

	subject, err := issuer.Validate(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if subject.ID != "g-1" {
		t.Fatalf("subject = %q", subject.ID)
	}
}

func TestIssueTokensUnique(t *testing.T) {
	store := identity.NewInMemory()
	seedIdentity(t, store, "g-1", "parent@example.com", "4321")
	issuer := NewIssuer(store)

	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		issued, err := issuer.Issue(context.Background(), "g-1", identity.DeviceMeta{})
		if err != nil {
			t.Fatalf("Issue %d: %v", i, err)
		}
		if seen[issued.Token] {
			t.Fatalf("duplicate token after %d issues", i)
		}
		seen[issued.Token] = true
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	store := identity.NewInMemory()
	issuer := NewIssuer(store)

	for _, token := range []string{"", "   ", "not-a-real-token"} {
		if _, err := issuer.Validate(context.Background(), token); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("token %q: err = %v, want ErrInvalidSession", token, err)
		}
	}
}

func TestValidateExpiryBoundary(t *testing.T) {
	store := identity.NewInMemory()
	seedIdentity(t, store, "g-1", "parent@example.com", "4321")

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	issuer := NewIssuer(store, WithIssuerClock(func() time.Time { return current }))

	issued, err := issuer.Issue(context.Background(), "g-1", identity.DeviceMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	current = base.Add(24*time.Hour - time.Second)
	if _, err := issuer.Validate(context.Background(), issued.Token); err != nil {
		t.Fatalf("valid just before expiry: %v", err)
	}

	current = base.Add(24*time.Hour + time.Second)
	if _, err := issuer.Validate(context.Background(), issued.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("after expiry: err = %v, want ErrInvalidSession", err)
	}
}

func TestRevoke(t *testing.T) {
	store := identity.NewInMemory()
	seedIdentity(t, store, "g-1", "parent@example.com", "4321")
	issuer := NewIssuer(store)

	issued, err := issuer.Issue(context.Background(), "g-1", identity.DeviceMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Revoke(context.Background(), issued.Token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := issuer.Validate(context.Background(), issued.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("revoked token validated: err = %v", err)
	}

	// Revoking an unknown token reports the same error as validation.
	if err := issuer.Revoke(context.Background(), "never-issued"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("unknown revoke: err = %v", err)
	}
}
