package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"kidgate.dev/internal/audit"
	"kidgate.dev/internal/identity"
)

// Verifier checks submitted PINs against stored hashes. Every call emits
// exactly one audit event; the caller only ever sees ErrInvalidCredential on
// failure, never which part of the check failed.
type Verifier struct {
	store    identity.Store
	recorder *audit.Recorder
	now      func() time.Time
}

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides the time source (useful for tests).
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier constructs a Verifier.
func NewVerifier(store identity.Store, recorder *audit.Recorder, opts ...VerifierOption) *Verifier {
	v := &Verifier{store: store, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyPIN resolves the identity by email or id and compares the submitted
// PIN against its stored hash. Unknown identity, missing PIN and mismatch all
// cost one bcrypt comparison and all return ErrInvalidCredential.
func (v *Verifier) VerifyPIN(ctx context.Context, identifier, pin, origin string) (*identity.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || pin == "" {
		return nil, ErrInvalidCredential
	}

	subject, err := v.resolve(ctx, identifier)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}

	hash := dummyHash
	known := subject != nil && subject.PINHash != ""
	if known {
		hash = subject.PINHash
	}

	compareErr := VerifySecret(hash, pin)
	if !known || compareErr != nil {
		v.record(ctx, subject, audit.EventPINValidationFailed, identity.SeverityMedium,
			"Failed PIN validation attempt", origin)
		return nil, ErrInvalidCredential
	}

	v.record(ctx, subject, audit.EventPINValidationSuccess, identity.SeverityLow,
		"Successful PIN validation", origin)
	return subject, nil
}

func (v *Verifier) resolve(ctx context.Context, identifier string) (*identity.Identity, error) {
	idents := v.store.Identities(ctx)
	if strings.Contains(identifier, "@") {
		return idents.FindByEmail(ctx, identifier)
	}
	subject, err := idents.Find(ctx, identifier)
	if errors.Is(err, identity.ErrNotFound) {
		return idents.FindByEmail(ctx, identifier)
	}
	return subject, err
}

// record emits the per-call audit event. The attempt timestamp is truncated
// to the minute so the event cannot be correlated back to a precise keystroke;
// the secret itself is never logged.
func (v *Verifier) record(ctx context.Context, subject *identity.Identity, eventType string, severity identity.Severity, description, origin string) {
	var identityID string
	if subject != nil {
		identityID = subject.ID
	}
	if origin == "" {
		origin = "unknown"
	}
	_ = v.recorder.Record(ctx, identity.AuditEvent{
		IdentityID:  identityID,
		Type:        eventType,
		Severity:    severity,
		Description: description,
		Metadata: map[string]string{
			"attempt_time": v.now().UTC().Truncate(time.Minute).Format(time.RFC3339),
			"ip_address":   origin,
		},
	})
}
