package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"kidgate.dev/internal/identity"
	"kidgate.dev/internal/ids"
)

// sessionTTL is fixed at issuance; there is no sliding renewal.
const sessionTTL = 24 * time.Hour

// Issuer mints and validates opaque session tokens. Tokens carry 256 bits of
// entropy from crypto/rand; only their sha256 hash is persisted.
type Issuer struct {
	store identity.Store
	now   func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer.
func NewIssuer(store identity.Store, opts ...IssuerOption) *Issuer {
	i := &Issuer{store: store, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IssuedSession pairs the one-time raw token with its stored record.
type IssuedSession struct {
	Token   string
	Session identity.Session
}

// Issue creates a session bound to the identity and device metadata, expiring
// 24 hours from issuance.
func (i *Issuer) Issue(ctx context.Context, identityID string, device identity.DeviceMeta) (IssuedSession, error) {
	if strings.TrimSpace(identityID) == "" {
		return IssuedSession{}, ErrInvalidInput
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return IssuedSession{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := i.now().UTC()
	sess := identity.Session{
		ID:         ids.New(),
		IdentityID: identityID,
		TokenHash:  hashToken(token),
		Device:     device,
		Active:     true,
		CreatedAt:  now,
		ExpiresAt:  now.Add(sessionTTL),
	}
	if err := i.store.Sessions(ctx).Create(ctx, &sess); err != nil {
		return IssuedSession{}, err
	}
	return IssuedSession{Token: token, Session: sess}, nil
}

// Validate resolves a raw token to its identity. Absent, unknown, revoked and
// expired tokens are indistinguishable to the caller.
func (i *Issuer) Validate(ctx context.Context, token string) (*identity.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}
	sess, err := i.store.Sessions(ctx).FindByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !sess.Active || i.now().After(sess.ExpiresAt) {
		return nil, ErrInvalidSession
	}
	subject, err := i.store.Identities(ctx).Find(ctx, sess.IdentityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	return subject, nil
}

// Revoke deactivates the session for the given raw token. Revoking an
// unknown token reports invalid session, same as validation.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidSession
	}
	sess, err := i.store.Sessions(ctx).FindByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrInvalidSession
		}
		return err
	}
	return i.store.Sessions(ctx).Revoke(ctx, sess.ID)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
