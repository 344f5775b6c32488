package identity

import "context"

// Store describes the persistence operations required by the safety core.
// Each operation is assumed atomic at the single-record level; the core never
// holds a transaction across a moderation computation.
type Store interface {
	Identities(ctx context.Context) IdentityStore
	Sessions(ctx context.Context) SessionStore
	Messages(ctx context.Context) MessageStore
	SafetyConfigs(ctx context.Context) SafetyConfigStore
	Audit(ctx context.Context) AuditStore
}

// IdentityStore manages accounts and their blocked topics.
type IdentityStore interface {
	Create(ctx context.Context, id *Identity) error
	// Find eager-loads SafetyConfig and BlockedTopics.
	Find(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	AddBlockedTopic(ctx context.Context, topic *BlockedTopic) error
}

// SessionStore manages the session lifecycle: create, look up, revoke.
// Sessions are never otherwise mutated.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByTokenHash(ctx context.Context, hash string) (*Session, error)
	Revoke(ctx context.Context, id string) error
}

// MessageStore appends chat messages.
type MessageStore interface {
	Append(ctx context.Context, m *Message) error
}

// SafetyConfigStore reads and upserts guardian settings.
type SafetyConfigStore interface {
	Find(ctx context.Context, identityID string) (*SafetyConfig, error)
	Upsert(ctx context.Context, cfg *SafetyConfig) error
}

// AuditStore appends immutable audit events.
type AuditStore interface {
	Append(ctx context.Context, ev *AuditEvent) error
}
