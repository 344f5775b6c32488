package identity

import "time"

// Role distinguishes guardians from the minors they supervise.
type Role string

const (
	RoleGuardian Role = "guardian"
	RoleMinor    Role = "minor"
)

// AgeBracket is the self-declared age group of a minor. Empty means unknown.
type AgeBracket string

const (
	AgeUnder5  AgeBracket = "under_5"
	Age5To8    AgeBracket = "5_8"
	Age9To12   AgeBracket = "9_12"
	Age13To17  AgeBracket = "13_17"
	AgeUnknown AgeBracket = ""
)

// MaturityTier is the guardian-configured sensitivity ceiling. Ordered:
// low < medium < high.
type MaturityTier string

const (
	MaturityLow    MaturityTier = "low"
	MaturityMedium MaturityTier = "medium"
	MaturityHigh   MaturityTier = "high"
)

// ScoreCeiling returns the cumulative risk score at which the tier blocks.
// ok is false for the high tier, which never blocks on score alone.
func (m MaturityTier) ScoreCeiling() (ceiling float64, ok bool) {
	switch m {
	case MaturityLow:
		return 0.2, true
	case MaturityMedium:
		return 0.5, true
	default:
		return 0, false
	}
}

// Identity is a guardian or minor account. SafetyConfig and BlockedTopics are
// eager-loaded by IdentityStore.Find.
type Identity struct {
	ID           string
	Email        string
	Name         string
	Role         Role
	AgeBracket   AgeBracket
	PasswordHash string
	PINHash      string // empty when no PIN is configured
	GuardianID   string // back-reference to at most one guardian, no ownership
	CreatedAt    time.Time
	UpdatedAt    time.Time

	SafetyConfig  *SafetyConfig
	BlockedTopics []BlockedTopic
}

// TimeWindow restricts usage to a daily interval, "HH:MM" wall-clock bounds.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SafetyConfig holds the guardian-managed safety settings for one identity.
// Absence of a record means all defaults; records are created lazily on the
// first settings update.
type SafetyConfig struct {
	IdentityID          string
	Maturity            MaturityTier
	RequirePIN          bool
	CrisisDetection     bool
	WeeklyDigest        bool
	SessionLimitMinutes int // 0 means no ceiling
	TimeRestrictions    []TimeWindow
	BlockedCategories   []string
	UpdatedAt           time.Time
}

// DefaultSafetyConfig returns the settings assumed when no record exists.
func DefaultSafetyConfig(identityID string) *SafetyConfig {
	return &SafetyConfig{
		IdentityID:      identityID,
		Maturity:        MaturityMedium,
		RequirePIN:      true,
		CrisisDetection: true,
		WeeklyDigest:    true,
	}
}

// BlockedTopic is a per-identity keyword or regular-expression pattern that
// always blocks a matching message. Patterns are evaluated case-insensitively;
// an invalid pattern is treated as non-matching.
type BlockedTopic struct {
	ID         string
	IdentityID string
	Keyword    string
	IsPattern  bool
	CreatedAt  time.Time
}

// DeviceMeta captures the caller's device and network origin at session
// issuance.
type DeviceMeta struct {
	UserAgent string
	Platform  string
	IP        string
}

// Session is an ephemeral authentication record. Only the sha256 hash of the
// opaque token is stored; the raw token is returned once at issuance.
type Session struct {
	ID         string
	IdentityID string
	TokenHash  string
	Device     DeviceMeta
	Active     bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// MessageRole identifies the author of a stored chat message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// MessageSource marks where assistant content came from, so a locally
// substituted fallback is never mistaken for provider output.
type MessageSource string

const (
	SourceProvider MessageSource = "provider"
	SourceFallback MessageSource = "fallback"
)

// Message is one persisted chat message with its moderation metadata.
type Message struct {
	ID         string
	IdentityID string
	Role       MessageRole
	Content    string
	Mode       string
	Flagged    bool
	FlagReason string
	Score      float64
	Source     MessageSource // set for assistant messages only
	CreatedAt  time.Time
}

// Severity tiers for audit events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityCritical Severity = "critical"
)

// AuditEvent is an append-only security record. Never updated or deleted.
type AuditEvent struct {
	ID          string
	IdentityID  string // empty when the subject could not be resolved
	Type        string
	Severity    Severity
	Description string
	Metadata    map[string]string
	OccurredAt  time.Time
}

// ValidateGuardianLink enforces the dependency invariant: an identity linked
// to a guardian must be a minor, and the guardian itself must not have a
// guardian of its own.
func ValidateGuardianLink(child *Identity, guardian *Identity) error {
	if child.GuardianID == "" {
		return nil
	}
	if child.Role != RoleMinor {
		return ErrInvalidInput
	}
	if guardian == nil || guardian.ID != child.GuardianID {
		return ErrNotFound
	}
	if guardian.GuardianID != "" {
		return ErrInvalidInput
	}
	return nil
}
