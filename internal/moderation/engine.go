package moderation

import (
	"context"
	"sort"
	"strings"
	"time"

	"kidgate.dev/internal/audit"
	"kidgate.dev/internal/identity"
	"kidgate.dev/internal/obs"
)

// Reason is the closed taxonomy of moderation reason codes.
type Reason string

const (
	ReasonNone          Reason = "none"
	ReasonCrisis        Reason = "crisis_detected"
	ReasonInappropriate Reason = "inappropriate_content"
	ReasonCopyright     Reason = "copyrighted_content"
	ReasonBlockedTopic  Reason = "blocked_topic"
	ReasonMaturity      Reason = "maturity_level_exceeded"
)

// Verdict is the structured result of one evaluation. FlagReason explains why
// the text was flagged (informational); BlockReason explains why it was
// blocked (enforcement). A message can be flagged without being blocked.
type Verdict struct {
	Score       float64
	Flagged     bool
	Blocked     bool
	FlagReason  Reason
	BlockReason Reason
	CrisisTerms []string
}

// Subject is the moderation view of an identity: its safety configuration
// plus pre-compiled blocked topics.
type Subject struct {
	IdentityID string
	Config     *identity.SafetyConfig
	Topics     []Topic
}

// SubjectFor builds a Subject from an eager-loaded identity, compiling its
// blocked topics once.
func SubjectFor(id *identity.Identity) Subject {
	s := Subject{}
	if id == nil {
		return s
	}
	s.IdentityID = id.ID
	s.Config = id.SafetyConfig
	s.Topics = CompileTopics(id.BlockedTopics)
	return s
}

// Recorder is the audit sink the engine reports crisis hits to.
type Recorder interface {
	Record(ctx context.Context, ev identity.AuditEvent) error
}

const (
	inappropriateIncrement = 0.1
	inappropriateThreshold = 0.3
	copyrightIncrement     = 0.2
	crisisExcerptLimit     = 100
)

// Engine scores message text against the global lists and the subject's
// safety configuration. Evaluation is deterministic and makes no network
// calls; its only side effect is audit logging of crisis hits.
type Engine struct {
	crisisTerms         []string
	inappropriateTerms  []string
	protectedCharacters []string
	recorder            Recorder
	now                 func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs an Engine with the given lists. List entries are
// normalized to lowercase once here.
func NewEngine(lists Lists, recorder Recorder, opts ...EngineOption) *Engine {
	e := &Engine{
		crisisTerms:         lowerAll(lists.CrisisTerms),
		inappropriateTerms:  lowerAll(lists.InappropriateTerms),
		protectedCharacters: lowerAll(lists.ProtectedCharacters),
		recorder:            recorder,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the five moderation checks in order. Later checks only raise
// severity; blocked is sticky once set and the first block reason wins.
func (e *Engine) Evaluate(ctx context.Context, text string, subject Subject) Verdict {
	lower := strings.ToLower(text)
	var v Verdict
	v.FlagReason = ReasonNone
	v.BlockReason = ReasonNone

	// 1. Crisis check. Any hit pins the score to 1.0 and is audit-logged at
	// critical severity regardless of the final blocked/allowed outcome.
	for _, term := range e.crisisTerms {
		if strings.Contains(lower, term) {
			v.CrisisTerms = append(v.CrisisTerms, term)
		}
	}
	if len(v.CrisisTerms) > 0 {
		sort.Strings(v.CrisisTerms)
		v.Score = 1.0
		v.Flagged = true
		v.FlagReason = ReasonCrisis
		e.recordCrisis(ctx, text, subject, v.CrisisTerms)
	}

	// 2. Inappropriate-content scoring: fixed increment per distinct term.
	// Substring match, not word-boundary; over-matching is accepted.
	var partial float64
	for _, term := range e.inappropriateTerms {
		if strings.Contains(lower, term) {
			partial += inappropriateIncrement
		}
	}
	v.Score += partial
	if partial > inappropriateThreshold {
		v.Flagged = true
		if v.FlagReason == ReasonNone {
			v.FlagReason = ReasonInappropriate
		}
	}

	// 3. Copyrighted-character check.
	for _, name := range e.protectedCharacters {
		if strings.Contains(lower, name) {
			v.Score += copyrightIncrement
			v.Flagged = true
			if v.FlagReason == ReasonNone {
				v.FlagReason = ReasonCopyright
			}
			break
		}
	}

	// 4. Per-subject blocked topics override all prior scoring.
	for _, topic := range subject.Topics {
		if topic.matches(lower) {
			v.Blocked = true
			v.BlockReason = ReasonBlockedTopic
			v.Score = 1.0
			break
		}
	}

	// 5. Maturity-tier gate. Only applies when the subject has a config; the
	// high tier never blocks on score alone. Reaching the ceiling blocks, so a
	// single protected-character hit already blocks the low tier. The first
	// block reason wins.
	if subject.Config != nil && !v.Blocked {
		if ceiling, ok := subject.Config.Maturity.ScoreCeiling(); ok && v.Score >= ceiling {
			v.Blocked = true
			v.BlockReason = ReasonMaturity
		}
	}

	if v.Score > 1.0 {
		v.Score = 1.0
	}
	if v.Score < 0 {
		v.Score = 0
	}
	return v
}

// recordCrisis emits the critical audit event for a crisis hit. Crisis
// detection is a safety signal independent of content-policy enforcement, so
// a failure to record it is escalated through the log rather than swallowed.
func (e *Engine) recordCrisis(ctx context.Context, text string, subject Subject, terms []string) {
	if e.recorder == nil {
		return
	}
	excerpt := text
	if len(excerpt) > crisisExcerptLimit {
		excerpt = excerpt[:crisisExcerptLimit]
	}
	ev := identity.AuditEvent{
		IdentityID:  subject.IdentityID,
		Type:        audit.EventCrisisDetected,
		Severity:    identity.SeverityCritical,
		Description: "Potential crisis content detected",
		Metadata: map[string]string{
			"content":           excerpt,
			"detected_keywords": strings.Join(terms, ","),
		},
	}
	if err := e.recorder.Record(ctx, ev); err != nil {
		obs.LogRequest(map[string]any{
			"ts":          e.now().UTC().Format(time.RFC3339Nano),
			"level":       "error",
			"msg":         "crisis_audit_failed",
			"identity_id": subject.IdentityID,
			"error":       err.Error(),
		})
	}
}

func lowerAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
