package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kidgate.dev/internal/audit"
	"kidgate.dev/internal/auth"
	"kidgate.dev/internal/identity"
	"kidgate.dev/internal/ids"
	"kidgate.dev/internal/moderation"
	"kidgate.dev/internal/obs"
)

// ErrInvalidInput marks malformed turn requests (missing text or subject).
var ErrInvalidInput = errors.New("chat: invalid input")

// fallbackReply replaces provider output when the completion call fails or
// times out. Never persisted as provider content.
const fallbackReply = "I'm having trouble connecting to my AI brain right now. Please try again later!"

// suppressedReply is delivered instead of assistant content that outbound
// moderation blocked. The original content is still persisted with its
// verdict.
const suppressedReply = "Let's talk about something else! What would you like to explore together?"

const defaultProviderTimeout = 30 * time.Second

// Provider is the upstream completion collaborator.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)
}

// TurnRequest is one inbound chat invocation.
type TurnRequest struct {
	Text         string
	SubjectID    string
	Mode         Mode
	SessionToken string
}

// TurnResult is the outcome of one turn. Blocked results are ordinary values,
// not errors: a policy block is an expected, user-facing outcome.
type TurnResult struct {
	ResponseText      string
	ResponseMessageID string
	UserMessageID     string
	Verdict           moderation.Verdict
	Blocked           bool
	BlockReason       moderation.Reason
	Score             float64
	Mode              Mode
}

// Orchestrator sequences one turn: authenticate, moderate inbound, request a
// completion, moderate outbound, persist. Each turn is stateless and
// independent; two turns from the same subject may run concurrently.
type Orchestrator struct {
	store           identity.Store
	engine          *moderation.Engine
	sessions        *auth.Issuer
	provider        Provider
	recorder        *audit.Recorder
	providerTimeout time.Duration
	allowAnonymous  bool
	now             func() time.Time
}

// OrchestratorOption configures Orchestrator behavior.
type OrchestratorOption func(*Orchestrator)

// WithProviderTimeout bounds the completion call. On expiry the turn resolves
// to the fallback reply instead of hanging.
func WithProviderTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.providerTimeout = d
		}
	}
}

// WithAnonymousAccess permits turns without a session token (demo use). This
// is an explicit deployment decision, disabled by default. A subject whose
// stored settings require a PIN is still refused anonymous turns.
func WithAnonymousAccess(allowed bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.allowAnonymous = allowed
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

// NewOrchestrator wires the turn pipeline.
func NewOrchestrator(store identity.Store, engine *moderation.Engine, sessions *auth.Issuer, provider Provider, recorder *audit.Recorder, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:           store,
		engine:          engine,
		sessions:        sessions,
		provider:        provider,
		recorder:        recorder,
		providerTimeout: defaultProviderTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Turn processes one exchange. Error mapping: ErrInvalidInput for malformed
// requests, identity.ErrNotFound for unknown subjects, auth.ErrInvalidSession
// for failed authentication; persistence failures are fatal to the turn and
// surface as wrapped store errors. Provider failures never surface: they are
// recovered with the fallback reply.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" || strings.TrimSpace(req.SubjectID) == "" {
		return TurnResult{}, ErrInvalidInput
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeGeneral
	}

	subject, err := o.store.Identities(ctx).Find(ctx, req.SubjectID)
	if err != nil {
		return TurnResult{}, err
	}

	if req.SessionToken != "" {
		owner, err := o.sessions.Validate(ctx, req.SessionToken)
		if err != nil {
			return TurnResult{}, err
		}
		if owner.ID != subject.ID {
			return TurnResult{}, auth.ErrInvalidSession
		}
	} else if !o.allowAnonymous || (subject.SafetyConfig != nil && subject.SafetyConfig.RequirePIN) {
		return TurnResult{}, auth.ErrInvalidSession
	}

	// Blocked topics compile once here; both evaluations reuse them.
	modSubject := moderation.SubjectFor(subject)

	inbound := o.engine.Evaluate(ctx, text, modSubject)
	obs.ObserveVerdict(string(reasonOf(inbound)), inbound.Blocked)
	if inbound.Blocked {
		obs.ObserveTurn("blocked_inbound")
		// The rejected text is not persisted; crisis hits were already
		// audit-logged by the engine.
		return TurnResult{
			Blocked:     true,
			BlockReason: inbound.BlockReason,
			Score:       inbound.Score,
			Verdict:     inbound,
			Mode:        mode,
		}, nil
	}

	userMsg := identity.Message{
		ID:         ids.New(),
		IdentityID: subject.ID,
		Role:       identity.MessageRoleUser,
		Content:    text,
		Mode:       string(mode),
		Flagged:    inbound.Flagged,
		FlagReason: string(inbound.FlagReason),
		Score:      inbound.Score,
		CreatedAt:  o.now().UTC(),
	}
	if err := o.store.Messages(ctx).Append(ctx, &userMsg); err != nil {
		return TurnResult{}, fmt.Errorf("store user message: %w", err)
	}

	responseText, source := o.complete(ctx, mode, subject, text)

	outbound := o.engine.Evaluate(ctx, responseText, modSubject)
	obs.ObserveVerdict(string(reasonOf(outbound)), outbound.Blocked)

	assistantMsg := identity.Message{
		ID:         ids.New(),
		IdentityID: subject.ID,
		Role:       identity.MessageRoleAssistant,
		Content:    responseText,
		Mode:       string(mode),
		Flagged:    outbound.Flagged,
		FlagReason: string(outbound.FlagReason),
		Score:      outbound.Score,
		Source:     source,
		CreatedAt:  o.now().UTC(),
	}
	if err := o.store.Messages(ctx).Append(ctx, &assistantMsg); err != nil {
		return TurnResult{}, fmt.Errorf("store assistant message: %w", err)
	}

	delivered := responseText
	if outbound.Blocked {
		delivered = suppressedReply
		obs.ObserveTurn("suppressed_outbound")
	} else {
		obs.ObserveTurn("completed")
	}

	return TurnResult{
		ResponseText:      delivered,
		ResponseMessageID: assistantMsg.ID,
		UserMessageID:     userMsg.ID,
		Verdict:           outbound,
		Mode:              mode,
	}, nil
}

// complete requests a completion within the configured timeout, substituting
// the fixed fallback reply on any provider failure.
func (o *Orchestrator) complete(ctx context.Context, mode Mode, subject *identity.Identity, text string) (string, identity.MessageSource) {
	cctx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()

	reply, err := o.provider.Complete(cctx, SystemPrompt(mode, subject), text)
	if err != nil || strings.TrimSpace(reply) == "" {
		obs.ObserveFallback()
		msg := "empty completion"
		if err != nil {
			msg = err.Error()
		}
		obs.LogRequest(map[string]any{
			"ts":          o.now().UTC().Format(time.RFC3339Nano),
			"level":       "warn",
			"msg":         "completion_fallback",
			"identity_id": subject.ID,
			"error":       msg,
		})
		return fallbackReply, identity.SourceFallback
	}
	return reply, identity.SourceProvider
}

// reasonOf picks the reason to report in metrics: the enforcement reason when
// blocked, otherwise the informational flag reason.
func reasonOf(v moderation.Verdict) moderation.Reason {
	if v.Blocked {
		return v.BlockReason
	}
	return v.FlagReason
}
