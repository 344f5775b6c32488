package chat

import (
	"context"
	"errors"
	"testing"

	"kidgate.dev/internal/audit"
	"kidgate.dev/internal/auth"
	"kidgate.dev/internal/identity"
	"kidgate.dev/internal/moderation"
)

type stubProvider struct {
	reply string
	err   error
	calls int
}

func (p *stubProvider) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	p.calls++
	return p.reply, p.err
}

type turnFixture struct {
	store    *identity.InMemory
	issuer   *auth.Issuer
	provider *stubProvider
	orch     *Orchestrator
}

func newTurnFixture(t *testing.T, opts ...OrchestratorOption) *turnFixture {
	t.Helper()
	store := identity.NewInMemory()
	recorder := audit.NewRecorder(store)
	engine := moderation.NewEngine(moderation.DefaultLists(), recorder)
	issuer := auth.NewIssuer(store)
	provider := &stubProvider{reply: "That sounds like a great question!"}
	return &turnFixture{
		store:    store,
		issuer:   issuer,
		provider: provider,
		orch:     NewOrchestrator(store, engine, issuer, provider, recorder, opts...),
	}
}

func (f *turnFixture) seedMinor(t *testing.T, id string, mutate func(*identity.Identity)) {
	t.Helper()
	rec := &identity.Identity{
		ID:         id,
		Email:      id + "@example.com",
		Name:       "Kid",
		Role:       identity.RoleMinor,
		AgeBracket: identity.Age5To8,
	}
	if mutate != nil {
		mutate(rec)
	}
	if err := f.store.Identities(context.Background()).Create(context.Background(), rec); err != nil {
		t.Fatalf("create identity: %v", err)
	}
}

func (f *turnFixture) sessionFor(t *testing.T, id string) string {
	t.Helper()
	issued, err := f.issuer.Issue(context.Background(), id, identity.DeviceMeta{})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return issued.Token
}

func TestTurnHappyPath(t *testing.T) {
	f := newTurnFixture(t)
	f.seedMinor(t, "kid-1", nil)
	token := f.sessionFor(t, "kid-1")

	result, err := f.orch.Turn(context.Background(), TurnRequest{
		Text:         "Why is the sky blue?",
		SubjectID:    "kid-1",
		SessionToken: token,
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.Blocked {
		t.Fatal("clean turn blocked")
	}
	if result.ResponseText != f.provider.reply {
		t.Fatalf("response = %q", result.ResponseText)
	}
	if result.Mode != ModeGeneral {
		t.Fatalf("mode = %q, want general", result.Mode)
	}

	msgs := f.store.StoredMessages()
	if len(msgs) != 2 {
		t.Fatalf("stored messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != identity.MessageRoleUser || msgs[0].Content != "Why is the sky blue?" {
		t.Fatalf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != identity.MessageRoleAssistant || msgs[1].Source != identity.SourceProvider {
		t.Fatalf("assistant message = %+v", msgs[1])
	}
	if msgs[0].ID != result.UserMessageID || msgs[1].ID != result.ResponseMessageID {
		t.Fatal("result ids do not match stored messages")
	}
}

func TestTurnInvalidInput(t *testing.T) {
	f := newTurnFixture(t, WithAnonymousAccess(true))

	for _, req := range []TurnRequest{
		{Text: "", SubjectID: "kid-1"},
		{Text: "   ", SubjectID: "kid-1"},
		{Text: "hello", SubjectID: ""},
	} {
		if _, err := f.orch.Turn(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("req %+v: err = %v, want ErrInvalidInput", req, err)
		}
	}
}

func TestTurnUnknownSubject(t *testing.T) {
	f := newTurnFixture(t, WithAnonymousAccess(true))
	_, err := f.orch.Turn(context.Background(), TurnRequest{Text: "hello", SubjectID: "ghost"})
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("err = %v, want identity.ErrNotFound", err)
	}
}

func TestTurnRequiresSessionByDefault(t *testing.T) {
	f := newTurnFixture(t)
	f.seedMinor(t, "kid-1", nil)

	_, err := f.orch.Turn(context.Background(), TurnRequest{Text: "hello", SubjectID: "kid-1"})
	if !errors.Is(err, auth.ErrInvalidSession) {
		t.Fatalf("err = %v, want auth.ErrInvalidSession", err)
	}
	if f.provider.calls != 0 {
		t.Fatal("provider called without a session")
	}
}

func TestTurnAnonymousRefusedWhenPINRequired(t *testing.T) {
	f := newTurnFixture(t, WithAnonymousAccess(true))
	f.seedMinor(t, "kid-1", nil)
	cfg := identity.DefaultSafetyConfig("kid-1")
	if err := f.store.SafetyConfigs(context.Background()).Upsert(context.Background(), cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}

	// The deployment allows anonymous turns, but this subject's settings
	// require a PIN-backed session.
	_, err := f.orch.Turn(context.Background(), TurnRequest{Text: "hello", SubjectID: "kid-1"})
	if !errors.Is(err, auth.ErrInvalidSession) {
		t.Fatalf("err = %v, want auth.ErrInvalidSession", err)
	}
}

func TestTurnRejectsForeignSession(t *testing.T) {
	f := newTurnFixture(t)
	f.seedMinor(t, "kid-1", nil)
	f.seedMinor(t, "kid-2", nil)
	token := f.sessionFor(t, "kid-2")

	_, err := f.orch.Turn(context.Background(), TurnRequest{
		Text:         "hello",
		SubjectID:    "kid-1",
		SessionToken: token,
	})
	if !errors.Is(err, auth.ErrInvalidSession) {
		t.Fatalf("err = %v, want auth.ErrInvalidSession", err)
	}
}

func TestTurnBlockedTopicAbortsBeforeProvider(t *testing.T) {
	f := newTurnFixture(t, WithAnonymousAccess(true))
	f.seedMinor(t, "kid-1", nil)
	if err := f.store.Identities(context.Background()).AddBlockedTopic(context.Background(), &identity.BlockedTopic{
		ID:         "t-1",
		IdentityID: "kid-1",
		Keyword:    "dinosaurs",
	}); err != nil {
		t.Fatalf("add topic: %v", err)
	}

	result, err := f.orch.Turn(context.Background(), TurnRequest{
		Text:      "Tell me about dinosaurs",
		SubjectID: "kid-1",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if !result.Blocked {
		t.Fatal("blocked topic not enforced")
	}
	if result.BlockReason != moderation.ReasonBlockedTopic {
		t.Fatalf("block reason = %q", result.BlockReason)
	}
	if result.Score != 1.0 {
		t.Fatalf("score = %v, want 1.0", result.Score)
	}
	if f.provider.calls != 0 {
		t.Fatal("provider called for a blocked turn")
	}
	if got := len(f.store.StoredMessages()); got != 0 {
		t.Fatalf("blocked turn persisted %d messages", got)
	}
}

func TestTurnCrisisPassesThroughWithAudit(t *testing.T) {
	f := newTurnFixture(t, WithAnonymousAccess(true))
	f.seedMinor(t, "kid-1", nil)

	result, err := f.orch.Turn(context.Background(), TurnRequest{
		Text:      "I feel depressed today",
		SubjectID: "kid-1",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.Blocked {
		t.Fatal("crisis turn blocked without a maturity ceiling")
	}
	if f.provider.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", f.provider.calls)
	}

	msgs := f.store.StoredMessages()
	if len(msgs) != 2 {
		t.Fatalf("stored messages = %d", len(msgs))
	}
	if !msgs[0].Flagged || msgs[0].FlagReason != string(moderation.ReasonCrisis) || msgs[0].Score != 1.0 {
		t.Fatalf("user message verdict = %+v", msgs[0])
	}

	var crisisEvents int
	for _, ev := range f.store.Events() {
		if ev.Type == audit.EventCrisisDetected && ev.Severity == identity.SeverityCritical {
			crisisEvents++
		}
	}
	if crisisEvents == 0 {
		t.Fatal("no crisis audit event recorded")
	}
}

func TestTurnMaturityBlock(t *testing.T) {
	f := newTurnFixture(t, WithAnonymousAccess(true))
	f.seedMinor(t, "kid-1", nil)
	cfg := identity.DefaultSafetyConfig("kid-1")
	cfg.Maturity = identity.MaturityLow
	cfg.RequirePIN = false
	if err := f.store.SafetyConfigs(context.Background()).Upsert(context.Background(), cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}

	result, err := f.orch.Turn(context.Background(), TurnRequest{
		Text:      "violence drugs weapons bullying",
		SubjectID: "kid-1",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if !result.Blocked || result.BlockReason != moderation.ReasonMaturity {
		t.Fatalf("result = %+v, want maturity block", result)
	}
	if f.provider.calls != 0 {
		t.Fatal("provider called for a blocked turn")
	}
}

func TestTurnCopyrightBlocksLowTierBeforeProvider(t *testing.T) {
	f := newTurnFixture(t, WithAnonymousAccess(true))
	f.seedMinor(t, "kid-1", nil)
	cfg := identity.DefaultSafetyConfig("kid-1")
	cfg.Maturity = identity.MaturityLow
	cfg.RequirePIN = false
	if err := f.store.SafetyConfigs(context.Background()).Upsert(context.Background(), cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}

	result, err := f.orch.Turn(context.Background(), TurnRequest{
		Text:      "Tell me a story about mickey mouse",
		SubjectID: "kid-1",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if !result.Blocked || result.BlockReason != moderation.ReasonMaturity {
		t.Fatalf("result = %+v, want maturity block", result)
	}
	if result.Verdict.FlagReason != moderation.ReasonCopyright {
		t.Fatalf("flag reason = %q, want copyright", result.Verdict.FlagReason)
	}
	if f.provider.calls != 0 {
		t.Fatal("provider called for a blocked turn")
	}
}

func TestTurnProviderFailureFallsBack(t *testing.T) {
	f := newTurnFixture(t, WithAnonymousAccess(true))
	f.seedMinor(t, "kid-1", nil)
	f.provider.err = errors.New("upstream unavailable")

	result, err := f.orch.Turn(context.Background(), TurnRequest{
		Text:      "Why is the sky blue?",
		SubjectID: "kid-1",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.ResponseText != fallbackReply {
		t.Fatalf("response = %q, want fallback", result.ResponseText)
	}

	msgs := f.store.StoredMessages()
	if len(msgs) != 2 {
		t.Fatalf("stored messages = %d", len(msgs))
	}
	if msgs[1].Source != identity.SourceFallback {
		t.Fatalf("assistant source = %q, want fallback", msgs[1].Source)
	}
	if msgs[1].Content != fallbackReply {
		t.Fatalf("assistant content = %q", msgs[1].Content)
	}
}

func TestTurnEmptyCompletionFallsBack(t *testing.T) {
	f := newTurnFixture(t, WithAnonymousAccess(true))
	f.seedMinor(t, "kid-1", nil)
	f.provider.reply = "   "

	result, err := f.orch.Turn(context.Background(), TurnRequest{
		Text:      "Why is the sky blue?",
		SubjectID: "kid-1",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.ResponseText != fallbackReply {
		t.Fatalf("response = %q, want fallback", result.ResponseText)
	}
}

func TestTurnOutboundSuppression(t *testing.T) {
	f := newTurnFixture(t, WithAnonymousAccess(true))
	f.seedMinor(t, "kid-1", nil)
	if err := f.store.Identities(context.Background()).AddBlockedTopic(context.Background(), &identity.BlockedTopic{
		ID:         "t-1",
		IdentityID: "kid-1",
		Keyword:    "volcanoes",
	}); err != nil {
		t.Fatalf("add topic: %v", err)
	}
	f.provider.reply = "Volcanoes are mountains that erupt!"

	result, err := f.orch.Turn(context.Background(), TurnRequest{
		Text:      "Tell me something cool",
		SubjectID: "kid-1",
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	// The turn itself succeeds; only delivery is substituted.
	if result.Blocked {
		t.Fatal("outbound suppression reported as inbound block")
	}
	if result.ResponseText != suppressedReply {
		t.Fatalf("delivered = %q, want suppressed reply", result.ResponseText)
	}
	if !result.Verdict.Blocked || result.Verdict.BlockReason != moderation.ReasonBlockedTopic {
		t.Fatalf("outbound verdict = %+v", result.Verdict)
	}

	// The original provider content is persisted with its verdict.
	msgs := f.store.StoredMessages()
	if len(msgs) != 2 {
		t.Fatalf("stored messages = %d", len(msgs))
	}
	if msgs[1].Content != "Volcanoes are mountains that erupt!" {
		t.Fatalf("persisted assistant content = %q", msgs[1].Content)
	}
}
