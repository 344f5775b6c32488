package audit

import (
	"context"
	"time"

	"kidgate.dev/internal/identity"
	"kidgate.dev/internal/ids"
	"kidgate.dev/internal/obs"
)

// Event type labels used across the service.
const (
	EventPINValidationFailed  = "pin_validation_failed"
	EventPINValidationSuccess = "pin_validation_success"
	EventCrisisDetected       = "crisis_detected"
	EventSafetyConfigUpdated  = "safety_config_updated"
	EventSessionRevoked       = "session_revoked"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so recorded
// events can be correlated with HTTP logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder appends audit events and mirrors them to the structured log.
// Recording is fire-and-forget relative to the caller's main path: callers
// log-and-continue on error, with the one exception of crisis detection,
// which escalates (see moderation.Engine).
type Recorder struct {
	store identity.Store
	now   func() time.Time
}

// Option configures Recorder behavior.
type Option func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store identity.Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record fills in the event id and timestamp, appends the event to the store
// and emits a matching JSON log line. The returned error is informational;
// non-safety-critical callers are expected to ignore it.
func (r *Recorder) Record(ctx context.Context, ev identity.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}

	entry := map[string]any{
		"ts":       ev.OccurredAt.Format(time.RFC3339Nano),
		"type":     "audit",
		"event":    ev.Type,
		"severity": string(ev.Severity),
	}
	if ev.IdentityID != "" {
		entry["identity_id"] = ev.IdentityID
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if len(ev.Metadata) > 0 {
		fields := make(map[string]any, len(ev.Metadata))
		for k, v := range ev.Metadata {
			fields[k] = v
		}
		entry["fields"] = fields
	}
	obs.LogRequest(entry)

	if err := r.store.Audit(ctx).Append(ctx, &ev); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    r.now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "audit_append_failed",
			"event": ev.Type,
		})
		return err
	}
	return nil
}
