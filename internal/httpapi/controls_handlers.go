package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"kidgate.dev/internal/audit"
	"kidgate.dev/internal/identity"
)

type controlsPayload struct {
	SubjectID           string                `json:"subject_id"`
	Maturity            string                `json:"maturity"`
	RequirePIN          *bool                 `json:"require_pin,omitempty"`
	CrisisDetection     *bool                 `json:"crisis_detection,omitempty"`
	WeeklyDigest        *bool                 `json:"weekly_digest,omitempty"`
	SessionLimitMinutes int                   `json:"session_limit_minutes,omitempty"`
	TimeRestrictions    []identity.TimeWindow `json:"time_restrictions,omitempty"`
	BlockedCategories   []string              `json:"blocked_categories,omitempty"`
}

func (a *API) handleControls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.getControls(w, r)
	case http.MethodPut:
		a.updateControls(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) getControls(w http.ResponseWriter, r *http.Request) {
	subjectID := strings.TrimSpace(r.URL.Query().Get("subject_id"))
	if subjectID == "" {
		writeError(w, r, http.StatusBadRequest, "subject_id query parameter is required")
		return
	}

	cfg, err := a.store.SafetyConfigs(r.Context()).Find(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Absence means defaults; report them instead of 404 so clients
			// need no special case.
			cfg = identity.DefaultSafetyConfig(subjectID)
		} else {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
	}
	writeJSON(w, http.StatusOK, toControlsPayload(cfg))
}

// updateControls is the single mutation path for SafetyConfig. Upsert
// semantics: the record is created lazily on first write.
func (a *API) updateControls(w http.ResponseWriter, r *http.Request) {
	var req controlsPayload
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		writeError(w, r, http.StatusBadRequest, "subject_id is required")
		return
	}

	cfg := identity.DefaultSafetyConfig(req.SubjectID)
	if existing, err := a.store.SafetyConfigs(r.Context()).Find(r.Context(), req.SubjectID); err == nil {
		cfg = existing
	}

	if req.Maturity != "" {
		tier := identity.MaturityTier(req.Maturity)
		switch tier {
		case identity.MaturityLow, identity.MaturityMedium, identity.MaturityHigh:
			cfg.Maturity = tier
		default:
			writeError(w, r, http.StatusBadRequest, "maturity must be one of low, medium, high")
			return
		}
	}
	if req.RequirePIN != nil {
		cfg.RequirePIN = *req.RequirePIN
	}
	if req.CrisisDetection != nil {
		cfg.CrisisDetection = *req.CrisisDetection
	}
	if req.WeeklyDigest != nil {
		cfg.WeeklyDigest = *req.WeeklyDigest
	}
	if req.SessionLimitMinutes < 0 {
		writeError(w, r, http.StatusBadRequest, "session_limit_minutes must be >= 0")
		return
	}
	if req.SessionLimitMinutes > 0 {
		cfg.SessionLimitMinutes = req.SessionLimitMinutes
	}
	if req.TimeRestrictions != nil {
		cfg.TimeRestrictions = req.TimeRestrictions
	}
	if req.BlockedCategories != nil {
		cfg.BlockedCategories = req.BlockedCategories
	}

	if err := a.store.SafetyConfigs(r.Context()).Upsert(r.Context(), cfg); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "subject not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = a.rec.Record(r.Context(), identity.AuditEvent{
		IdentityID:  req.SubjectID,
		Type:        audit.EventSafetyConfigUpdated,
		Severity:    identity.SeverityLow,
		Description: "Parental control settings updated",
		Metadata: map[string]string{
			"maturity":    string(cfg.Maturity),
			"require_pin": strconv.FormatBool(cfg.RequirePIN),
		},
	})

	writeJSON(w, http.StatusOK, toControlsPayload(cfg))
}

func toControlsPayload(cfg *identity.SafetyConfig) controlsPayload {
	requirePIN := cfg.RequirePIN
	crisis := cfg.CrisisDetection
	digest := cfg.WeeklyDigest
	return controlsPayload{
		SubjectID:           cfg.IdentityID,
		Maturity:            string(cfg.Maturity),
		RequirePIN:          &requirePIN,
		CrisisDetection:     &crisis,
		WeeklyDigest:        &digest,
		SessionLimitMinutes: cfg.SessionLimitMinutes,
		TimeRestrictions:    cfg.TimeRestrictions,
		BlockedCategories:   cfg.BlockedCategories,
	}
}
