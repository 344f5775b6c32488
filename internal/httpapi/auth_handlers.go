package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"kidgate.dev/internal/auth"
	"kidgate.dev/internal/identity"
	"kidgate.dev/internal/ids"
)

type pinRequest struct {
	Identifier string `json:"identifier"`
	PIN        string `json:"pin"`
}

type identityPayload struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	AgeBracket string `json:"age_bracket,omitempty"`
}

type pinResponse struct {
	OK           bool            `json:"ok"`
	SessionToken string          `json:"session_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Identity     identityPayload `json:"identity"`
}

func (a *API) handlePIN(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req pinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.PIN == "" {
		writeError(w, r, http.StatusBadRequest, "identifier and pin are required")
		return
	}

	subject, err := a.verifier.VerifyPIN(r.Context(), req.Identifier, req.PIN, clientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			writeError(w, r, http.StatusUnauthorized, "invalid credential")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	issued, err := a.issuer.Issue(r.Context(), subject.ID, identity.DeviceMeta{
		UserAgent: r.Header.Get("User-Agent"),
		Platform:  r.Header.Get("Sec-CH-UA-Platform"),
		IP:        clientIP(r),
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, pinResponse{
		OK:           true,
		SessionToken: issued.Token,
		ExpiresAt:    issued.Session.ExpiresAt,
		Identity: identityPayload{
			ID:         subject.ID,
			Email:      subject.Email,
			Name:       subject.Name,
			Role:       string(subject.Role),
			AgeBracket: string(subject.AgeBracket),
		},
	})
}

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	AgeBracket string `json:"age_bracket"`
	GuardianID string `json:"guardian_id"`
	PIN        string `json:"pin"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "email, password and name are required")
		return
	}

	role := identity.RoleMinor
	if req.Role != "" {
		role = identity.Role(req.Role)
		if role != identity.RoleGuardian && role != identity.RoleMinor {
			writeError(w, r, http.StatusBadRequest, "role must be guardian or minor")
			return
		}
	}
	bracket := identity.AgeBracket(req.AgeBracket)
	switch bracket {
	case identity.AgeUnknown, identity.AgeUnder5, identity.Age5To8, identity.Age9To12, identity.Age13To17:
	default:
		writeError(w, r, http.StatusBadRequest, "unknown age_bracket")
		return
	}

	passwordHash, err := auth.HashSecret(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	var pinHash string
	if req.PIN != "" {
		pinHash, err = auth.HashSecret(req.PIN)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
	}

	subject := identity.Identity{
		ID:           ids.New(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Name:         strings.TrimSpace(req.Name),
		Role:         role,
		AgeBracket:   bracket,
		PasswordHash: passwordHash,
		PINHash:      pinHash,
		GuardianID:   strings.TrimSpace(req.GuardianID),
	}
	if err := a.store.Identities(r.Context()).Create(r.Context(), &subject); err != nil {
		switch {
		case errors.Is(err, identity.ErrAlreadyExists):
			writeError(w, r, http.StatusBadRequest, "an account with this email already exists")
		case errors.Is(err, identity.ErrNotFound), errors.Is(err, identity.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, "invalid guardian link")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	// Guardians start with default safety settings so the PIN gate and crisis
	// detection are on from the first session.
	if role == identity.RoleGuardian {
		cfg := identity.DefaultSafetyConfig(subject.ID)
		if err := a.store.SafetyConfigs(r.Context()).Upsert(r.Context(), cfg); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"identity": identityPayload{
			ID:         subject.ID,
			Email:      subject.Email,
			Name:       subject.Name,
			Role:       string(subject.Role),
			AgeBracket: string(subject.AgeBracket),
		},
	})
}

type revokeRequest struct {
	SessionToken string `json:"session_token"`
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.issuer.Revoke(r.Context(), req.SessionToken); err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
