package httpapi

import (
	"errors"
	"net/http"

	"kidgate.dev/internal/auth"
	"kidgate.dev/internal/chat"
	"kidgate.dev/internal/identity"
)

type chatRequest struct {
	Text         string `json:"text"`
	SubjectID    string `json:"subject_id"`
	Mode         string `json:"mode"`
	SessionToken string `json:"session_token"`
}

type verdictPayload struct {
	Flagged bool    `json:"flagged"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason,omitempty"`
}

type chatResponse struct {
	ResponseText      string         `json:"response_text"`
	ResponseMessageID string         `json:"response_message_id"`
	UserMessageID     string         `json:"user_message_id"`
	Verdict           verdictPayload `json:"verdict"`
	Mode              string         `json:"mode"`
}

func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := chat.ParseMode(req.Mode)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "mode must be one of general, study, creative")
		return
	}

	result, err := a.orch.Turn(r.Context(), chat.TurnRequest{
		Text:         req.Text,
		SubjectID:    req.SubjectID,
		Mode:         mode,
		SessionToken: req.SessionToken,
	})
	if err != nil {
		handleTurnError(w, r, err)
		return
	}

	if result.Blocked {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   string(result.BlockReason),
			"blocked": true,
			"score":   result.Score,
		})
		return
	}

	flagReason := ""
	if result.Verdict.Flagged {
		flagReason = string(result.Verdict.FlagReason)
	}
	writeJSON(w, http.StatusOK, chatResponse{
		ResponseText:      result.ResponseText,
		ResponseMessageID: result.ResponseMessageID,
		UserMessageID:     result.UserMessageID,
		Verdict: verdictPayload{
			Flagged: result.Verdict.Flagged,
			Score:   result.Verdict.Score,
			Reason:  flagReason,
		},
		Mode: string(result.Mode),
	})
}

func handleTurnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "text and subject_id are required")
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "subject not found")
	case errors.Is(err, auth.ErrInvalidSession):
		writeError(w, r, http.StatusUnauthorized, "invalid or expired session")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
