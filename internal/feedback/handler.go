package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"eduquiz/internal/app/apiresp"
)

type Handler struct {
	svc feedbackService
}

type feedbackService interface {
	GenerateFromAI(ctx context.Context, answers map[string]interface{}) (*Result, error)
}

func NewHandler(svc feedbackService) *Handler {
	return &Handler{svc: svc}
}

// Submit scores a quiz submission. The request body is the answers map sent
// verbatim to the feedback agent.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var answers map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&answers); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.GenerateFromAI(r.Context(), answers)
	if err != nil {
		var bad *BadResponseError
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "answers are required")
		case errors.As(err, &bad):
			apiresp.WriteErrorDetails(w, r, http.StatusBadRequest, bad.Reason, map[string]string{"raw_response": bad.RawResponse})
		case errors.Is(err, ErrAgentNotConfigured):
			apiresp.WriteError(w, r, http.StatusBadGateway, "feedback agent not configured")
		default:
			apiresp.WriteError(w, r, http.StatusBadGateway, "failed to get response from AI agent")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, result)
}
