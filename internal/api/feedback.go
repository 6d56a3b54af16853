package api

import (
	"io"
	"net/http"

	"medinotify/internal/notifications/email"
	"medinotify/internal/types"
)

// maxFeedbackBodySize bounds SNS notification bodies.
const maxFeedbackBodySize = 256 << 10

// handleSESFeedback applies SES delivery, bounce and complaint receipts
// delivered through an SNS HTTP subscription. Subscription confirmations are
// logged for an operator to confirm.
func (s *Server) handleSESFeedback(w http.ResponseWriter, r *http.Request) {
	log := types.LoggerFromContext(r.Context(), s.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFeedbackBodySize))
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationFailed, "failed to read feedback body", err))
		return
	}

	feedback, err := email.ParseSNSFeedback(body)
	if err != nil {
		Error(w, r, err)
		return
	}
	if feedback.SubscribeURL != "" {
		log.Warn("SNS subscription confirmation received", "subscribe_url", feedback.SubscribeURL)
		JSON(w, r, http.StatusOK, APIResponse{Data: map[string]any{"confirmation_pending": true}})
		return
	}

	summary, err := s.deps.Receipts.Process(r.Context(), feedback.Receipts)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: summary})
}
