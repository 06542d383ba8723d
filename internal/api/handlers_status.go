package api

import (
	"net/http"
	"time"
)

// statusDeadLetterSample bounds how many dead letters the status endpoint
// carries inline.
const statusDeadLetterSample = 20

// handleStatus handles GET /status. Partial failures degrade the report
// rather than failing it; a broken Redis should not hide a healthy server.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"service": "trader-mirror",
		"uptime":  time.Since(s.startedAt).String(),
	}

	if pending, err := s.queue.Pending(ctx); err != nil {
		s.logger.WithError(err).Warn("Status: pending count unavailable")
		status["pendingSyncs"] = nil
	} else {
		status["pendingSyncs"] = pending
	}

	if letters, err := s.queue.DeadLetters(ctx, statusDeadLetterSample); err != nil {
		s.logger.WithError(err).Warn("Status: dead letters unavailable")
		status["deadLetters"] = nil
	} else {
		status["deadLetters"] = letters
	}

	if count, err := s.accounts.CountActive(ctx); err != nil {
		s.logger.WithError(err).Warn("Status: account count unavailable")
		status["activeAccounts"] = nil
	} else {
		status["activeAccounts"] = count
	}

	respondJSON(w, http.StatusOK, status)
}
