package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/triggerflow-core/internal/automation"
)

const (
	defaultExecutionLimit = 20
	maxExecutionLimit     = 100
)

// handleExecutionStats returns the caller's aggregate execution statistics.
func (s *Server) handleExecutionStats(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "execution logs not configured")
		return
	}

	stats, err := s.logs.GetStats(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.logger.Error("loading execution stats failed", "error", err)
		writeInternalError(w, "failed to load execution stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleListRuleExecutions returns recent logs for one of the caller's rules.
//
// Query parameters:
//   - limit: 1..100, default 20
func (s *Server) handleListRuleExecutions(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil || s.rules == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "execution logs not configured")
		return
	}
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" || len(ruleID) > maxIDLen {
		writeBadRequest(w, "invalid rule ID")
		return
	}
	limit, ok := parseLimit(w, r, defaultExecutionLimit, maxExecutionLimit)
	if !ok {
		return
	}

	ctx := r.Context()
	if _, err := s.rules.GetByIDAndUser(ctx, ruleID, userIDFromContext(ctx)); err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to load rule")
		return
	}

	entries, err := s.logs.ListByRule(ctx, ruleID, limit)
	if err != nil {
		s.logger.Error("listing executions failed", "rule_id", ruleID, "error", err)
		writeInternalError(w, "failed to list executions")
		return
	}
	if entries == nil {
		entries = []automation.ExecutionLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": entries, "count": len(entries)})
}

// parseLimit reads the limit query parameter, writing a 400 when malformed.
func parseLimit(w http.ResponseWriter, r *http.Request, def, maxVal int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxVal {
		writeBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxVal))
		return 0, false
	}
	return n, true
}
