package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/triggerflow-core/internal/automation"
)

const (
	// maxIDLen limits path and query identifiers.
	maxIDLen = 100

	// maxHistoryTurns caps conversation history accepted with a manual run.
	maxHistoryTurns = 100
)

// triggerRequest is the body of POST /triggers. The user comes from the token.
type triggerRequest struct {
	TriggerSlug     string                      `json:"triggerSlug"`
	ToolkitSlug     string                      `json:"toolkitSlug"`
	Payload         map[string]any              `json:"payload"`
	OriginalPayload json.RawMessage             `json:"originalPayload,omitempty"`
	Metadata        *automation.TriggerMetadata `json:"metadata,omitempty"`
}

// invokeRequest is the body of POST /rules/{id}/invoke.
type invokeRequest struct {
	UserContext         string                        `json:"userContext"`
	ConversationHistory []automation.ConversationTurn `json:"conversationHistory"`
}

// decodeJSON decodes the body into v, writing the error response itself.
// An empty body is accepted only when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return false
		}
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// handleTrigger runs the trigger path for the caller. The result is always
// 200: not matching any rule, or a failed run, are reported in the body.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	req.TriggerSlug = strings.TrimSpace(req.TriggerSlug)
	if req.TriggerSlug == "" {
		writeBadRequest(w, "triggerSlug is required")
		return
	}
	if req.ToolkitSlug == "" {
		writeBadRequest(w, "toolkitSlug is required")
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	userID := userIDFromContext(r.Context())
	res := s.engine.Process(r.Context(), userID, automation.TriggerPayload{
		TriggerSlug:     req.TriggerSlug,
		ToolkitSlug:     req.ToolkitSlug,
		UserID:          userID,
		Payload:         req.Payload,
		OriginalPayload: req.OriginalPayload,
		Metadata:        req.Metadata,
	})
	writeJSON(w, http.StatusOK, res)
}

// handleInvokeRule runs one of the caller's rules manually.
func (s *Server) handleInvokeRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" || len(ruleID) > maxIDLen {
		writeBadRequest(w, "invalid rule ID")
		return
	}

	var req invokeRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if len(req.ConversationHistory) > maxHistoryTurns {
		writeBadRequest(w, "conversationHistory has too many turns")
		return
	}

	res := s.engine.ProcessManualByID(r.Context(), userIDFromContext(r.Context()), ruleID, req.UserContext, req.ConversationHistory)
	if res.Error == automation.ErrRuleNotFound.Error() {
		writeNotFound(w, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleScheduleRun runs a scheduled sweep immediately, across all users.
func (s *Server) handleScheduleRun(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("scheduled sweep requested", "user_id", userIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, s.engine.ProcessScheduled(r.Context()))
}
