package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/triggerflow-core/internal/notification"
)

// maxNotificationLimit mirrors the repository's clamp.
const maxNotificationLimit = 200

// handleListNotifications pages through the caller's notifications.
//
// Query parameters:
//   - unread: "true" to return only unread notifications
//   - limit: 1..200, default 50
//   - offset: >= 0
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "notifications not configured")
		return
	}

	q := r.URL.Query()
	filter := notification.Filter{UnreadOnly: q.Get("unread") == "true"}

	limit, ok := parseLimit(w, r, 0, maxNotificationLimit)
	if !ok {
		return
	}
	filter.Limit = limit

	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	res, err := s.notifications.ListByUser(r.Context(), userIDFromContext(r.Context()), filter)
	if err != nil {
		s.logger.Error("listing notifications failed", "error", err)
		writeInternalError(w, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleMarkNotificationRead marks one of the caller's notifications read.
func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "notifications not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxIDLen {
		writeBadRequest(w, "invalid notification ID")
		return
	}

	err := s.notifications.MarkRead(r.Context(), id, userIDFromContext(r.Context()), s.now().UTC())
	if err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			writeNotFound(w, "notification not found")
			return
		}
		s.logger.Error("marking notification read failed", "notification_id", id, "error", err)
		writeInternalError(w, "failed to update notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
