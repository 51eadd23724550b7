package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"estately/internal/notifications"
)

const realtimeHeartbeatInterval = 25 * time.Second

// NotificationHandler serves the in-app inbox and its realtime feed.
type NotificationHandler struct {
	service   *notifications.Service
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewNotificationHandler creates a handler.
func NewNotificationHandler(service *notifications.Service, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, logger: logger, heartbeat: realtimeHeartbeatInterval}
}

// List returns a page of the caller's notifications, newest first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	values := r.URL.Query()
	opts := notifications.ListOptions{}
	if raw := filterParam(values, "is_read"); raw != "" {
		isRead, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid is_read filter")
			return
		}
		opts.UnreadOnly = !isRead
	}
	if raw := strings.TrimSpace(values.Get("unread_only")); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid unread_only filter")
			return
		}
		opts.UnreadOnly = unread
	}
	if column, asc, err := parseOrder(values, "created_at"); err != nil || column != "created_at" || asc {
		writeError(w, http.StatusBadRequest, "notifications can only be ordered by created_at.desc")
		return
	}
	var err error
	if opts.Offset, opts.Limit, err = parsePagination(values); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, total, err := h.service.List(r.Context(), principal.User.ID, opts)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeList(w, rows, total)
}

// UnreadCount returns the number of unread notifications.
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	count, err := h.service.CountUnread(r.Context(), principal.User.ID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// MarkRead flags the listed notifications as read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	var payload struct {
		IDs []uuid.UUID `json:"ids"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	updated, err := h.service.MarkRead(r.Context(), principal.User.ID, payload.IDs)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// MarkAllRead flags every unread notification as read.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	updated, err := h.service.MarkAllRead(r.Context(), principal.User.ID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// Delete removes one notification.
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), principal.User.ID, id); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream pushes newly inserted notifications as Server-Sent Events until the client disconnects.
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	feed, cancel, err := h.service.Subscribe(r.Context(), principal.User.ID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-feed:
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, "INSERT", n); err != nil {
				h.logger.Debug("realtime client disconnected", "user_id", principal.User.ID, "error", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
