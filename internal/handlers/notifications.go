package handlers

import (
	"net/http"
	"strconv"

	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

// ListNotifications returns the caller's unread notifications, oldest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(w, r, apperr.E(apperr.Invalid, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	list, err := h.Notifications.ListUnread(r.Context(), principal(r).ID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	middleware.WriteJSON(w, http.StatusOK, list)
}

type markReadRequest struct {
	IDs []int64 `json:"ids"`
}

// MarkNotificationsRead flips the given notifications of the caller to Read.
func (h *Handler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if len(req.IDs) == 0 {
		h.fail(w, r, apperr.E(apperr.Invalid, "ids must not be empty"))
		return
	}
	n, err := h.Notifications.MarkRead(r.Context(), principal(r).ID, req.IDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
