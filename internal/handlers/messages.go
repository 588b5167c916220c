package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/internal/notifications"
)

// CreateMessage stores a direct message from the caller and notifies the
// recipient when the message type calls for it.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var m models.Message
	if err := middleware.DecodeJSON(r, &m); err != nil {
		h.fail(w, r, err)
		return
	}
	m.ID = 0
	m.UserSourceID = principal(r).ID

	if err := h.Messages.CreateMessage(r.Context(), &m); err != nil {
		h.fail(w, r, err)
		return
	}

	if intent, ok := notifications.ForMessage(&m); ok {
		// The message is committed; a failed notification is not the
		// sender's error.
		if _, err := h.Notifications.Dispatch(r.Context(), intent); err != nil {
			h.log.Warn("message notification", zap.Int64("message_id", m.ID), zap.Error(err))
		}
	}
	middleware.WriteJSON(w, http.StatusCreated, &m)
}
