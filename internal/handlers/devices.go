package handlers

import (
	"net/http"
	"strings"

	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// RegisterDevice stores a push registration for the caller. A registration
// already held by another principal moves to the caller.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var d models.Device
	if err := middleware.DecodeJSON(r, &d); err != nil {
		h.fail(w, r, err)
		return
	}
	d.Platform = models.Platform(strings.ToUpper(string(d.Platform)))
	if d.Platform != models.PlatformAPNS && d.Platform != models.PlatformGCM {
		h.fail(w, r, apperr.E(apperr.Invalid, "platform must be APNS or GCM"))
		return
	}
	if strings.TrimSpace(d.RegistrationID) == "" {
		h.fail(w, r, apperr.E(apperr.Invalid, "registration_id is required"))
		return
	}
	d.ID = 0
	d.UserID = principal(r).ID

	saved, err := h.Devices.RegisterDevice(r.Context(), &d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, saved)
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	platform := models.Platform(strings.ToUpper(r.URL.Query().Get("platform")))
	devices, err := h.Devices.ListDevices(r.Context(), principal(r).ID, platform)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	middleware.WriteJSON(w, http.StatusOK, devices)
}

func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Devices.DeleteDevice(r.Context(), principal(r).ID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
