package handlers

import (
	"net/http"

	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type positionsRequest struct {
	IDs []int64 `json:"ids"`
}

func decodePositions(r *http.Request) ([]int64, error) {
	var req positionsRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		return nil, err
	}
	if len(req.IDs) == 0 {
		return nil, apperr.E(apperr.Invalid, "ids must list every tell in its new order")
	}
	return req.IDs, nil
}

// ReorderMasterTells renumbers the caller's master tells 1..N in the
// order given.
func (h *Handler) ReorderMasterTells(w http.ResponseWriter, r *http.Request) {
	order, err := decodePositions(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Tells.ReorderMasterTells(r.Context(), principal(r).ID, order); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string][]int64{"ids": order})
}

// ReorderSlaveTells renumbers the slave tells of one master tell.
func (h *Handler) ReorderSlaveTells(w http.ResponseWriter, r *http.Request) {
	masterID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := decodePositions(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Tells.ReorderSlaveTells(r.Context(), principal(r).ID, masterID, order); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string][]int64{"ids": order})
}
