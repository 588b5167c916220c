package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/5l1v3r1/tellecast-sub000/internal/geo"
	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// DefaultRadius is the nearby radius in feet when none is given.
const DefaultRadius = 300.0

// PostLocation records the caller's current fix.
func (h *Handler) PostLocation(w http.ResponseWriter, r *http.Request) {
	var fix models.LocationFix
	if err := middleware.DecodeJSON(r, &fix); err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.Locations.Ingest(r.Context(), principal(r).ID, fix)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, saved)
}

func (h *Handler) NearbyUsers(w http.ResponseWriter, r *http.Request) {
	h.nearby(w, r, geo.KindUsers)
}

func (h *Handler) NearbyTellzones(w http.ResponseWriter, r *http.Request) {
	h.nearby(w, r, geo.KindTellzones)
}

func (h *Handler) nearby(w http.ResponseWriter, r *http.Request, kind geo.Kind) {
	origin, radius, err := parseNearby(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	found, err := h.Proximity.Nearby(r.Context(), origin, radius, kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]geo.Neighbor, 0, len(found))
	self := principal(r).ID
	for _, n := range found {
		if kind == geo.KindUsers && n.ID == self {
			continue
		}
		out = append(out, n)
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func parseNearby(r *http.Request) (models.Point, float64, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("latitude"), 64)
	if err != nil {
		return models.Point{}, 0, apperr.E(apperr.InvalidGeometry, "latitude must be a number")
	}
	lng, err := strconv.ParseFloat(q.Get("longitude"), 64)
	if err != nil {
		return models.Point{}, 0, apperr.E(apperr.InvalidGeometry, "longitude must be a number")
	}
	radius := DefaultRadius
	if raw := q.Get("radius"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil {
			return models.Point{}, 0, apperr.E(apperr.InvalidGeometry, "radius must be a number")
		}
	}
	return models.Point{Lng: lng, Lat: lat}, radius, nil
}

type clusterItem struct {
	ID    json.RawMessage `json:"id"`
	Point models.Point    `json:"point"`
}

// Clusters groups the posted points within 10 feet of each other.
func (h *Handler) Clusters(w http.ResponseWriter, r *http.Request) {
	var req []clusterItem
	if err := middleware.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	items := make([]geo.Item[json.RawMessage], len(req))
	for i, item := range req {
		items[i] = geo.Item[json.RawMessage]{Entity: item.ID, Point: item.Point}
	}
	clusters, err := geo.GetClusters(items)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([][]clusterItem, len(clusters))
	for i, cluster := range clusters {
		out[i] = make([]clusterItem, len(cluster))
		for j, item := range cluster {
			out[i][j] = clusterItem{ID: item.Entity, Point: item.Point}
		}
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}
