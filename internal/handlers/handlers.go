// Package handlers implements the REST surface the realtime core depends
// on. Every handler renders JSON and reports failures as {"error": msg}.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/geo"
	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type Principals interface {
	GetPrincipal(ctx context.Context, id int64) (*models.Principal, error)
	SetSignedIn(ctx context.Context, id int64, signedIn bool) error
}

type TokenIssuer interface {
	Token(p *models.Principal) string
}

type Devices interface {
	RegisterDevice(ctx context.Context, d *models.Device) (*models.Device, error)
	ListDevices(ctx context.Context, userID int64, platform models.Platform) ([]models.Device, error)
	DeleteDevice(ctx context.Context, userID, id int64) error
}

type Notifications interface {
	Dispatch(ctx context.Context, intent models.NotificationIntent) (*models.Notification, error)
	ListUnread(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID int64, ids []int64) (int64, error)
}

type Tells interface {
	ReorderMasterTells(ctx context.Context, ownerID int64, order []int64) error
	ReorderSlaveTells(ctx context.Context, ownerID, masterTellID int64, order []int64) error
}

type Messages interface {
	CreateMessage(ctx context.Context, m *models.Message) error
}

type Locations interface {
	Ingest(ctx context.Context, userID int64, fix models.LocationFix) (*models.LocationFix, error)
}

type Proximity interface {
	Nearby(ctx context.Context, origin models.Point, radius float64, kind geo.Kind) ([]geo.Neighbor, error)
}

// Deps are the collaborators behind the REST surface.
type Deps struct {
	Principals    Principals
	Tokens        TokenIssuer
	Devices       Devices
	Notifications Notifications
	Tells         Tells
	Messages      Messages
	Locations     Locations
	Proximity     Proximity
}

type Handler struct {
	Deps
	log *zap.Logger
}

func New(deps Deps, log *zap.Logger) *Handler {
	return &Handler{Deps: deps, log: log.Named("http")}
}

// principal returns the authenticated caller. Routes that call it are
// mounted behind middleware.RequireToken.
func principal(r *http.Request) *models.Principal {
	return middleware.PrincipalFrom(r.Context())
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.E(apperr.Invalid, "%s must be a positive integer", name)
	}
	return id, nil
}

// fail logs unexpected errors before rendering them.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.Internal {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	middleware.WriteError(w, err)
}
