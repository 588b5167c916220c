package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/5l1v3r1/tellecast-sub000/internal/handlers"
	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
)

type Options struct {
	AllowedOrigins []string
	Production     bool
	Tokens         middleware.TokenValidator
	IPLimiter      *middleware.IPLimiter     // nil disables per-IP limiting
	TokenLimiter   *middleware.WindowLimiter // nil disables the token issue limit
}

// NewRouter builds the REST server's router.
func NewRouter(h *handlers.Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(opts.AllowedOrigins))
	if opts.Production {
		r.Use(middleware.SecurityHeaders)
	}

	// Health and metrics stay outside rate limiting.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if opts.IPLimiter != nil {
			r.Use(opts.IPLimiter.Middleware)
		}
		SetupRoutes(r, h, opts)
	})
	return r
}

func SetupRoutes(r chi.Router, h *handlers.Handler, opts Options) {
	// Token issue
	r.Group(func(r chi.Router) {
		if opts.TokenLimiter != nil {
			r.Use(opts.TokenLimiter.Middleware)
		}
		r.Post("/api/tokens", h.IssueToken)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireToken(opts.Tokens))

		r.Get("/api/tokens/verify", h.VerifyToken)

		// Push registrations
		r.Get("/api/devices", h.ListDevices)
		r.Post("/api/devices", h.RegisterDevice)
		r.Delete("/api/devices/{id}", h.DeleteDevice)

		// In-app notifications
		r.Get("/api/notifications", h.ListNotifications)
		r.Post("/api/notifications/read", h.MarkNotificationsRead)

		// Tells ordering
		r.Post("/api/master-tells/positions", h.ReorderMasterTells)
		r.Post("/api/master-tells/{id}/slave-tells/positions", h.ReorderSlaveTells)

		r.Post("/api/messages", h.CreateMessage)

		// Presence and proximity
		r.Post("/api/users/locations", h.PostLocation)
		r.Get("/api/users/nearby", h.NearbyUsers)
		r.Get("/api/tellzones/nearby", h.NearbyTellzones)
		r.Post("/api/clusters", h.Clusters)
	})
}
