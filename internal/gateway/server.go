package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes is the gateway process's HTTP surface.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/websockets/", g.ServeWS)
	r.Get("/websockets", g.ServeWS)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
