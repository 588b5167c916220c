package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/handlers"
	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type oneToken string

func (t oneToken) Validate(ctx context.Context, token string) (*models.Principal, error) {
	if token == string(t) {
		return &models.Principal{ID: 5}, nil
	}
	return nil, apperr.E(apperr.InvalidToken, "invalid token")
}

func TestRouter(t *testing.T) {
	h := handlers.New(handlers.Deps{}, zap.NewNop())
	r := NewRouter(h, Options{
		AllowedOrigins: []string{"http://localhost:3000"},
		Tokens:         oneToken("Token 5.abc"),
		IPLimiter:      middleware.NewIPLimiter(100, 100),
	})

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		status int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"protected without token", http.MethodGet, "/api/notifications", "", http.StatusUnauthorized},
		{"protected with bad token", http.MethodGet, "/api/users/nearby", "Token 5.zzz", http.StatusUnauthorized},
		{"verify", http.MethodGet, "/api/tokens/verify", "Token 5.abc", http.StatusOK},
		{"unknown route", http.MethodGet, "/api/vent", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}
