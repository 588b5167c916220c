package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type fakeTokens map[string]int64

func (f fakeTokens) Validate(ctx context.Context, token string) (*models.Principal, error) {
	if id, ok := f[token]; ok {
		return &models.Principal{ID: id}, nil
	}
	return nil, apperr.E(apperr.InvalidToken, "invalid token")
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body %q is not JSON: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestRequireToken(t *testing.T) {
	var seen *models.Principal
	h := RequireToken(fakeTokens{"Token 7.abc": 7})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFrom(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong digest", "Token 7.xyz", http.StatusUnauthorized},
		{"valid", "Token 7.abc", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				if errorBody(t, rec) == "" {
					t.Fatal("error body is empty")
				}
				return
			}
			if seen == nil || seen.ID != 7 {
				t.Fatalf("principal = %+v, want id 7", seen)
			}
		})
	}
}

func TestIPLimiter(t *testing.T) {
	l := NewIPLimiter(0.001, 2)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [200 200 429]", codes)
	}

	// A different client has its own bucket.
	if !l.Allow("10.0.0.2") {
		t.Fatal("second client was limited")
	}

	l.sweep(time.Now().Add(ipLimiterTTL + time.Minute))
	if len(l.entries) != 0 {
		t.Fatalf("sweep left %d entries", len(l.entries))
	}
}

func TestWindowLimiterFailsOpen(t *testing.T) {
	l := NewWindowLimiter(nil, "tokens", 1, time.Minute, zap.NewNop())
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tokens", nil))
		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: status = %d, want pass-through", i, rec.Code)
		}
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.tellecast.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/tokens", nil)
	req.Header.Set("Origin", "https://app.tellecast.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code >= 300 {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.tellecast.com" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tokens", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unknown origin allowed: %q", got)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperr.E(apperr.Conflict, "positions changed"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := errorBody(t, rec); got != "positions changed" {
		t.Fatalf("error = %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(headerXContentTypeOptions) != "nosniff" {
		t.Fatal("nosniff missing")
	}
}
