package middleware

import (
	"context"
	"net/http"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type contextKey struct{}

// TokenValidator resolves an Authorization header value to a principal.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*models.Principal, error)
}

// RequireToken rejects requests without a valid "Token <id>.<digest>"
// Authorization header and stores the principal in the request context.
func RequireToken(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				WriteError(w, apperr.E(apperr.InvalidToken, "authentication credentials were not provided"))
				return
			}
			principal, err := tokens.Validate(r.Context(), header)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the authenticated principal, or nil outside
// RequireToken.
func PrincipalFrom(ctx context.Context) *models.Principal {
	p, _ := ctx.Value(contextKey{}).(*models.Principal)
	return p
}
