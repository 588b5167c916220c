package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := E(NotFound, "principal %d not found", 7)
	wrapped := fmt.Errorf("store: get: %w", base)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", base, NotFound},
		{"wrapped", wrapped, NotFound},
		{"plain", errors.New("boom"), Internal},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(Conflict, "duplicate device", errors.New("23505")))
	if !errors.Is(err, E(Conflict, "")) {
		t.Fatalf("errors.Is should match by kind")
	}
	if errors.Is(err, E(NotFound, "")) {
		t.Fatalf("errors.Is matched the wrong kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(InvalidToken); got != http.StatusUnauthorized {
		t.Errorf("InvalidToken -> %d", got)
	}
	if got := HTTPStatus(InvalidGeometry); got != http.StatusBadRequest {
		t.Errorf("InvalidGeometry -> %d", got)
	}
	if got := HTTPStatus(RateLimited); got != http.StatusTooManyRequests {
		t.Errorf("RateLimited -> %d", got)
	}
	if got := HTTPStatus(Internal); got != http.StatusInternalServerError {
		t.Errorf("Internal -> %d", got)
	}
}

func TestMessageHidesInternal(t *testing.T) {
	if got := Message(errors.New("pq: password authentication failed")); got != "internal error" {
		t.Errorf("Message() leaked %q", got)
	}
	if got := Message(E(Conflict, "duplicate")); got != "duplicate" {
		t.Errorf("Message() = %q", got)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(E(Transient, "503")) {
		t.Error("Transient should be retryable")
	}
	if Retryable(E(Permanent, "410")) {
		t.Error("Permanent should not be retryable")
	}
}
