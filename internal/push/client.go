// Package push delivers push jobs to APNS and GCM.
package push

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
)

// ErrUnregistered means the provider rejected the registration for good;
// the device must be removed.
var ErrUnregistered = errors.New("push: device unregistered")

// DefaultBackoff is the wait before each retry of a transient failure.
var DefaultBackoff = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

const attemptTimeout = 10 * time.Second

// Sender posts one payload to one device.
type Sender interface {
	Platform() models.Platform
	Send(ctx context.Context, device models.Device, payload string) error
}

// newHTTPClient returns a retrying client: one retry per backoff entry,
// each attempt bounded by attemptTimeout. 5xx, 429 and network errors are
// retried.
func newHTTPClient(backoff []time.Duration, log *zap.Logger) *retryablehttp.Client {
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	schedule := append([]time.Duration(nil), backoff...)

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Timeout: attemptTimeout}
	client.RetryMax = len(schedule)
	client.Backoff = func(_, _ time.Duration, attempt int, _ *http.Response) time.Duration {
		if attempt >= len(schedule) {
			return schedule[len(schedule)-1]
		}
		return schedule[attempt]
	}
	client.CheckRetry = retryablehttp.DefaultRetryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = leveledLogger{log.Sugar()}
	return client
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
