package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// InitSentry enables error reporting when dsn is set.
func InitSentry(dsn, env string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
	}); err != nil {
		return err
	}
	sentryEnabled = true
	return nil
}

// Report sends err with extras to Sentry. Without a DSN it does nothing;
// callers log the error themselves.
func Report(err error, extras map[string]interface{}) {
	if !sentryEnabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events before exit.
func Flush() {
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}
