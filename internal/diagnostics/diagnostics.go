// Package diagnostics provides an optional corruption-reporting hook.
// It is a no-op unless configured with a DSN, called from the engine's
// recovery path when a CorruptLogError surfaces.
package diagnostics

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter reports unexpected storage failures to an external
// collector. The zero value is a usable no-op reporter.
type Reporter struct {
	enabled bool
}

// NewReporter initializes sentry-go against dsn. An empty dsn yields a
// disabled, no-op reporter.
func NewReporter(dsn string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
		return nil, err
	}
	return &Reporter{enabled: true}, nil
}

// ReportCorruption reports a log-corruption event with its offset and
// underlying cause. No-op when the reporter is disabled.
func (r *Reporter) ReportCorruption(offset int64, cause error) {
	if r == nil || !r.enabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetExtra("log_offset", offset)
		sentry.CaptureException(cause)
	})
}

// Flush blocks until buffered events are sent or the timeout elapses.
// No-op when the reporter is disabled.
func (r *Reporter) Flush() {
	if r == nil || !r.enabled {
		return
	}
	sentry.Flush(2 * time.Second)
}
