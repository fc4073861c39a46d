package apperr

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter forwards errors to the external error tracker. Only kinds
// whose ShouldReport flag is set, and only when a Source chain is
// present, are actually sent — user-caused errors (auth denied, not
// found) never reach Sentry even if misclassified upstream.
type Reporter struct {
	enabled bool
}

// NewReporter initializes the global Sentry client for dsn. An empty dsn
// disables reporting entirely (the sentry config key is optional).
func NewReporter(dsn, environment, release string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{enabled: false}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		return nil, err
	}

	return &Reporter{enabled: true}, nil
}

// Report forwards err to Sentry if its Kind is gated in and it carries a
// Source chain. Returns true if it was actually forwarded.
func (r *Reporter) Report(err *Error) bool {
	if r == nil || !r.enabled {
		return false
	}
	if !ShouldReport(err.Kind) {
		return false
	}
	if err.Source == nil {
		return false
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_kind", MachineID(err.Kind))
		sentry.CaptureException(err.Source)
	})
	return true
}

// Flush blocks until pending events are sent or timeout elapses.
func (r *Reporter) Flush(timeoutMillis int64) {
	if r == nil || !r.enabled {
		return
	}
	sentry.Flush(time.Duration(timeoutMillis) * time.Millisecond)
}
