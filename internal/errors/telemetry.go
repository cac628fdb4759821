package errors

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// sentryReporter forwards built errors to Sentry. Scope data mirrors the
// builder fields so events are searchable by component and category.
type sentryReporter struct{}

func (sentryReporter) CaptureError(err error, component string, category Category, context map[string]any) {
	sentry.WithScope(func(scope *sentry.Scope) {
		if component != "" {
			scope.SetTag("component", component)
		}
		if category != "" {
			scope.SetTag("category", string(category))
		}
		if len(context) > 0 {
			scope.SetContext("error_context", sentry.Context(context))
		}
		sentry.CaptureException(err)
	})
}

// InitSentry enables Sentry telemetry for built errors. A DSN of "" is a
// no-op so callers can pass the configured value straight through.
func InitSentry(dsn, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	})
	if err != nil {
		return err
	}
	SetTelemetryReporter(sentryReporter{})
	return nil
}

// FlushSentry drains pending telemetry events. Safe to call when Sentry
// was never initialized.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}
