package observability

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"fieldservice-server/models"
)

// InitSentry configures the global Sentry client. An empty dsn disables
// reporting.
func InitSentry(dsn, serverName, release, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
		TracesSampleRate: 0.2,
		ServerName:       serverName,
		Release:          release,
		Environment:      environment,
	})
}

// FlushSentry waits up to timeout for buffered events.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}

// SentryAlerter reports captures whose bookkeeping is pending to Sentry.
type SentryAlerter struct{}

// AlertPartialFailure raises a fatal-level event tagged with the booking and
// repair ids.
func (SentryAlerter) AlertPartialFailure(ctx context.Context, repair *models.BookkeepingRepair, cause error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("booking_id", repair.BookingID)
		scope.SetTag("repair_id", repair.ID)
		scope.SetContext("bookkeeping_repair", sentry.Context{
			"job_id":          repair.JobID,
			"actor_id":        repair.ActorID,
			"amount_captured": repair.AmountCaptured,
			"attempts":        repair.Attempts,
		})
		if id := hub.CaptureException(cause); id != nil {
			log.Debugf("Sentry event %s raised for repair %s", *id, repair.ID)
		}
	})
}
