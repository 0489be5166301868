package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fieldservice-server/models"
)

// Notifier accepts outbound notification events. Enqueue must not block;
// delivery failures stay inside the notifier.
type Notifier interface {
	Enqueue(ev models.NotificationEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev models.NotificationEvent)

// Enqueue calls f(ev).
func (f NotifierFunc) Enqueue(ev models.NotificationEvent) { f(ev) }

type nopNotifier struct{}

func (nopNotifier) Enqueue(models.NotificationEvent) {}

// OperatorAlerter raises captures whose bookkeeping did not commit.
type OperatorAlerter interface {
	AlertPartialFailure(ctx context.Context, repair *models.BookkeepingRepair, cause error)
}

type nopAlerter struct{}

func (nopAlerter) AlertPartialFailure(context.Context, *models.BookkeepingRepair, error) {}

func newID() string {
	return uuid.NewString()
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("fieldservice-server/services").Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func notifyEvent(userID, typ, title, body string, bookingID, jobID string, at time.Time) models.NotificationEvent {
	return models.NotificationEvent{
		UserID:           userID,
		Type:             typ,
		Title:            title,
		Body:             body,
		RelatedBookingID: bookingID,
		RelatedJobID:     jobID,
		CreatedAt:        at,
	}
}
