package services

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"fieldservice-server/models"
	"fieldservice-server/store"
)

// AssignmentCoordinator resolves the race among technicians for a pending
// booking.
type AssignmentCoordinator struct {
	store    store.Store
	notifier Notifier
	now      func() time.Time
}

// NewAssignmentCoordinator creates an AssignmentCoordinator. A nil notifier
// drops notifications.
func NewAssignmentCoordinator(st store.Store, notifier Notifier) *AssignmentCoordinator {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &AssignmentCoordinator{store: st, notifier: notifier, now: utcNow}
}

// Assign moves the booking from pending to accepted, creates its job at
// dispatched and marks the technician busy, all in one transaction. Exactly
// one of any number of concurrent calls for a booking succeeds; the others
// get ErrConflict and are not retried.
func (c *AssignmentCoordinator) Assign(ctx context.Context, bookingID, technicianID string, actor Actor) (jobID string, err error) {
	const op = "assign"
	ctx, span := startSpan(ctx, "AssignmentCoordinator.Assign",
		attribute.String("booking.id", bookingID),
		attribute.String("technician.id", technicianID))
	defer func() { endSpan(span, err) }()

	if err := authorize(op, ActionAssign, actor, Subject{TargetTechnicianID: technicianID}); err != nil {
		return "", err
	}

	newJobID := newID()
	var customerID string
	err = c.store.RunTransaction(ctx, func(tx store.Tx) error {
		now := c.now()

		booking, err := tx.GetBooking(bookingID)
		if errors.Is(err, store.ErrNotFound) {
			return opErr(op, ErrNotFound, "booking %s", bookingID)
		}
		if err != nil {
			return err
		}
		if booking.Status != models.BookingStatusPending {
			return opErr(op, ErrConflict, "booking %s is %s", bookingID, booking.Status)
		}
		if booking.PaymentHoldID == nil {
			return opErr(op, ErrConflict, "booking %s has no payment hold", bookingID)
		}

		tech, err := tx.GetTechnician(technicianID)
		if errors.Is(err, store.ErrNotFound) {
			return opErr(op, ErrNotFound, "technician %s", technicianID)
		}
		if err != nil {
			return err
		}
		if tech.CurrentJobID != nil || !tech.IsAvailable {
			return opErr(op, ErrConflict, "technician %s is busy", technicianID)
		}

		job := &models.Job{
			ID:           newJobID,
			BookingID:    booking.ID,
			TechnicianID: technicianID,
			CustomerID:   booking.CustomerID,
		}
		job.EnterStage(models.StageDispatched, now)
		if err := tx.CreateJob(job); err != nil {
			return err
		}

		booking.Status = models.BookingStatusAccepted
		booking.TechnicianID = &technicianID
		booking.JobID = &newJobID
		if err := tx.UpdateBooking(booking); err != nil {
			return err
		}

		tech.CurrentJobID = &newJobID
		tech.IsAvailable = false
		if err := tx.UpdateTechnician(tech); err != nil {
			return err
		}

		customerID = booking.CustomerID
		return nil
	})
	if err != nil {
		err = storeErr(op, err)
		if errors.Is(err, ErrConflict) {
			log.WithFields(log.Fields{"booking_id": bookingID, "technician_id": technicianID}).
				Info("⚠️ Assignment lost the race")
		}
		return "", err
	}

	log.WithFields(log.Fields{
		"booking_id":    bookingID,
		"technician_id": technicianID,
		"job_id":        newJobID,
	}).Info("✅ Booking assigned")

	c.notifier.Enqueue(notifyEvent(customerID, models.NotificationBookingAccepted,
		"Booking accepted", "A technician has accepted your booking.",
		bookingID, newJobID, c.now()))
	return newJobID, nil
}
