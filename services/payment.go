package services

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"fieldservice-server/models"
	"fieldservice-server/payments"
	"fieldservice-server/store"
)

// CaptureDetails is what the technician reports when finishing a job.
type CaptureDetails struct {
	Notes   string
	Mileage *int
}

// CaptureResult is the outcome of a successful capture. BookkeepingPending
// is set when the money moved but the store transaction did not commit;
// RepairID then names the operator repair entry.
type CaptureResult struct {
	AmountCaptured     int64  `json:"amount_captured"`
	BookkeepingPending bool   `json:"bookkeeping_pending"`
	RepairID           string `json:"repair_id,omitempty"`
}

// PaymentOrchestrator ties the payment hold to the booking lifecycle.
type PaymentOrchestrator struct {
	store    store.Store
	gateway  payments.Gateway
	notifier Notifier
	alerter  OperatorAlerter
	currency string
	now      func() time.Time
}

// NewPaymentOrchestrator creates a PaymentOrchestrator. Nil notifier and
// alerter are replaced with no-ops.
func NewPaymentOrchestrator(st store.Store, gw payments.Gateway, notifier Notifier, alerter OperatorAlerter, currency string) *PaymentOrchestrator {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if alerter == nil {
		alerter = nopAlerter{}
	}
	return &PaymentOrchestrator{
		store:    st,
		gateway:  gw,
		notifier: notifier,
		alerter:  alerter,
		currency: currency,
		now:      utcNow,
	}
}

// OpenHold authorizes amountCents for the booking and stores the hold id on
// it. A booking that already has a hold returns the existing id.
func (o *PaymentOrchestrator) OpenHold(ctx context.Context, bookingID string, amountCents int64, paymentMethodID string) (holdID string, err error) {
	const op = "open_hold"
	ctx, span := startSpan(ctx, "PaymentOrchestrator.OpenHold", attribute.String("booking.id", bookingID))
	defer func() { endSpan(span, err) }()

	if amountCents <= 0 {
		return "", opErr(op, ErrInvalidInput, "amount must be positive, got %d", amountCents)
	}
	booking, err := o.store.GetBooking(ctx, bookingID)
	if err != nil {
		return "", storeErr(op, err)
	}
	if booking.PaymentHoldID != nil {
		return *booking.PaymentHoldID, nil
	}
	if booking.Status != models.BookingStatusPending {
		return "", opErr(op, ErrConflict, "booking %s is %s", bookingID, booking.Status)
	}

	hold, err := o.gateway.CreateHold(ctx, payments.HoldRequest{
		BookingID:       bookingID,
		CustomerID:      booking.CustomerID,
		AmountCents:     amountCents,
		Currency:        o.currency,
		PaymentMethodID: paymentMethodID,
		IdempotencyKey:  "hold-" + bookingID,
	})
	if err != nil {
		log.Printf("❌ Failed to open payment hold for booking %s: %v", bookingID, err)
		return "", wrapErr(op, ErrGateway, err)
	}

	err = o.store.RunTransaction(ctx, func(tx store.Tx) error {
		b, err := tx.GetBooking(bookingID)
		if err != nil {
			return err
		}
		if b.PaymentHoldID != nil {
			holdID = *b.PaymentHoldID
			return nil
		}
		b.PaymentHoldID = &hold.ID
		b.PaymentProvider = o.gateway.Name()
		holdID = hold.ID
		return tx.UpdateBooking(b)
	})
	if err != nil {
		return "", storeErr(op, err)
	}
	return holdID, nil
}

// Capture captures the booking's hold and then, in one transaction, marks
// the booking and job complete, writes the service record and releases the
// technician. When that transaction fails after the gateway captured, the
// call still succeeds with BookkeepingPending set and a repair entry.
func (o *PaymentOrchestrator) Capture(ctx context.Context, bookingID, jobID string, actor Actor, details CaptureDetails) (res *CaptureResult, err error) {
	const op = "capture"
	ctx, span := startSpan(ctx, "PaymentOrchestrator.Capture",
		attribute.String("booking.id", bookingID),
		attribute.String("job.id", jobID))
	defer func() { endSpan(span, err) }()

	booking, err := o.store.GetBooking(ctx, bookingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, opErr(op, ErrNotFound, "booking %s", bookingID)
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && job.BookingID != bookingID) {
		return nil, opErr(op, ErrNotFound, "job %s for booking %s", jobID, bookingID)
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	if err := authorize(op, ActionCapture, actor, SubjectForJob(job)); err != nil {
		return nil, err
	}

	switch {
	case booking.Status == models.BookingStatusComplete:
		return nil, opErr(op, ErrConflict, "booking %s already captured", bookingID)
	case booking.Status == models.BookingStatusCancelled:
		return nil, opErr(op, ErrConflict, "booking %s was cancelled", bookingID)
	case booking.PaymentHoldID == nil:
		return nil, opErr(op, ErrConflict, "booking %s has no payment hold", bookingID)
	}

	captured, err := o.gateway.Capture(ctx, *booking.PaymentHoldID, "capture-"+bookingID)
	if errors.Is(err, payments.ErrAlreadyFinalized) {
		return nil, wrapErr(op, ErrConflict, err)
	}
	if err != nil {
		log.Printf("❌ Payment capture failed for booking %s: %v", bookingID, err)
		return nil, wrapErr(op, ErrGateway, err)
	}
	if captured.AlreadyCaptured {
		log.Printf("⚠️ Hold for booking %s was already captured, finishing bookkeeping", bookingID)
	}

	in := bookkeeping{
		BookingID: bookingID,
		JobID:     jobID,
		Amount:    captured.AmountCaptured,
		Notes:     details.Notes,
		Mileage:   details.Mileage,
	}
	settled, err := o.applyCapture(ctx, in)
	if err == nil {
		log.WithFields(log.Fields{"booking_id": bookingID, "job_id": jobID, "amount": captured.AmountCaptured}).
			Info("✅ Payment captured")
		o.notifier.Enqueue(notifyEvent(job.CustomerID, models.NotificationJobCompleted,
			"Service complete", "Your service is complete and your payment was captured.",
			bookingID, jobID, o.now()))
		return &CaptureResult{AmountCaptured: captured.AmountCaptured}, nil
	}
	if settled {
		return nil, opErr(op, ErrConflict, "booking %s already captured", bookingID)
	}

	repair := &models.BookkeepingRepair{
		ID:             newID(),
		BookingID:      bookingID,
		JobID:          jobID,
		ActorID:        actor.ID,
		AmountCaptured: captured.AmountCaptured,
		Notes:          details.Notes,
		Mileage:        details.Mileage,
		Attempts:       1,
		LastError:      err.Error(),
	}
	if serr := o.store.SaveRepair(ctx, repair); serr != nil {
		log.WithFields(log.Fields{"booking_id": bookingID, "amount": captured.AmountCaptured}).
			Errorf("🚨 Could not persist bookkeeping repair: %v", serr)
	}
	log.WithFields(log.Fields{
		"booking_id": bookingID,
		"job_id":     jobID,
		"amount":     captured.AmountCaptured,
		"repair_id":  repair.ID,
	}).Errorf("🚨 PARTIAL FAILURE: payment captured but bookkeeping failed: %v", err)
	o.alerter.AlertPartialFailure(ctx, repair, &OpError{Op: op, Kind: ErrPartialFailure, Err: err})

	return &CaptureResult{
		AmountCaptured:     captured.AmountCaptured,
		BookkeepingPending: true,
		RepairID:           repair.ID,
	}, nil
}

type bookkeeping struct {
	BookingID string
	JobID     string
	Amount    int64
	Notes     string
	Mileage   *int
}

// applyCapture runs the post-capture transaction. settled reports that the
// booking was already complete, so there was nothing left to do.
func (o *PaymentOrchestrator) applyCapture(ctx context.Context, in bookkeeping) (settled bool, err error) {
	err = o.store.RunTransaction(ctx, func(tx store.Tx) error {
		settled = false
		now := o.now()

		booking, err := tx.GetBooking(in.BookingID)
		if err != nil {
			return err
		}
		if booking.Status == models.BookingStatusComplete {
			settled = true
			return opErr("capture", ErrConflict, "booking %s already complete", in.BookingID)
		}
		job, err := tx.GetJob(in.JobID)
		if err != nil {
			return err
		}

		if booking.Status == models.BookingStatusCancelled {
			// The gateway already captured, so a reconciliation that
			// cancelled the booking meanwhile is undone.
			log.Printf("⚠️ Completing booking %s cancelled after its capture (%s)", booking.ID, booking.CancelReason)
			booking.TechnicianID = &job.TechnicianID
			booking.JobID = &job.ID
			booking.CancelledAt = nil
			booking.CancelReason = ""
			job.CancelledAt = nil
		}

		amount := in.Amount
		booking.Status = models.BookingStatusComplete
		booking.CapturedAmountCents = &amount
		booking.CapturedAt = &now
		if err := tx.UpdateBooking(booking); err != nil {
			return err
		}
		if err := completeInTx(tx, job, now); err != nil {
			return err
		}

		mileage := in.Mileage
		if mileage == nil {
			mileage = booking.Vehicle.Mileage
		}
		record := &models.ServiceRecord{
			ID:               newID(),
			VehicleID:        booking.Vehicle.VehicleID,
			BookingID:        booking.ID,
			JobID:            job.ID,
			TechnicianID:     job.TechnicianID,
			ServiceType:      booking.Service.Name,
			MileageAtService: mileage,
			CostCents:        amount,
			TechNotes:        in.Notes,
			CompletedAt:      now,
		}
		if err := tx.CreateServiceRecord(record); err != nil {
			return err
		}
		return releaseTechnician(tx, job.TechnicianID, job.ID)
	})
	return settled, err
}

// RetryBookkeeping replays the transaction of a repair entry. It resolves the
// entry when the booking ends up complete.
func (o *PaymentOrchestrator) RetryBookkeeping(ctx context.Context, repairID string, actor Actor) (err error) {
	const op = "retry_bookkeeping"
	ctx, span := startSpan(ctx, "PaymentOrchestrator.RetryBookkeeping", attribute.String("repair.id", repairID))
	defer func() { endSpan(span, err) }()

	if !Allowed(ActionRepair, actor, Subject{}) {
		return opErr(op, ErrForbidden, "%s %q may not repair bookkeeping", actor.Role, actor.ID)
	}
	repair, err := o.store.GetRepair(ctx, repairID)
	if err != nil {
		return storeErr(op, err)
	}
	if repair.ResolvedAt != nil {
		return nil
	}

	settled, err := o.applyCapture(ctx, bookkeeping{
		BookingID: repair.BookingID,
		JobID:     repair.JobID,
		Amount:    repair.AmountCaptured,
		Notes:     repair.Notes,
		Mileage:   repair.Mileage,
	})
	repair.Attempts++
	if err != nil && !settled {
		repair.LastError = err.Error()
		if serr := o.store.SaveRepair(ctx, repair); serr != nil {
			log.Printf("❌ Failed to update repair %s: %v", repairID, serr)
		}
		return &OpError{Op: op, Kind: ErrPartialFailure, Detail: "repair " + repairID, Err: err}
	}

	now := o.now()
	repair.ResolvedAt = &now
	repair.LastError = ""
	if err := o.store.SaveRepair(ctx, repair); err != nil {
		return storeErr(op, err)
	}
	log.WithFields(log.Fields{"repair_id": repairID, "booking_id": repair.BookingID}).
		Info("✅ Bookkeeping repaired")
	return nil
}

// Reconcile applies a payment failed or canceled event. Events for bookings
// that are already complete or cancelled, or that were seen before, are
// no-ops. It reports whether the booking was cancelled by this call.
func (o *PaymentOrchestrator) Reconcile(ctx context.Context, ev payments.WebhookEvent) (applied bool, err error) {
	const op = "reconcile"
	ctx, span := startSpan(ctx, "PaymentOrchestrator.Reconcile",
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.Type),
		attribute.String("booking.id", ev.BookingID))
	defer func() { endSpan(span, err) }()

	if !ev.Reconcilable() {
		return false, nil
	}
	if ev.BookingID == "" {
		return false, opErr(op, ErrInvalidInput, "event %s has no booking id", ev.ID)
	}

	var cancelled *models.Booking
	err = o.store.RunTransaction(ctx, func(tx store.Tx) error {
		cancelled = nil
		if ev.ID != "" {
			fresh, err := tx.MarkEventProcessed(ev.ID, ev.Type)
			if err != nil {
				return err
			}
			if !fresh {
				return nil
			}
		}

		booking, err := tx.GetBooking(ev.BookingID)
		if errors.Is(err, store.ErrNotFound) {
			return opErr(op, ErrNotFound, "booking %s", ev.BookingID)
		}
		if err != nil {
			return err
		}
		if booking.Status.IsTerminal() {
			return nil
		}
		if ev.HoldID != "" && booking.PaymentHoldID != nil && *booking.PaymentHoldID != ev.HoldID {
			log.Printf("⚠️ Ignoring %s for stale hold %s on booking %s", ev.Type, ev.HoldID, booking.ID)
			return nil
		}

		now := o.now()
		if booking.JobID != nil {
			job, err := tx.GetJob(*booking.JobID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if job != nil {
				job.CancelledAt = &now
				if err := tx.UpdateJob(job); err != nil {
					return err
				}
				if err := releaseTechnician(tx, job.TechnicianID, job.ID); err != nil {
					return err
				}
			}
		}

		booking.Status = models.BookingStatusCancelled
		booking.CancelledAt = &now
		booking.CancelReason = ev.Type
		booking.TechnicianID = nil
		booking.JobID = nil
		if err := tx.UpdateBooking(booking); err != nil {
			return err
		}
		cancelled = booking
		return nil
	})
	if err != nil {
		return false, storeErr(op, err)
	}
	if cancelled == nil {
		log.Printf("ℹ️ Webhook %s (%s) for booking %s was a no-op", ev.ID, ev.Type, ev.BookingID)
		return false, nil
	}

	log.WithFields(log.Fields{"booking_id": ev.BookingID, "event_id": ev.ID, "event_type": ev.Type}).
		Info("✅ Booking cancelled by payment reconciliation")
	o.notifier.Enqueue(notifyEvent(cancelled.CustomerID, models.NotificationPaymentFailed,
		"Payment failed", "Your booking was cancelled because the payment could not be completed.",
		cancelled.ID, "", o.now()))
	return true, nil
}
