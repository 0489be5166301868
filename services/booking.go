package services

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"fieldservice-server/models"
	"fieldservice-server/payments"
	"fieldservice-server/store"
)

// BookingService covers the customer-facing booking operations and reads.
type BookingService struct {
	store    store.Store
	payments *PaymentOrchestrator
	gateway  payments.Gateway
	notifier Notifier
	now      func() time.Time
}

// NewBookingService creates a BookingService.
func NewBookingService(st store.Store, orchestrator *PaymentOrchestrator, gw payments.Gateway, notifier Notifier) *BookingService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &BookingService{store: st, payments: orchestrator, gateway: gw, notifier: notifier, now: utcNow}
}

// CreateBooking stores a pending booking and opens its payment hold. When
// the gateway fails the booking is still returned, pending and without a
// hold, together with the gateway error.
func (s *BookingService) CreateBooking(ctx context.Context, actor Actor, in models.BookingCreate) (*models.Booking, error) {
	const op = "create_booking"
	if actor.Role != RoleCustomer || actor.ID == "" {
		return nil, opErr(op, ErrForbidden, "only customers may create bookings")
	}
	if in.TotalPriceCents <= 0 {
		return nil, opErr(op, ErrInvalidInput, "total_price_cents must be positive")
	}
	if in.ScheduledAt.IsZero() {
		return nil, opErr(op, ErrInvalidInput, "scheduled_at is required")
	}
	if strings.TrimSpace(in.Service.Name) == "" {
		return nil, opErr(op, ErrInvalidInput, "service name is required")
	}

	booking := &models.Booking{
		ID:              newID(),
		CustomerID:      actor.ID,
		Status:          models.BookingStatusPending,
		Service:         in.Service,
		Vehicle:         in.Vehicle,
		ScheduledAt:     in.ScheduledAt.UTC(),
		Address:         in.Address,
		TotalPriceCents: in.TotalPriceCents,
	}
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		return tx.CreateBooking(booking)
	})
	if err != nil {
		return nil, storeErr(op, err)
	}
	log.Printf("✅ Booking %s created for customer %s", booking.ID, actor.ID)

	_, holdErr := s.payments.OpenHold(ctx, booking.ID, booking.TotalPriceCents, in.PaymentMethodID)
	current, err := s.store.GetBooking(ctx, booking.ID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return current, holdErr
}

// RetryHold opens the hold of a pending booking whose first attempt failed.
func (s *BookingService) RetryHold(ctx context.Context, actor Actor, bookingID, paymentMethodID string) (*models.Booking, error) {
	const op = "retry_hold"
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if err := authorize(op, ActionRetryHold, actor, SubjectForBooking(booking)); err != nil {
		return nil, err
	}
	if _, err := s.payments.OpenHold(ctx, bookingID, booking.TotalPriceCents, paymentMethodID); err != nil {
		return nil, err
	}
	return s.store.GetBooking(ctx, bookingID)
}

// CancelBooking cancels a pending booking on behalf of its customer and voids
// the hold. Voiding is best effort; the gateway's canceled webhook is a no-op
// for an already cancelled booking.
func (s *BookingService) CancelBooking(ctx context.Context, actor Actor, bookingID, reason string) (*models.Booking, error) {
	const op = "cancel_booking"
	var cancelled *models.Booking
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		booking, err := tx.GetBooking(bookingID)
		if errors.Is(err, store.ErrNotFound) {
			return opErr(op, ErrNotFound, "booking %s", bookingID)
		}
		if err != nil {
			return err
		}
		if err := authorize(op, ActionCancel, actor, SubjectForBooking(booking)); err != nil {
			return err
		}
		if booking.Status != models.BookingStatusPending {
			return opErr(op, ErrConflict, "booking %s is %s", bookingID, booking.Status)
		}
		now := s.now()
		booking.Status = models.BookingStatusCancelled
		booking.CancelledAt = &now
		if reason == "" {
			reason = "cancelled_by_customer"
		}
		booking.CancelReason = reason
		if err := tx.UpdateBooking(booking); err != nil {
			return err
		}
		cancelled = booking
		return nil
	})
	if err != nil {
		return nil, storeErr(op, err)
	}

	if cancelled.PaymentHoldID != nil && s.gateway != nil {
		if err := s.gateway.Void(ctx, *cancelled.PaymentHoldID); err != nil {
			log.Printf("⚠️ Failed to void hold %s for booking %s: %v", *cancelled.PaymentHoldID, bookingID, err)
		}
	}
	s.notifier.Enqueue(notifyEvent(cancelled.CustomerID, models.NotificationBookingCancelled,
		"Booking cancelled", "Your booking was cancelled.", cancelled.ID, "", s.now()))
	return cancelled, nil
}

// GetBooking returns a booking the actor may view.
func (s *BookingService) GetBooking(ctx context.Context, actor Actor, bookingID string) (*models.Booking, error) {
	const op = "get_booking"
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if err := authorize(op, ActionView, actor, SubjectForBooking(booking)); err != nil {
		return nil, err
	}
	return booking, nil
}

// GetJob returns a job the actor may view.
func (s *BookingService) GetJob(ctx context.Context, actor Actor, jobID string) (*models.Job, error) {
	const op = "get_job"
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if err := authorize(op, ActionView, actor, SubjectForJob(job)); err != nil {
		return nil, err
	}
	return job, nil
}

// GetServiceRecord returns the completed-service record of a booking.
func (s *BookingService) GetServiceRecord(ctx context.Context, actor Actor, bookingID string) (*models.ServiceRecord, error) {
	if _, err := s.GetBooking(ctx, actor, bookingID); err != nil {
		return nil, err
	}
	rec, err := s.store.GetServiceRecordByBooking(ctx, bookingID)
	if err != nil {
		return nil, storeErr("get_service_record", err)
	}
	return rec, nil
}

// CreateTechnician registers an available technician. Admin only.
func (s *BookingService) CreateTechnician(ctx context.Context, actor Actor, in models.TechnicianCreate) (*models.Technician, error) {
	const op = "create_technician"
	if actor.Role != RoleAdmin {
		return nil, opErr(op, ErrForbidden, "only admins may register technicians")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, opErr(op, ErrInvalidInput, "name is required")
	}
	tech := &models.Technician{
		ID:          in.ID,
		Name:        in.Name,
		PhoneNumber: in.PhoneNumber,
		IsAvailable: true,
	}
	if tech.ID == "" {
		tech.ID = newID()
	}
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		return tx.CreateTechnician(tech)
	})
	if err != nil {
		return nil, storeErr(op, err)
	}
	return s.store.GetTechnician(ctx, tech.ID)
}

// StatusService maps booking-level status requests onto the job machine,
// the payment orchestrator and customer cancellation.
type StatusService struct {
	store    store.Reader
	jobs     *JobMachine
	payments *PaymentOrchestrator
	bookings *BookingService
}

// NewStatusService creates a StatusService.
func NewStatusService(st store.Reader, jobs *JobMachine, orchestrator *PaymentOrchestrator, bookings *BookingService) *StatusService {
	return &StatusService{store: st, jobs: jobs, payments: orchestrator, bookings: bookings}
}

// UpdateStatus applies a booking status change requested by actor. A
// completion also returns the capture result.
func (s *StatusService) UpdateStatus(ctx context.Context, actor Actor, bookingID string, req models.BookingStatusUpdate) (models.BookingStatus, *CaptureResult, error) {
	const op = "update_status"
	if req.ActorID != "" && req.ActorID != actor.ID {
		return "", nil, opErr(op, ErrForbidden, "actor_id does not match the authenticated user")
	}

	if req.TargetStatus == models.BookingStatusCancelled {
		b, err := s.bookings.CancelBooking(ctx, actor, bookingID, req.Notes)
		if err != nil {
			return "", nil, err
		}
		return b.Status, nil, nil
	}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return "", nil, storeErr(op, err)
	}

	switch req.TargetStatus {
	case models.BookingStatusEnRoute, models.BookingStatusInProgress:
		if booking.JobID == nil {
			return "", nil, opErr(op, ErrInvalidTransition, "booking %s has no job", bookingID)
		}
		stage := models.StageEnRoute
		if req.TargetStatus == models.BookingStatusInProgress {
			stage = models.StageInProgress
		}
		if err := s.jobs.Advance(ctx, *booking.JobID, stage, actor); err != nil {
			return "", nil, err
		}
		return req.TargetStatus, nil, nil

	case models.BookingStatusComplete:
		if booking.JobID == nil {
			return "", nil, opErr(op, ErrConflict, "booking %s has no job", bookingID)
		}
		res, err := s.payments.Capture(ctx, bookingID, *booking.JobID, actor, CaptureDetails{
			Notes:   req.Notes,
			Mileage: req.Mileage,
		})
		if err != nil {
			return "", nil, err
		}
		return models.BookingStatusComplete, res, nil
	}
	return "", nil, opErr(op, ErrInvalidInput, "unsupported target status %q", req.TargetStatus)
}
