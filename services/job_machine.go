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

// Completer finishes a job through payment capture. The payment orchestrator
// is the only implementation.
type Completer interface {
	Capture(ctx context.Context, bookingID, jobID string, actor Actor, details CaptureDetails) (*CaptureResult, error)
}

// JobMachine applies forward-only stage transitions to jobs.
type JobMachine struct {
	store     store.Store
	completer Completer
	notifier  Notifier
	now       func() time.Time
}

// NewJobMachine creates a JobMachine. Advancing to complete is delegated to
// completer.
func NewJobMachine(st store.Store, completer Completer, notifier Notifier) *JobMachine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &JobMachine{store: st, completer: completer, notifier: notifier, now: utcNow}
}

// bookingStatusFor returns the booking status mirrored by a job stage.
func bookingStatusFor(stage models.JobStage) (models.BookingStatus, bool) {
	switch stage {
	case models.StageEnRoute:
		return models.BookingStatusEnRoute, true
	case models.StageInProgress:
		return models.BookingStatusInProgress, true
	}
	return "", false
}

func checkTransition(op string, job *models.Job, target models.JobStage) error {
	if target.Rank() < 0 {
		return opErr(op, ErrInvalidInput, "unknown stage %q", target)
	}
	if job.CancelledAt != nil {
		return opErr(op, ErrInvalidTransition, "job %s was cancelled", job.ID)
	}
	next, ok := job.CurrentStage.Next()
	if !ok || next != target {
		return opErr(op, ErrInvalidTransition, "job %s is %s, cannot move to %s", job.ID, job.CurrentStage, target)
	}
	return nil
}

// Advance moves the job to target, which must be the stage immediately after
// its current one. Only the assigned technician may advance. Advancing from
// quality_check to complete captures payment.
func (m *JobMachine) Advance(ctx context.Context, jobID string, target models.JobStage, actor Actor) (err error) {
	const op = "advance"
	ctx, span := startSpan(ctx, "JobMachine.Advance",
		attribute.String("job.id", jobID),
		attribute.String("job.target_stage", string(target)))
	defer func() { endSpan(span, err) }()

	if target == models.StageComplete {
		return m.complete(ctx, jobID, actor)
	}

	// The booking id never changes, so it is read up front to lock the
	// booking before the job, the order every lifecycle transaction uses.
	current, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return opErr(op, ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return storeErr(op, err)
	}

	var job *models.Job
	err = m.store.RunTransaction(ctx, func(tx store.Tx) error {
		booking, err := tx.GetBooking(current.BookingID)
		if err != nil {
			return err
		}
		j, err := tx.GetJob(jobID)
		if err != nil {
			return err
		}
		if err := authorize(op, ActionAdvance, actor, SubjectForJob(j)); err != nil {
			return err
		}
		if err := checkTransition(op, j, target); err != nil {
			return err
		}

		now := m.now()
		j.EnterStage(target, now)
		if target == models.StageInProgress && j.StartedAt == nil {
			j.StartedAt = &now
		}

		if status, ok := bookingStatusFor(target); ok {
			if booking.Status.IsTerminal() {
				return opErr(op, ErrInvalidTransition, "booking %s is %s", booking.ID, booking.Status)
			}
			booking.Status = status
			if err := tx.UpdateBooking(booking); err != nil {
				return err
			}
		}
		if err := tx.UpdateJob(j); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return storeErr(op, err)
	}

	log.WithFields(log.Fields{"job_id": jobID, "stage": target}).Info("✅ Job advanced")
	m.notifyStage(job, target)
	return nil
}

// complete validates the last technician step and hands off to capture.
func (m *JobMachine) complete(ctx context.Context, jobID string, actor Actor) error {
	const op = "advance"
	job, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return opErr(op, ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return storeErr(op, err)
	}
	if err := authorize(op, ActionAdvance, actor, SubjectForJob(job)); err != nil {
		return err
	}
	if err := checkTransition(op, job, models.StageComplete); err != nil {
		return err
	}
	if m.completer == nil {
		return opErr(op, ErrInvalidTransition, "completion is not available")
	}
	_, err = m.completer.Capture(ctx, job.BookingID, job.ID, actor, CaptureDetails{})
	return err
}

func (m *JobMachine) notifyStage(job *models.Job, stage models.JobStage) {
	var typ, title, body string
	switch stage {
	case models.StageEnRoute:
		typ, title, body = models.NotificationTechnicianEnRoute, "Technician en route", "Your technician is on the way."
	case models.StageArrived:
		typ, title, body = models.NotificationTechnicianArrived, "Technician arrived", "Your technician has arrived."
	case models.StageInProgress:
		typ, title, body = models.NotificationJobStarted, "Service started", "Work on your vehicle has started."
	default:
		return
	}
	m.notifier.Enqueue(notifyEvent(job.CustomerID, typ, title, body, job.BookingID, job.ID, m.now()))
}

// completeInTx moves a job straight to complete. It is the privileged path
// used by payment capture and is a no-op for a job that is already complete.
func completeInTx(tx store.Tx, job *models.Job, at time.Time) error {
	if job.CurrentStage == models.StageComplete {
		return nil
	}
	job.EnterStage(models.StageComplete, at)
	job.CompletedAt = &at
	return tx.UpdateJob(job)
}

// releaseTechnician clears the technician's current job pointer when it
// still points at jobID. Assignment is the only writer that sets it.
func releaseTechnician(tx store.Tx, technicianID, jobID string) error {
	tech, err := tx.GetTechnician(technicianID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("⚠️ Technician %s missing while releasing job %s", technicianID, jobID)
		return nil
	}
	if err != nil {
		return err
	}
	if tech.CurrentJobID == nil || *tech.CurrentJobID != jobID {
		return nil
	}
	tech.CurrentJobID = nil
	tech.IsAvailable = true
	return tx.UpdateTechnician(tech)
}
