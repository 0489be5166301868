package services

import (
	"context"
	"errors"
	"testing"

	"fieldservice-server/models"
	"fieldservice-server/payments"
)

func TestOpenHoldIdempotentPerBooking(t *testing.T) {
	e := newTestEnv(t)
	b := e.createBooking(t, 5000)
	if b.PaymentHoldID == nil {
		t.Fatal("booking created without a hold")
	}
	if b.PaymentProvider != "sandbox" {
		t.Errorf("provider = %q, want sandbox", b.PaymentProvider)
	}

	id, err := e.payments.OpenHold(context.Background(), b.ID, 5000, "")
	if err != nil {
		t.Fatalf("OpenHold() error = %v", err)
	}
	if id != *b.PaymentHoldID {
		t.Errorf("OpenHold() = %s, want existing %s", id, *b.PaymentHoldID)
	}
	if n := e.gw.HoldCount(); n != 1 {
		t.Errorf("hold count = %d, want 1", n)
	}

	if _, err := e.payments.OpenHold(context.Background(), b.ID, 0, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("OpenHold(0) error = %v, want ErrInvalidInput", err)
	}
}

func TestCreateBookingSurvivesHoldFailure(t *testing.T) {
	e := newTestEnv(t)
	e.gw.FailNext(1, nil)

	b, err := e.bookings.CreateBooking(context.Background(), customer, models.BookingCreate{
		Service:         models.ServiceSnapshot{Name: "Brake pads"},
		ScheduledAt:     e.payments.now(),
		TotalPriceCents: 12000,
	})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("CreateBooking() error = %v, want ErrGateway", err)
	}
	if b == nil || b.Status != models.BookingStatusPending || b.PaymentHoldID != nil {
		t.Fatalf("booking = %+v, want pending without a hold", b)
	}

	e.addTechnician(t, "T1")
	if _, err := e.assign.Assign(context.Background(), b.ID, "T1", technician("T1")); !errors.Is(err, ErrConflict) {
		t.Fatalf("Assign() without a hold error = %v, want ErrConflict", err)
	}
	if got := e.booking(t, b.ID); got.Status != models.BookingStatusPending || got.TechnicianID != nil {
		t.Errorf("booking = %s assigned to %v, want pending and unassigned", got.Status, got.TechnicianID)
	}
	if tech := e.tech(t, "T1"); !tech.IsAvailable || tech.CurrentJobID != nil {
		t.Errorf("technician = %+v, want available", tech)
	}

	got, err := e.bookings.RetryHold(context.Background(), customer, b.ID, "")
	if err != nil {
		t.Fatalf("RetryHold() error = %v", err)
	}
	if got.PaymentHoldID == nil {
		t.Fatal("RetryHold() left the booking without a hold")
	}
	if _, err := e.assign.Assign(context.Background(), b.ID, "T1", technician("T1")); err != nil {
		t.Errorf("Assign() after RetryHold error = %v", err)
	}
}

func TestCaptureTwice(t *testing.T) {
	e := newTestEnv(t)
	b, jobID := e.assigned(t, "T1", 5000)
	e.advanceTo(t, jobID, "T1", models.StageQualityCheck)
	mileage := 42150

	res, err := e.payments.Capture(context.Background(), b.ID, jobID, technician("T1"), CaptureDetails{Notes: "Replaced filter", Mileage: &mileage})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if res.AmountCaptured != 5000 || res.BookkeepingPending {
		t.Errorf("Capture() = %+v, want 5000 settled", res)
	}

	_, err = e.payments.Capture(context.Background(), b.ID, jobID, technician("T1"), CaptureDetails{})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second Capture() error = %v, want ErrConflict", err)
	}
	if n := e.gw.CaptureCount(*b.PaymentHoldID); n != 1 {
		t.Errorf("capture count = %d, want 1", n)
	}

	got := e.booking(t, b.ID)
	if got.Status != models.BookingStatusComplete || got.CapturedAmountCents == nil || *got.CapturedAmountCents != 5000 {
		t.Errorf("booking = %s captured %v, want complete 5000", got.Status, got.CapturedAmountCents)
	}
	if tech := e.tech(t, "T1"); !tech.IsAvailable || tech.CurrentJobID != nil {
		t.Errorf("technician not released: %+v", tech)
	}

	rec, err := e.mem.GetServiceRecordByBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetServiceRecordByBooking() error = %v", err)
	}
	if rec.CostCents != 5000 || rec.VehicleID != "V1" || rec.ServiceType != "Oil change" || rec.TechNotes != "Replaced filter" {
		t.Errorf("service record = %+v", rec)
	}
	if rec.MileageAtService == nil || *rec.MileageAtService != 42150 {
		t.Errorf("mileage = %v, want 42150", rec.MileageAtService)
	}
	if got := e.notes.count(models.NotificationJobCompleted); got != 1 {
		t.Errorf("job_completed notifications = %d, want 1", got)
	}
}

func TestCaptureRejectsWrongCaller(t *testing.T) {
	e := newTestEnv(t)
	b, jobID := e.assigned(t, "T1", 5000)
	e.addTechnician(t, "T2")

	for _, actor := range []Actor{technician("T2"), customer, admin} {
		_, err := e.payments.Capture(context.Background(), b.ID, jobID, actor, CaptureDetails{})
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("Capture() by %s error = %v, want ErrForbidden", actor.ID, err)
		}
	}
	if n := e.gw.CaptureCount(*b.PaymentHoldID); n != 0 {
		t.Errorf("capture count = %d, want 0", n)
	}
}

func TestCaptureNotFound(t *testing.T) {
	e := newTestEnv(t)
	b, jobID := e.assigned(t, "T1", 5000)
	other := e.createBooking(t, 1000)

	if _, err := e.payments.Capture(context.Background(), "nope", jobID, technician("T1"), CaptureDetails{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Capture(missing booking) error = %v, want ErrNotFound", err)
	}
	if _, err := e.payments.Capture(context.Background(), b.ID, "nope", technician("T1"), CaptureDetails{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Capture(missing job) error = %v, want ErrNotFound", err)
	}
	if _, err := e.payments.Capture(context.Background(), other.ID, jobID, technician("T1"), CaptureDetails{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Capture(job of another booking) error = %v, want ErrNotFound", err)
	}
}

func TestCaptureGatewayErrorIsRetryable(t *testing.T) {
	e := newTestEnv(t)
	b, jobID := e.assigned(t, "T1", 5000)
	e.gw.FailNext(1, nil)

	_, err := e.payments.Capture(context.Background(), b.ID, jobID, technician("T1"), CaptureDetails{})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("Capture() error = %v, want ErrGateway", err)
	}
	if got := e.booking(t, b.ID); got.Status != models.BookingStatusAccepted {
		t.Errorf("booking status = %s after gateway error, want accepted", got.Status)
	}

	res, err := e.payments.Capture(context.Background(), b.ID, jobID, technician("T1"), CaptureDetails{})
	if err != nil || res.AmountCaptured != 5000 {
		t.Fatalf("retried Capture() = %+v, %v", res, err)
	}
}

func TestCaptureVoidedHoldConflicts(t *testing.T) {
	e := newTestEnv(t)
	b, jobID := e.assigned(t, "T1", 5000)
	if err := e.gw.Void(context.Background(), *b.PaymentHoldID); err != nil {
		t.Fatalf("Void() error = %v", err)
	}

	_, err := e.payments.Capture(context.Background(), b.ID, jobID, technician("T1"), CaptureDetails{})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Capture() error = %v, want ErrConflict", err)
	}
}

func TestCapturePartialFailureAndRepair(t *testing.T) {
	e := newTestEnv(t)
	b, jobID := e.assigned(t, "T1", 5000)
	e.advanceTo(t, jobID, "T1", models.StageQualityCheck)

	e.flaky.failTx.Store(true)
	res, err := e.payments.Capture(context.Background(), b.ID, jobID, technician("T1"), CaptureDetails{Notes: "done"})
	if err != nil {
		t.Fatalf("Capture() error = %v, want success with pending bookkeeping", err)
	}
	if res.AmountCaptured != 5000 || !res.BookkeepingPending || res.RepairID == "" {
		t.Fatalf("Capture() = %+v", res)
	}
	if n := e.gw.CaptureCount(*b.PaymentHoldID); n != 1 {
		t.Errorf("capture count = %d, want 1", n)
	}
	if len(e.alerts.repairs) != 1 || !errors.Is(e.alerts.causes[0], ErrPartialFailure) {
		t.Fatalf("alerts = %d, want one partial failure", len(e.alerts.repairs))
	}
	if got := e.booking(t, b.ID); got.Status == models.BookingStatusComplete {
		t.Error("booking completed although the transaction failed")
	}

	open, err := e.mem.ListOpenRepairs(context.Background(), 10)
	if err != nil || len(open) != 1 || open[0].ID != res.RepairID {
		t.Fatalf("ListOpenRepairs() = %+v, %v", open, err)
	}

	err = e.payments.RetryBookkeeping(context.Background(), res.RepairID, SystemActor)
	if !errors.Is(err, ErrPartialFailure) {
		t.Fatalf("RetryBookkeeping() while store is down error = %v, want ErrPartialFailure", err)
	}
	if r, _ := e.mem.GetRepair(context.Background(), res.RepairID); r.Attempts != 2 || r.ResolvedAt != nil {
		t.Errorf("repair after failed retry = %+v", r)
	}

	e.flaky.failTx.Store(false)
	if err := e.payments.RetryBookkeeping(context.Background(), res.RepairID, technician("T1")); !errors.Is(err, ErrForbidden) {
		t.Errorf("RetryBookkeeping() by technician error = %v, want ErrForbidden", err)
	}
	if err := e.payments.RetryBookkeeping(context.Background(), res.RepairID, admin); err != nil {
		t.Fatalf("RetryBookkeeping() error = %v", err)
	}

	got := e.booking(t, b.ID)
	if got.Status != models.BookingStatusComplete || *got.CapturedAmountCents != 5000 {
		t.Errorf("booking = %s, want complete 5000", got.Status)
	}
	if job := e.job(t, jobID); job.CurrentStage != models.StageComplete {
		t.Errorf("job stage = %s, want complete", job.CurrentStage)
	}
	if tech := e.tech(t, "T1"); !tech.IsAvailable {
		t.Error("technician not released after repair")
	}
	if open, _ := e.mem.ListOpenRepairs(context.Background(), 10); len(open) != 0 {
		t.Errorf("open repairs = %d, want 0", len(open))
	}

	if err := e.payments.RetryBookkeeping(context.Background(), res.RepairID, admin); err != nil {
		t.Errorf("RetryBookkeeping() of a resolved repair error = %v", err)
	}
	if n := e.gw.CaptureCount(*b.PaymentHoldID); n != 1 {
		t.Errorf("capture count after repair = %d, want 1", n)
	}
}

func TestRepairCompletesBookingCancelledAfterCapture(t *testing.T) {
	e := newTestEnv(t)
	b, jobID := e.assigned(t, "T1", 5000)
	e.advanceTo(t, jobID, "T1", models.StageQualityCheck)

	e.flaky.failTx.Store(true)
	res, err := e.payments.Capture(context.Background(), b.ID, jobID, technician("T1"), CaptureDetails{})
	if err != nil || res.RepairID == "" {
		t.Fatalf("Capture() = %+v, %v; want pending bookkeeping", res, err)
	}
	e.flaky.failTx.Store(false)

	applied, err := e.payments.Reconcile(context.Background(), payments.WebhookEvent{
		ID:        "evt_late",
		Type:      payments.EventPaymentFailed,
		HoldID:    *b.PaymentHoldID,
		BookingID: b.ID,
	})
	if err != nil || !applied {
		t.Fatalf("Reconcile() = %v, %v", applied, err)
	}

	if err := e.payments.RetryBookkeeping(context.Background(), res.RepairID, SystemActor); err != nil {
		t.Fatalf("RetryBookkeeping() error = %v", err)
	}

	got := e.booking(t, b.ID)
	if got.Status != models.BookingStatusComplete {
		t.Fatalf("booking status = %s, want complete", got.Status)
	}
	if got.TechnicianID == nil || *got.TechnicianID != "T1" || got.JobID == nil || *got.JobID != jobID {
		t.Errorf("booking assignment = %v / %v, want T1 / %s", got.TechnicianID, got.JobID, jobID)
	}
	if got.CancelledAt != nil || got.CancelReason != "" {
		t.Errorf("booking still carries cancellation %v %q", got.CancelledAt, got.CancelReason)
	}
	job := e.job(t, jobID)
	if job.CurrentStage != models.StageComplete || job.CancelledAt != nil {
		t.Errorf("job = %s cancelled at %v, want complete", job.CurrentStage, job.CancelledAt)
	}
	if tech := e.tech(t, "T1"); !tech.IsAvailable || tech.CurrentJobID != nil {
		t.Errorf("technician = %+v, want available", tech)
	}
	if open, _ := e.mem.ListOpenRepairs(context.Background(), 10); len(open) != 0 {
		t.Errorf("open repairs = %d, want 0", len(open))
	}
}

func TestReconcileIdempotent(t *testing.T) {
	e := newTestEnv(t)
	b := e.createBooking(t, 5000)
	ev := payments.WebhookEvent{
		ID:        "evt_1",
		Type:      payments.EventPaymentCanceled,
		HoldID:    *b.PaymentHoldID,
		BookingID: b.ID,
	}

	applied, err := e.payments.Reconcile(context.Background(), ev)
	if err != nil || !applied {
		t.Fatalf("first Reconcile() = %v, %v; want applied", applied, err)
	}
	first := e.booking(t, b.ID)
	if first.Status != models.BookingStatusCancelled {
		t.Fatalf("status = %s, want cancelled", first.Status)
	}

	applied, err = e.payments.Reconcile(context.Background(), ev)
	if err != nil || applied {
		t.Errorf("redelivered Reconcile() = %v, %v; want a no-op", applied, err)
	}
	if again := e.booking(t, b.ID); again.Version != first.Version {
		t.Errorf("version %d -> %d on redelivery", first.Version, again.Version)
	}
	if got := e.notes.count(models.NotificationPaymentFailed); got != 1 {
		t.Errorf("payment_failed notifications = %d, want 1", got)
	}
}

func TestReconcileReleasesAssignment(t *testing.T) {
	e := newTestEnv(t)
	b, jobID := e.assigned(t, "T1", 5000)
	e.advanceTo(t, jobID, "T1", models.StageEnRoute)

	applied, err := e.payments.Reconcile(context.Background(), payments.WebhookEvent{
		ID:        "evt_2",
		Type:      payments.EventPaymentFailed,
		BookingID: b.ID,
	})
	if err != nil || !applied {
		t.Fatalf("Reconcile() = %v, %v", applied, err)
	}

	got := e.booking(t, b.ID)
	if got.Status != models.BookingStatusCancelled || got.TechnicianID != nil || got.JobID != nil {
		t.Errorf("booking = %+v, want cancelled without assignment", got)
	}
	if job := e.job(t, jobID); job.CancelledAt == nil {
		t.Error("job not marked cancelled")
	}
	if tech := e.tech(t, "T1"); !tech.IsAvailable || tech.CurrentJobID != nil {
		t.Errorf("technician not released: %+v", tech)
	}
	if err := e.jobs.Advance(context.Background(), jobID, models.StageArrived, technician("T1")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Advance() on cancelled job error = %v, want ErrInvalidTransition", err)
	}
}

func TestReconcileNoops(t *testing.T) {
	e := newTestEnv(t)
	done, jobID := e.assigned(t, "T1", 5000)
	if _, err := e.payments.Capture(context.Background(), done.ID, jobID, technician("T1"), CaptureDetails{}); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	pending := e.createBooking(t, 2000)

	tests := []struct {
		name string
		ev   payments.WebhookEvent
	}{
		{"completed booking", payments.WebhookEvent{ID: "evt_a", Type: payments.EventPaymentCanceled, BookingID: done.ID}},
		{"not reconcilable", payments.WebhookEvent{ID: "evt_b", Type: "payment_intent.succeeded", BookingID: pending.ID}},
		{"stale hold", payments.WebhookEvent{ID: "evt_c", Type: payments.EventPaymentFailed, HoldID: "pi_old", BookingID: pending.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := e.payments.Reconcile(context.Background(), tt.ev)
			if err != nil || applied {
				t.Errorf("Reconcile() = %v, %v; want a no-op", applied, err)
			}
		})
	}

	if got := e.booking(t, done.ID); got.Status != models.BookingStatusComplete {
		t.Errorf("completed booking status = %s", got.Status)
	}
	if got := e.booking(t, pending.ID); got.Status != models.BookingStatusPending {
		t.Errorf("pending booking status = %s", got.Status)
	}

	_, err := e.payments.Reconcile(context.Background(), payments.WebhookEvent{ID: "evt_d", Type: payments.EventPaymentFailed})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Reconcile() without booking id error = %v, want ErrInvalidInput", err)
	}
}
