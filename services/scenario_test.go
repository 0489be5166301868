package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldservice-server/models"
)

func TestBookingToCaptureScenario(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	t1 := technician("T1")
	e.addTechnician(t, "T1")

	b1 := e.createBooking(t, 5000)
	if b1.Status != models.BookingStatusPending || b1.TotalPriceCents != 5000 {
		t.Fatalf("B1 = %s %d, want pending 5000", b1.Status, b1.TotalPriceCents)
	}

	j1, err := e.assign.Assign(ctx, b1.ID, "T1", t1)
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if got := e.booking(t, b1.ID); got.Status != models.BookingStatusAccepted {
		t.Fatalf("B1 status = %s, want accepted", got.Status)
	}

	if err := e.jobs.Advance(ctx, j1, models.StageEnRoute, t1); err != nil {
		t.Fatalf("Advance(en_route) error = %v", err)
	}
	if got := e.booking(t, b1.ID); got.Status != models.BookingStatusEnRoute {
		t.Fatalf("B1 status = %s, want en_route", got.Status)
	}

	fix := models.Location{Lat: 38.30, Lng: -76.63, Heading: 180, Speed: 8.5, UpdatedAt: time.Now().UTC()}
	if ok, err := e.location.Process(ctx, j1, t1, fix); err != nil || !ok {
		t.Fatalf("Process() = %v, %v", ok, err)
	}
	if loc := e.job(t, j1).LastKnownLocation; loc == nil || loc.Lat != 38.30 || loc.Lng != -76.63 {
		t.Fatalf("J1 last known location = %+v", loc)
	}

	if err := e.jobs.Advance(ctx, j1, models.StageComplete, t1); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Advance(complete) from en_route error = %v, want ErrInvalidTransition", err)
	}

	res, err := e.payments.Capture(ctx, b1.ID, j1, t1, CaptureDetails{})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if res.AmountCaptured != 5000 {
		t.Errorf("amount captured = %d, want 5000", res.AmountCaptured)
	}
	if got := e.booking(t, b1.ID); got.Status != models.BookingStatusComplete {
		t.Errorf("B1 status = %s, want complete", got.Status)
	}
	job := e.job(t, j1)
	if job.CurrentStage != models.StageComplete {
		t.Errorf("J1 stage = %s, want complete", job.CurrentStage)
	}
	if last := job.StageHistory[len(job.StageHistory)-1]; last.Stage != models.StageComplete {
		t.Errorf("J1 last history entry = %s, want complete", last.Stage)
	}
	if tech := e.tech(t, "T1"); !tech.IsAvailable || tech.CurrentJobID != nil {
		t.Errorf("T1 = %+v, want available", tech)
	}
}
