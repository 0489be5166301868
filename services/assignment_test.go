package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"fieldservice-server/models"
)

func TestAssignConcurrentSingleWinner(t *testing.T) {
	e := newTestEnv(t)
	const n = 10
	for i := 0; i < n; i++ {
		e.addTechnician(t, fmt.Sprintf("T%d", i))
	}
	b := e.createBooking(t, 5000)

	type result struct {
		techID string
		jobID  string
		err    error
	}
	results := make(chan result, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		techID := fmt.Sprintf("T%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			jobID, err := e.assign.Assign(context.Background(), b.ID, techID, technician(techID))
			results <- result{techID: techID, jobID: jobID, err: err}
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var winner result
	wins, conflicts := 0, 0
	for r := range results {
		switch {
		case r.err == nil:
			wins++
			winner = r
		case errors.Is(r.err, ErrConflict):
			conflicts++
		default:
			t.Errorf("Assign(%s) unexpected error = %v", r.techID, r.err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins = %d, conflicts = %d, want 1 and %d", wins, conflicts, n-1)
	}

	got := e.booking(t, b.ID)
	if got.Status != models.BookingStatusAccepted {
		t.Errorf("booking status = %s, want accepted", got.Status)
	}
	if got.TechnicianID == nil || *got.TechnicianID != winner.techID {
		t.Errorf("booking technician = %v, want %s", got.TechnicianID, winner.techID)
	}
	if got.JobID == nil || *got.JobID != winner.jobID {
		t.Errorf("booking job = %v, want %s", got.JobID, winner.jobID)
	}

	job := e.job(t, winner.jobID)
	if job.CurrentStage != models.StageDispatched || len(job.StageHistory) != 1 {
		t.Errorf("job stage = %s with %d history entries, want dispatched with 1", job.CurrentStage, len(job.StageHistory))
	}
	if job.TechnicianID != winner.techID || job.CustomerID != customer.ID {
		t.Errorf("job parties = %s/%s", job.TechnicianID, job.CustomerID)
	}

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("T%d", i)
		tech := e.tech(t, id)
		if id == winner.techID {
			if tech.IsAvailable || tech.CurrentJobID == nil || *tech.CurrentJobID != winner.jobID {
				t.Errorf("winner %s = %+v, want busy on %s", id, tech, winner.jobID)
			}
			continue
		}
		if !tech.IsAvailable || tech.CurrentJobID != nil {
			t.Errorf("loser %s = %+v, want available", id, tech)
		}
	}

	if got := e.notes.count(models.NotificationBookingAccepted); got != 1 {
		t.Errorf("booking_accepted notifications = %d, want 1", got)
	}
}

func TestAssignBusyTechnician(t *testing.T) {
	e := newTestEnv(t)
	e.assigned(t, "T1", 5000)
	second := e.createBooking(t, 3000)

	_, err := e.assign.Assign(context.Background(), second.ID, "T1", technician("T1"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Assign() error = %v, want ErrConflict", err)
	}
	if got := e.booking(t, second.ID); got.Status != models.BookingStatusPending || got.JobID != nil {
		t.Errorf("second booking mutated: %+v", got)
	}
}

func TestAssignErrors(t *testing.T) {
	e := newTestEnv(t)
	e.addTechnician(t, "T1")
	e.addTechnician(t, "T2")
	b := e.createBooking(t, 5000)
	cancelled := e.createBooking(t, 5000)
	if _, err := e.bookings.CancelBooking(context.Background(), customer, cancelled.ID, ""); err != nil {
		t.Fatalf("CancelBooking() error = %v", err)
	}

	tests := []struct {
		name      string
		bookingID string
		techID    string
		actor     Actor
		want      error
	}{
		{"missing booking", "nope", "T1", technician("T1"), ErrNotFound},
		{"missing technician", b.ID, "T9", technician("T9"), ErrNotFound},
		{"other technician", b.ID, "T1", technician("T2"), ErrForbidden},
		{"customer", b.ID, "T1", customer, ErrForbidden},
		{"cancelled booking", cancelled.ID, "T1", technician("T1"), ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.assign.Assign(context.Background(), tt.bookingID, tt.techID, tt.actor)
			if !errors.Is(err, tt.want) {
				t.Errorf("Assign() error = %v, want %v", err, tt.want)
			}
		})
	}

	if got := e.booking(t, b.ID); got.Status != models.BookingStatusPending {
		t.Errorf("booking status = %s after rejected assignments, want pending", got.Status)
	}
}

func TestAssignByAdmin(t *testing.T) {
	e := newTestEnv(t)
	e.addTechnician(t, "T1")
	b := e.createBooking(t, 5000)

	jobID, err := e.assign.Assign(context.Background(), b.ID, "T1", admin)
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if got := e.job(t, jobID); got.TechnicianID != "T1" {
		t.Errorf("job technician = %s, want T1", got.TechnicianID)
	}
}
