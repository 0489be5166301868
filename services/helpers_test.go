package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fieldservice-server/models"
	"fieldservice-server/payments"
	"fieldservice-server/store"
)

var (
	customer = Actor{ID: "C1", Role: RoleCustomer}
	admin    = Actor{ID: "A1", Role: RoleAdmin}
)

func technician(id string) Actor {
	return Actor{ID: id, Role: RoleTechnician}
}

type notificationLog struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (l *notificationLog) Enqueue(ev models.NotificationEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *notificationLog) count(typ string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type alertLog struct {
	mu      sync.Mutex
	repairs []*models.BookkeepingRepair
	causes  []error
}

func (l *alertLog) AlertPartialFailure(_ context.Context, repair *models.BookkeepingRepair, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.repairs = append(l.repairs, repair)
	l.causes = append(l.causes, cause)
}

var errStoreDown = errors.New("store unavailable")

// flakyStore fails every transaction while failTx is set. Plain reads and
// the repair log keep working.
type flakyStore struct {
	*store.MemoryStore
	failTx atomic.Bool
}

func (f *flakyStore) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	if f.failTx.Load() {
		return errStoreDown
	}
	return f.MemoryStore.RunTransaction(ctx, fn)
}

type testEnv struct {
	mem      *store.MemoryStore
	flaky    *flakyStore
	gw       *payments.SandboxGateway
	notes    *notificationLog
	alerts   *alertLog
	payments *PaymentOrchestrator
	bookings *BookingService
	status   *StatusService
	assign   *AssignmentCoordinator
	jobs     *JobMachine
	location *LocationBroadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	e := &testEnv{
		mem:    mem,
		flaky:  &flakyStore{MemoryStore: mem},
		gw:     payments.NewSandboxGateway(),
		notes:  &notificationLog{},
		alerts: &alertLog{},
	}
	e.payments = NewPaymentOrchestrator(e.flaky, e.gw, e.notes, e.alerts, "usd")
	e.bookings = NewBookingService(e.flaky, e.payments, e.gw, e.notes)
	e.assign = NewAssignmentCoordinator(e.flaky, e.notes)
	e.jobs = NewJobMachine(e.flaky, e.payments, e.notes)
	e.status = NewStatusService(e.flaky, e.jobs, e.payments, e.bookings)
	e.location = NewLocationBroadcaster(e.flaky, nil, LocationConfig{})
	return e
}

func (e *testEnv) addTechnician(t *testing.T, id string) {
	t.Helper()
	if _, err := e.bookings.CreateTechnician(context.Background(), admin, models.TechnicianCreate{ID: id, Name: "Tech " + id}); err != nil {
		t.Fatalf("CreateTechnician(%s) error = %v", id, err)
	}
}

func (e *testEnv) createBooking(t *testing.T, cents int64) *models.Booking {
	t.Helper()
	mileage := 42000
	b, err := e.bookings.CreateBooking(context.Background(), customer, models.BookingCreate{
		Service:         models.ServiceSnapshot{ServiceID: "svc-oil", Name: "Oil change", Category: "maintenance", PriceCents: cents, DurationMinutes: 45},
		Vehicle:         models.VehicleSnapshot{VehicleID: "V1", Year: 2019, Make: "Honda", Model: "Civic", Mileage: &mileage},
		ScheduledAt:     time.Now().Add(24 * time.Hour),
		TotalPriceCents: cents,
	})
	if err != nil {
		t.Fatalf("CreateBooking() error = %v", err)
	}
	return b
}

// assigned returns a booking with a hold, assigned to technician techID.
func (e *testEnv) assigned(t *testing.T, techID string, cents int64) (*models.Booking, string) {
	t.Helper()
	e.addTechnician(t, techID)
	b := e.createBooking(t, cents)
	jobID, err := e.assign.Assign(context.Background(), b.ID, techID, technician(techID))
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	return e.booking(t, b.ID), jobID
}

// advanceTo walks the job forward one stage at a time until it reaches stage.
func (e *testEnv) advanceTo(t *testing.T, jobID, techID string, stage models.JobStage) {
	t.Helper()
	for {
		job := e.job(t, jobID)
		if job.CurrentStage == stage {
			return
		}
		next, ok := job.CurrentStage.Next()
		if !ok {
			t.Fatalf("job %s cannot reach %s from %s", jobID, stage, job.CurrentStage)
		}
		if err := e.jobs.Advance(context.Background(), jobID, next, technician(techID)); err != nil {
			t.Fatalf("Advance(%s) error = %v", next, err)
		}
	}
}

func (e *testEnv) booking(t *testing.T, id string) *models.Booking {
	t.Helper()
	b, err := e.mem.GetBooking(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBooking(%s) error = %v", id, err)
	}
	return b
}

func (e *testEnv) job(t *testing.T, id string) *models.Job {
	t.Helper()
	j, err := e.mem.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob(%s) error = %v", id, err)
	}
	return j
}

func (e *testEnv) tech(t *testing.T, id string) *models.Technician {
	t.Helper()
	tech, err := e.mem.GetTechnician(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTechnician(%s) error = %v", id, err)
	}
	return tech
}
