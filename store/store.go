// Package store holds the lifecycle documents (bookings, jobs, technicians)
// and the transactional primitive every multi-document write goes through.
package store

import (
	"context"
	"errors"

	"fieldservice-server/models"
)

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a transaction lost a compare-and-swap
	// race and could not be committed.
	ErrConflict = errors.New("transaction conflict")
	// ErrDuplicate is returned when creating a document whose id exists.
	ErrDuplicate = errors.New("document already exists")
)

// Tx is the view of the store inside RunTransaction. Reads observe the
// transaction's own writes. Updates are compare-and-swap on Version: the
// document passed in must carry the version that was read, and the store
// bumps it on commit.
type Tx interface {
	GetBooking(id string) (*models.Booking, error)
	GetJob(id string) (*models.Job, error)
	GetTechnician(id string) (*models.Technician, error)

	CreateBooking(b *models.Booking) error
	UpdateBooking(b *models.Booking) error
	CreateJob(j *models.Job) error
	UpdateJob(j *models.Job) error
	CreateTechnician(t *models.Technician) error
	UpdateTechnician(t *models.Technician) error
	CreateServiceRecord(r *models.ServiceRecord) error

	// MarkEventProcessed records a webhook event id. It reports false when
	// the id was already recorded.
	MarkEventProcessed(eventID, eventType string) (bool, error)
}

// Reader serves single-document snapshot reads outside a transaction.
type Reader interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetTechnician(ctx context.Context, id string) (*models.Technician, error)
	GetServiceRecordByBooking(ctx context.Context, bookingID string) (*models.ServiceRecord, error)
}

// RepairLog persists the operator repair queue for captures whose
// bookkeeping did not commit.
type RepairLog interface {
	SaveRepair(ctx context.Context, r *models.BookkeepingRepair) error
	GetRepair(ctx context.Context, id string) (*models.BookkeepingRepair, error)
	ListOpenRepairs(ctx context.Context, limit int) ([]models.BookkeepingRepair, error)
}

// Store is the lifecycle store. RunTransaction runs fn as one all-or-nothing
// unit; fn may be invoked more than once when the backing store detects a
// concurrent write, so it must not perform external side effects.
type Store interface {
	Reader
	RepairLog
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// ChangeSink receives committed document writes in commit order.
type ChangeSink interface {
	Publish(change models.Change)
}

// ChangeSinkFunc adapts a function to ChangeSink.
type ChangeSinkFunc func(change models.Change)

// Publish calls f(change).
func (f ChangeSinkFunc) Publish(change models.Change) { f(change) }
