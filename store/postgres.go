package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fieldservice-server/models"
)

// PostgresStore backs the lifecycle store with gorm on Postgres. Transaction
// reads take row locks (SELECT ... FOR UPDATE) and every update is a
// compare-and-swap on the version column. Committed writes are announced with
// pg_notify from inside the transaction, so listeners observe them in commit
// order.
type PostgresStore struct {
	db          *gorm.DB
	channel     string
	maxAttempts int
}

// NewPostgresStore creates a PostgresStore. An empty channel disables change
// notifications.
func NewPostgresStore(db *gorm.DB, channel string) *PostgresStore {
	return &PostgresStore{db: db, channel: channel, maxAttempts: defaultMaxAttempts}
}

// RunTransaction runs fn inside a database transaction. Deadlocks and
// serialization failures re-run fn.
func (s *PostgresStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			tx := &pgTx{db: gtx, now: time.Now().UTC()}
			if err := fn(tx); err != nil {
				return err
			}
			return tx.announce(s.channel)
		})
		if !retryable(err) {
			return err
		}
		log.Debugf("🔁 postgres transaction retry %d: %v", attempt+1, err)
	}
	if retryable(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

// GetBooking returns the committed booking.
func (s *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// GetJob returns the committed job.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	if err := s.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &j, nil
}

// GetTechnician returns the committed technician.
func (s *PostgresStore) GetTechnician(ctx context.Context, id string) (*models.Technician, error) {
	var t models.Technician
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// GetServiceRecordByBooking returns the service record of a booking.
func (s *PostgresStore) GetServiceRecordByBooking(ctx context.Context, bookingID string) (*models.ServiceRecord, error) {
	var r models.ServiceRecord
	if err := s.db.WithContext(ctx).First(&r, "booking_id = ?", bookingID).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// SaveRepair inserts or replaces a repair entry.
func (s *PostgresStore) SaveRepair(ctx context.Context, r *models.BookkeepingRepair) error {
	return translate(s.db.WithContext(ctx).Save(r).Error)
}

// GetRepair returns one repair entry.
func (s *PostgresStore) GetRepair(ctx context.Context, id string) (*models.BookkeepingRepair, error) {
	var r models.BookkeepingRepair
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// ListOpenRepairs returns unresolved repair entries, oldest first.
func (s *PostgresStore) ListOpenRepairs(ctx context.Context, limit int) ([]models.BookkeepingRepair, error) {
	var out []models.BookkeepingRepair
	q := s.db.WithContext(ctx).Where("resolved_at IS NULL").Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type pgTx struct {
	db      *gorm.DB
	now     time.Time
	changes []models.Change
}

func (tx *pgTx) locked() *gorm.DB {
	return tx.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (tx *pgTx) record(kind models.EntityKind, id string, version int64, doc any) {
	ch, err := models.NewChange(kind, id, version, doc, tx.now)
	if err != nil {
		log.Errorf("❌ Failed to encode %s %s change: %v", kind, id, err)
		return
	}
	tx.changes = append(tx.changes, ch)
}

// announce queues one notification per write. Postgres delivers them only
// if the transaction commits, in commit order.
func (tx *pgTx) announce(channel string) error {
	if channel == "" {
		return nil
	}
	for _, ch := range tx.changes {
		payload, err := json.Marshal(ch)
		if err != nil {
			return err
		}
		if err := tx.db.Exec("SELECT pg_notify(?, ?)", channel, string(payload)).Error; err != nil {
			return fmt.Errorf("pg_notify: %w", err)
		}
	}
	return nil
}

func (tx *pgTx) GetBooking(id string) (*models.Booking, error) {
	var b models.Booking
	if err := tx.locked().First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (tx *pgTx) GetJob(id string) (*models.Job, error) {
	var j models.Job
	if err := tx.locked().First(&j, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &j, nil
}

func (tx *pgTx) GetTechnician(id string) (*models.Technician, error) {
	var t models.Technician
	if err := tx.locked().First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// casUpdate writes doc over the row (id, expected) and bumps the version.
func (tx *pgTx) casUpdate(model any, id string, expected int64, doc any) error {
	res := tx.db.Model(model).
		Where("id = ? AND version = ?", id, expected).
		Select("*").Omit("id", "created_at").
		Updates(doc)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (tx *pgTx) CreateBooking(b *models.Booking) error {
	row := b.Clone()
	row.Version = 1
	row.CreatedAt, row.UpdatedAt = tx.now, tx.now
	if err := tx.db.Create(row).Error; err != nil {
		return translate(err)
	}
	tx.record(models.KindBooking, row.ID, row.Version, row)
	return nil
}

func (tx *pgTx) UpdateBooking(b *models.Booking) error {
	row := b.Clone()
	row.Version = b.Version + 1
	row.UpdatedAt = tx.now
	if err := tx.casUpdate(&models.Booking{}, b.ID, b.Version, row); err != nil {
		return err
	}
	tx.record(models.KindBooking, row.ID, row.Version, row)
	return nil
}

func (tx *pgTx) CreateJob(j *models.Job) error {
	row := j.Clone()
	row.Version = 1
	row.CreatedAt, row.UpdatedAt = tx.now, tx.now
	if err := tx.db.Create(row).Error; err != nil {
		return translate(err)
	}
	tx.record(models.KindJob, row.ID, row.Version, row)
	return nil
}

func (tx *pgTx) UpdateJob(j *models.Job) error {
	row := j.Clone()
	row.Version = j.Version + 1
	row.UpdatedAt = tx.now
	if err := tx.casUpdate(&models.Job{}, j.ID, j.Version, row); err != nil {
		return err
	}
	tx.record(models.KindJob, row.ID, row.Version, row)
	return nil
}

func (tx *pgTx) CreateTechnician(t *models.Technician) error {
	row := t.Clone()
	row.Version = 1
	row.CreatedAt, row.UpdatedAt = tx.now, tx.now
	if err := tx.db.Create(row).Error; err != nil {
		return translate(err)
	}
	tx.record(models.KindTechnician, row.ID, row.Version, row)
	return nil
}

func (tx *pgTx) UpdateTechnician(t *models.Technician) error {
	row := t.Clone()
	row.Version = t.Version + 1
	row.UpdatedAt = tx.now
	if err := tx.casUpdate(&models.Technician{}, t.ID, t.Version, row); err != nil {
		return err
	}
	tx.record(models.KindTechnician, row.ID, row.Version, row)
	return nil
}

func (tx *pgTx) CreateServiceRecord(r *models.ServiceRecord) error {
	row := *r
	row.CreatedAt = tx.now
	return translate(tx.db.Create(&row).Error)
}

func (tx *pgTx) MarkEventProcessed(eventID, eventType string) (bool, error) {
	ev := models.ProcessedEvent{ID: eventID, Type: eventType, ProcessedAt: tx.now}
	res := tx.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
