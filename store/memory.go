package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"fieldservice-server/models"
)

const defaultMaxAttempts = 5

// errRetry signals that validation failed at commit time and fn should be
// re-run against fresh state.
var errRetry = errors.New("retry transaction")

type docKey struct {
	kind models.EntityKind
	id   string
}

// MemoryStore is an optimistic in-process store. Transactions read committed
// state, buffer writes, and validate every version they observed at commit;
// a transaction that observed a stale version is re-run.
type MemoryStore struct {
	mu          sync.Mutex
	bookings    map[string]*models.Booking
	jobs        map[string]*models.Job
	technicians map[string]*models.Technician
	records     map[string]*models.ServiceRecord
	repairs     map[string]*models.BookkeepingRepair
	events      map[string]models.ProcessedEvent

	sink        ChangeSink
	maxAttempts int
	now         func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithChangeSink sets the sink that receives committed writes.
func WithChangeSink(sink ChangeSink) MemoryOption {
	return func(s *MemoryStore) { s.sink = sink }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithMaxAttempts bounds how often a conflicting transaction is re-run.
func WithMaxAttempts(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		bookings:    make(map[string]*models.Booking),
		jobs:        make(map[string]*models.Job),
		technicians: make(map[string]*models.Technician),
		records:     make(map[string]*models.ServiceRecord),
		repairs:     make(map[string]*models.BookkeepingRepair),
		events:      make(map[string]models.ProcessedEvent),
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetChangeSink replaces the change sink. Used when the sink is built after
// the store.
func (s *MemoryStore) SetChangeSink(sink ChangeSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// RunTransaction runs fn with optimistic concurrency control.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newMemTx(s)
		if err := fn(tx); err != nil {
			return err
		}
		err := s.commit(tx)
		if errors.Is(err, errRetry) {
			log.Debugf("🔁 memory store transaction retry %d", attempt+1)
			continue
		}
		return err
	}
	return ErrConflict
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		if s.versionLocked(key) != seen {
			return errRetry
		}
	}
	for id := range tx.events {
		if _, ok := s.events[id]; ok {
			return errRetry
		}
	}
	for _, r := range tx.records {
		if _, ok := s.records[r.BookingID]; ok {
			return ErrDuplicate
		}
	}

	now := s.now()
	changes := make([]models.Change, 0, len(tx.order))
	for _, key := range tx.order {
		switch key.kind {
		case models.KindBooking:
			b := tx.bookings[key.id].Clone()
			b.Version++
			b.UpdatedAt = now
			if b.CreatedAt.IsZero() {
				b.CreatedAt = now
			}
			s.bookings[key.id] = b
			changes = appendChange(changes, key, b.Version, b, now)
		case models.KindJob:
			j := tx.jobs[key.id].Clone()
			j.Version++
			j.UpdatedAt = now
			if j.CreatedAt.IsZero() {
				j.CreatedAt = now
			}
			s.jobs[key.id] = j
			changes = appendChange(changes, key, j.Version, j, now)
		case models.KindTechnician:
			t := tx.technicians[key.id].Clone()
			t.Version++
			t.UpdatedAt = now
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			s.technicians[key.id] = t
			changes = appendChange(changes, key, t.Version, t, now)
		}
	}
	for _, r := range tx.records {
		rec := *r
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		s.records[rec.BookingID] = &rec
	}
	for id, ev := range tx.events {
		ev.ProcessedAt = now
		s.events[id] = ev
	}

	// Published under the commit lock so subscribers see commit order.
	if s.sink != nil {
		for _, ch := range changes {
			s.sink.Publish(ch)
		}
	}
	return nil
}

func appendChange(changes []models.Change, key docKey, version int64, doc any, at time.Time) []models.Change {
	ch, err := models.NewChange(key.kind, key.id, version, doc, at)
	if err != nil {
		log.Errorf("❌ Failed to encode %s %s change: %v", key.kind, key.id, err)
		return changes
	}
	return append(changes, ch)
}

// versionLocked returns the committed version of key, or -1 when absent.
func (s *MemoryStore) versionLocked(key docKey) int64 {
	switch key.kind {
	case models.KindBooking:
		if b, ok := s.bookings[key.id]; ok {
			return b.Version
		}
	case models.KindJob:
		if j, ok := s.jobs[key.id]; ok {
			return j.Version
		}
	case models.KindTechnician:
		if t, ok := s.technicians[key.id]; ok {
			return t.Version
		}
	}
	return -1
}

// GetBooking returns a snapshot of the booking.
func (s *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

// GetJob returns a snapshot of the job.
func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// GetTechnician returns a snapshot of the technician.
func (s *MemoryStore) GetTechnician(_ context.Context, id string) (*models.Technician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.technicians[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// GetServiceRecordByBooking returns the completed-service record of a booking.
func (s *MemoryStore) GetServiceRecordByBooking(_ context.Context, bookingID string) (*models.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

// SaveRepair inserts or replaces a repair entry.
func (s *MemoryStore) SaveRepair(_ context.Context, r *models.BookkeepingRepair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := *r
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	s.repairs[out.ID] = &out
	return nil
}

// GetRepair returns one repair entry.
func (s *MemoryStore) GetRepair(_ context.Context, id string) (*models.BookkeepingRepair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repairs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

// ListOpenRepairs returns unresolved repair entries, oldest first.
func (s *MemoryStore) ListOpenRepairs(_ context.Context, limit int) ([]models.BookkeepingRepair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BookkeepingRepair
	for _, r := range s.repairs {
		if r.ResolvedAt == nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTx struct {
	s           *MemoryStore
	reads       map[docKey]int64
	order       []docKey
	bookings    map[string]*models.Booking
	jobs        map[string]*models.Job
	technicians map[string]*models.Technician
	records     []*models.ServiceRecord
	events      map[string]models.ProcessedEvent
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		s:           s,
		reads:       make(map[docKey]int64),
		bookings:    make(map[string]*models.Booking),
		jobs:        make(map[string]*models.Job),
		technicians: make(map[string]*models.Technician),
		events:      make(map[string]models.ProcessedEvent),
	}
}

// observe records the committed version of key the first time it is read.
func (tx *memTx) observe(key docKey) int64 {
	if v, ok := tx.reads[key]; ok {
		return v
	}
	tx.s.mu.Lock()
	v := tx.s.versionLocked(key)
	tx.s.mu.Unlock()
	tx.reads[key] = v
	return v
}

func (tx *memTx) stage(key docKey) {
	for _, k := range tx.order {
		if k == key {
			return
		}
	}
	tx.order = append(tx.order, key)
}

func (tx *memTx) GetBooking(id string) (*models.Booking, error) {
	if b, ok := tx.bookings[id]; ok {
		return b.Clone(), nil
	}
	key := docKey{models.KindBooking, id}
	tx.s.mu.Lock()
	b, ok := tx.s.bookings[id]
	var v int64 = -1
	if ok {
		b = b.Clone()
		v = b.Version
	}
	tx.s.mu.Unlock()
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = v
	}
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (tx *memTx) GetJob(id string) (*models.Job, error) {
	if j, ok := tx.jobs[id]; ok {
		return j.Clone(), nil
	}
	key := docKey{models.KindJob, id}
	tx.s.mu.Lock()
	j, ok := tx.s.jobs[id]
	var v int64 = -1
	if ok {
		j = j.Clone()
		v = j.Version
	}
	tx.s.mu.Unlock()
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = v
	}
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

func (tx *memTx) GetTechnician(id string) (*models.Technician, error) {
	if t, ok := tx.technicians[id]; ok {
		return t.Clone(), nil
	}
	key := docKey{models.KindTechnician, id}
	tx.s.mu.Lock()
	t, ok := tx.s.technicians[id]
	var v int64 = -1
	if ok {
		t = t.Clone()
		v = t.Version
	}
	tx.s.mu.Unlock()
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = v
	}
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// baseVersion is the version a write to key must carry.
func (tx *memTx) baseVersion(key docKey) int64 {
	switch key.kind {
	case models.KindBooking:
		if b, ok := tx.bookings[key.id]; ok {
			return b.Version
		}
	case models.KindJob:
		if j, ok := tx.jobs[key.id]; ok {
			return j.Version
		}
	case models.KindTechnician:
		if t, ok := tx.technicians[key.id]; ok {
			return t.Version
		}
	}
	return tx.observe(key)
}

func (tx *memTx) create(key docKey) error {
	if tx.baseVersion(key) != -1 {
		return ErrDuplicate
	}
	tx.stage(key)
	return nil
}

func (tx *memTx) update(key docKey, version int64) error {
	base := tx.baseVersion(key)
	if base == -1 {
		return ErrNotFound
	}
	if base != version {
		return ErrConflict
	}
	tx.stage(key)
	return nil
}

func (tx *memTx) CreateBooking(b *models.Booking) error {
	if err := tx.create(docKey{models.KindBooking, b.ID}); err != nil {
		return err
	}
	c := b.Clone()
	c.Version = 0
	tx.bookings[b.ID] = c
	return nil
}

func (tx *memTx) UpdateBooking(b *models.Booking) error {
	if err := tx.update(docKey{models.KindBooking, b.ID}, b.Version); err != nil {
		return err
	}
	tx.bookings[b.ID] = b.Clone()
	return nil
}

func (tx *memTx) CreateJob(j *models.Job) error {
	if err := tx.create(docKey{models.KindJob, j.ID}); err != nil {
		return err
	}
	c := j.Clone()
	c.Version = 0
	tx.jobs[j.ID] = c
	return nil
}

func (tx *memTx) UpdateJob(j *models.Job) error {
	if err := tx.update(docKey{models.KindJob, j.ID}, j.Version); err != nil {
		return err
	}
	tx.jobs[j.ID] = j.Clone()
	return nil
}

func (tx *memTx) CreateTechnician(t *models.Technician) error {
	if err := tx.create(docKey{models.KindTechnician, t.ID}); err != nil {
		return err
	}
	c := t.Clone()
	c.Version = 0
	tx.technicians[t.ID] = c
	return nil
}

func (tx *memTx) UpdateTechnician(t *models.Technician) error {
	if err := tx.update(docKey{models.KindTechnician, t.ID}, t.Version); err != nil {
		return err
	}
	tx.technicians[t.ID] = t.Clone()
	return nil
}

func (tx *memTx) CreateServiceRecord(r *models.ServiceRecord) error {
	for _, existing := range tx.records {
		if existing.BookingID == r.BookingID {
			return ErrDuplicate
		}
	}
	tx.s.mu.Lock()
	_, exists := tx.s.records[r.BookingID]
	tx.s.mu.Unlock()
	if exists {
		return ErrDuplicate
	}
	rec := *r
	tx.records = append(tx.records, &rec)
	return nil
}

func (tx *memTx) MarkEventProcessed(eventID, eventType string) (bool, error) {
	if _, ok := tx.events[eventID]; ok {
		return false, nil
	}
	tx.s.mu.Lock()
	_, exists := tx.s.events[eventID]
	tx.s.mu.Unlock()
	if exists {
		return false, nil
	}
	tx.events[eventID] = models.ProcessedEvent{ID: eventID, Type: eventType}
	return true, nil
}
