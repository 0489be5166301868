package services

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"fieldservice-server/models"
	"fieldservice-server/store"
	"fieldservice-server/utils"
)

// Default throttle thresholds.
const (
	DefaultMinDistanceMeters = 10.0
	DefaultMinInterval       = 5 * time.Second
)

// FixCache remembers the last persisted fix per job so the throttle does not
// need a store read for every sample.
type FixCache interface {
	Last(ctx context.Context, jobID string) (*models.Location, error)
	Remember(ctx context.Context, jobID string, fix models.Location) error
	Forget(ctx context.Context, jobID string) error
}

// LocationConfig tunes the broadcaster.
type LocationConfig struct {
	MinDistanceMeters float64
	MinInterval       time.Duration
	Workers           int
	QueueSize         int
}

type locationTask struct {
	actor  Actor
	jobID  string
	sample models.Location
}

// LocationBroadcaster throttles GPS samples and persists the latest fix on
// the job. Reports are accepted without waiting for persistence.
type LocationBroadcaster struct {
	store       store.Store
	cache       FixCache
	minDistance float64
	minInterval time.Duration
	now         func() time.Time

	queues []chan locationTask
	wg     sync.WaitGroup
}

// NewLocationBroadcaster creates a LocationBroadcaster. Zero thresholds fall
// back to the defaults.
func NewLocationBroadcaster(st store.Store, cache FixCache, cfg LocationConfig) *LocationBroadcaster {
	if cfg.MinDistanceMeters <= 0 {
		cfg.MinDistanceMeters = DefaultMinDistanceMeters
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	b := &LocationBroadcaster{
		store:       st,
		cache:       cache,
		minDistance: cfg.MinDistanceMeters,
		minInterval: cfg.MinInterval,
		now:         utcNow,
		queues:      make([]chan locationTask, cfg.Workers),
	}
	for i := range b.queues {
		b.queues[i] = make(chan locationTask, cfg.QueueSize)
	}
	return b
}

// Start launches the persistence workers. Samples for one job always land on
// the same worker so they are applied in arrival order.
func (b *LocationBroadcaster) Start(ctx context.Context) {
	for i, q := range b.queues {
		b.wg.Add(1)
		go b.worker(ctx, i, q)
	}
	log.Printf("🚀 Location broadcaster started with %d workers", len(b.queues))
}

// Wait blocks until every worker has exited after ctx was cancelled.
func (b *LocationBroadcaster) Wait() {
	b.wg.Wait()
	log.Println("🛑 Location broadcaster stopped")
}

func (b *LocationBroadcaster) worker(ctx context.Context, id int, q <-chan locationTask) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q:
			if _, err := b.Process(ctx, task.jobID, task.actor, task.sample); err != nil {
				log.WithFields(log.Fields{"job_id": task.jobID, "worker": id}).
					Warnf("⚠️ Location sample not persisted: %v", err)
			}
		}
	}
}

// ReportLocation validates a sample and queues it for persistence. Only
// malformed input is reported back; a full queue drops the sample.
func (b *LocationBroadcaster) ReportLocation(ctx context.Context, actor Actor, report models.LocationReport) error {
	const op = "report_location"
	if report.JobID == "" {
		return opErr(op, ErrInvalidInput, "job_id is required")
	}
	if report.Lat == nil || report.Lng == nil {
		return opErr(op, ErrInvalidInput, "lat and lng are required")
	}
	if !utils.IsLocationValid(*report.Lat, *report.Lng) {
		return opErr(op, ErrInvalidInput, "invalid coordinates %f,%f", *report.Lat, *report.Lng)
	}

	observed := b.now()
	if report.ObservedAt != nil && !report.ObservedAt.IsZero() {
		observed = report.ObservedAt.UTC()
	}
	task := locationTask{
		actor: actor,
		jobID: report.JobID,
		sample: models.Location{
			Lat:       *report.Lat,
			Lng:       *report.Lng,
			Heading:   report.Heading,
			Speed:     report.Speed,
			UpdatedAt: observed,
		},
	}

	select {
	case b.queues[b.shard(report.JobID)] <- task:
	default:
		log.Printf("⚠️ Location queue is full, dropping sample for job %s", report.JobID)
	}
	return nil
}

func (b *LocationBroadcaster) shard(jobID string) int {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	return int(h.Sum32() % uint32(len(b.queues)))
}

// ShouldPersist reports whether next passes the throttle against the last
// persisted fix: it moved at least the minimum distance OR at least the
// minimum interval elapsed.
func (b *LocationBroadcaster) ShouldPersist(last *models.Location, next models.Location) bool {
	if last == nil {
		return true
	}
	d := utils.HaversineDistance(last.Lat, last.Lng, next.Lat, next.Lng)
	if d >= b.minDistance {
		return true
	}
	return next.UpdatedAt.Sub(last.UpdatedAt) >= b.minInterval
}

// Process applies one sample synchronously and reports whether it was
// persisted. The fix cache is only updated after a successful write, so a
// failed write is retried by the next sample.
func (b *LocationBroadcaster) Process(ctx context.Context, jobID string, actor Actor, sample models.Location) (bool, error) {
	const op = "report_location"

	last, err := b.lastFix(ctx, jobID)
	if err != nil {
		log.Printf("⚠️ Fix cache read failed for job %s: %v", jobID, err)
	}

	persisted := false
	err = b.store.RunTransaction(ctx, func(tx store.Tx) error {
		persisted = false
		job, err := tx.GetJob(jobID)
		if errors.Is(err, store.ErrNotFound) {
			return opErr(op, ErrNotFound, "job %s", jobID)
		}
		if err != nil {
			return err
		}
		if err := authorize(op, ActionReportLocation, actor, SubjectForJob(job)); err != nil {
			return err
		}
		if !job.CurrentStage.IsTracking() || job.CancelledAt != nil {
			return opErr(op, ErrInvalidTransition, "job %s is %s, not tracking", jobID, job.CurrentStage)
		}

		prev := last
		if prev == nil {
			prev = job.LastKnownLocation
		}
		if !b.ShouldPersist(prev, sample) {
			return nil
		}

		fix := sample
		job.LastKnownLocation = &fix
		if err := tx.UpdateJob(job); err != nil {
			return err
		}
		persisted = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) && b.cache != nil {
			if ferr := b.cache.Forget(ctx, jobID); ferr != nil {
				log.Printf("⚠️ Fix cache evict failed for job %s: %v", jobID, ferr)
			}
		}
		return false, storeErr(op, err)
	}
	if !persisted {
		return false, nil
	}

	if b.cache != nil {
		if err := b.cache.Remember(ctx, jobID, sample); err != nil {
			log.Printf("⚠️ Fix cache write failed for job %s: %v", jobID, err)
		}
	}
	return true, nil
}

func (b *LocationBroadcaster) lastFix(ctx context.Context, jobID string) (*models.Location, error) {
	if b.cache == nil {
		return nil, nil
	}
	return b.cache.Last(ctx, jobID)
}
