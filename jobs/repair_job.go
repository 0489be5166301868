package jobs

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"fieldservice-server/models"
	"fieldservice-server/services"
)

// RepairLister lists unresolved bookkeeping repairs.
type RepairLister interface {
	ListOpenRepairs(ctx context.Context, limit int) ([]models.BookkeepingRepair, error)
}

// Repairer replays the bookkeeping of one repair entry.
type Repairer interface {
	RetryBookkeeping(ctx context.Context, repairID string, actor services.Actor) error
}

// RepairJob retries captures whose bookkeeping did not commit
type RepairJob struct {
	lister   RepairLister
	repairer Repairer
	interval time.Duration
	batch    int
	stopChan chan struct{}
	done     chan struct{}
}

// NewRepairJob creates a new repair job
func NewRepairJob(lister RepairLister, repairer Repairer, interval time.Duration, batch int) *RepairJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RepairJob{
		lister:   lister,
		repairer: repairer,
		interval: interval,
		batch:    batch,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the repair job
func (j *RepairJob) Start(ctx context.Context) {
	go j.run(ctx)
	log.Println("🚀 Bookkeeping repair job started")
}

// Stop stops the repair job and waits for the current pass to finish
func (j *RepairJob) Stop() {
	close(j.stopChan)
	<-j.done
	log.Println("🛑 Bookkeeping repair job stopped")
}

func (j *RepairJob) run(ctx context.Context) {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce retries one batch of open repairs and reports how many resolved
// and how many are still pending.
func (j *RepairJob) RunOnce(ctx context.Context) (resolved, pending int) {
	repairs, err := j.lister.ListOpenRepairs(ctx, j.batch)
	if err != nil {
		log.Printf("❌ Error listing bookkeeping repairs: %v", err)
		return 0, 0
	}
	if len(repairs) == 0 {
		return 0, 0
	}
	log.Printf("🔧 Found %d open bookkeeping repairs", len(repairs))

	for _, r := range repairs {
		if err := j.repairer.RetryBookkeeping(ctx, r.ID, services.SystemActor); err != nil {
			pending++
			log.WithFields(log.Fields{
				"repair_id":  r.ID,
				"booking_id": r.BookingID,
				"attempts":   r.Attempts + 1,
			}).Warnf("❌ Bookkeeping repair failed: %v", err)
			continue
		}
		resolved++
	}
	return resolved, pending
}
