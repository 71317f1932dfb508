package jobs

import (
	"context"
	"time"

	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/medpipe/cxrscan/metrics"
)

// SweeperConfig carries the staleness thresholds. Zero values get the
// documented defaults.
type SweeperConfig struct {
	StuckInProgress time.Duration // IN_PROGRESS older than this is presumed orphaned (default 600s)
	StuckQueued     time.Duration // QUEUED older than this is presumed lost from the list (default 300s)
	MaxRetries      int64         // same budget the workers use (default 3)
}

func (c *SweeperConfig) applyDefaults() {
	if c.StuckInProgress == 0 {
		c.StuckInProgress = 600 * time.Second
	}
	if c.StuckQueued == 0 {
		c.StuckQueued = 300 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Sweeper is the recovery pass that runs periodically inside the pool
// supervisor. It finds jobs whose worker died mid-cycle (stale IN_PROGRESS)
// and jobs whose queue entry was lost (stale QUEUED) and puts them back into
// circulation, spending the same retry budget the workers do.
type Sweeper struct {
	Store   Store
	Queue   *Queue
	Logger  *logharbour.Logger
	Metrics metrics.Metrics

	cfg SweeperConfig
}

// NewSweeper wires a Sweeper. Logger must not be nil; cfg may be nil.
func NewSweeper(store Store, queue *Queue, logger *logharbour.Logger, m metrics.Metrics, cfg *SweeperConfig) *Sweeper {
	if logger == nil {
		panic("logger cannot be nil")
	}
	if m == nil {
		m = NopMetrics()
	}
	if cfg == nil {
		cfg = &SweeperConfig{}
	}
	c := *cfg
	c.applyDefaults()
	return &Sweeper{Store: store, Queue: queue, Logger: logger, Metrics: m, cfg: c}
}

// RunOnce executes one recovery pass. Errors on individual jobs are logged
// and skipped so one bad row never stalls the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := time.Now()
	s.sweepInProgress(ctx, now.Add(-s.cfg.StuckInProgress))
	s.sweepQueued(ctx, now.Add(-s.cfg.StuckQueued))
}

// sweepInProgress handles orphaned IN_PROGRESS jobs. Each costs a retry
// attempt: a job that keeps orphaning its workers exhausts the budget and
// dead-letters instead of cycling forever.
func (s *Sweeper) sweepInProgress(ctx context.Context, cutoff time.Time) {
	stuck, err := s.Store.StuckInProgress(ctx, cutoff)
	if err != nil {
		s.Logger.Error(err).LogActivity("Failed to list stuck IN_PROGRESS jobs", nil)
		return
	}
	for _, job := range stuck {
		attempts, err := s.Queue.BumpRetry(ctx, job.ID)
		if err != nil {
			s.Logger.Error(err).LogActivity("Failed to bump retry counter for stuck job", map[string]any{
				"jobId": job.ID,
			})
			continue
		}
		if attempts > s.cfg.MaxRetries {
			if err := s.Store.FailJob(ctx, job.ID); err != nil {
				s.Logger.Error(err).LogActivity("Failed to mark stuck job FAILED", map[string]any{
					"jobId": job.ID,
				})
				continue
			}
			if err := s.Queue.PushDLQ(ctx, job.ID); err != nil {
				s.Logger.Error(err).LogActivity("Failed to dead-letter stuck job", map[string]any{
					"jobId": job.ID,
				})
			}
			if err := s.Queue.ClearRetry(ctx, job.ID); err != nil {
				s.Logger.Warn().LogActivity("Failed to clear retry counter", map[string]any{
					"jobId": job.ID,
					"error": err.Error(),
				})
			}
			s.Logger.LogDataChange("Stuck job exhausted retries, dead-lettered", logharbour.ChangeInfo{
				Entity: "InferenceJob",
				Op:     "StatusChange",
				Changes: []logharbour.ChangeDetail{
					{Field: "status", OldVal: string(StatusInProgress), NewVal: string(StatusFailed)},
				},
			})
			continue
		}

		// The guard re-checks status and staleness inside the UPDATE, so a
		// job a live worker finished between the SELECT and here is left
		// alone.
		moved, err := s.Store.RequeueStuck(ctx, job.ID, cutoff)
		if err != nil {
			s.Logger.Error(err).LogActivity("Failed to requeue stuck job", map[string]any{
				"jobId": job.ID,
			})
			continue
		}
		if !moved {
			continue
		}
		if err := s.Queue.Enqueue(ctx, job.ID); err != nil {
			s.Logger.Error(err).LogActivity("Failed to enqueue recovered job", map[string]any{
				"jobId": job.ID,
			})
			continue
		}
		s.Metrics.Record(MetricJobsRecovered, 1)
		s.Logger.Warn().LogActivity("Stuck IN_PROGRESS job recovered", map[string]any{
			"jobId":   job.ID,
			"attempt": attempts,
		})
	}
}

// sweepQueued handles QUEUED jobs whose id is no longer on the Redis list,
// typically after a Redis restart. Re-enqueueing is free: no retry bump, and
// a duplicate list entry is harmless because workers skip terminal rows.
func (s *Sweeper) sweepQueued(ctx context.Context, cutoff time.Time) {
	stuck, err := s.Store.StuckQueued(ctx, cutoff)
	if err != nil {
		s.Logger.Error(err).LogActivity("Failed to list stuck QUEUED jobs", nil)
		return
	}
	for _, job := range stuck {
		if err := s.Queue.Enqueue(ctx, job.ID); err != nil {
			s.Logger.Error(err).LogActivity("Failed to re-enqueue stale QUEUED job", map[string]any{
				"jobId": job.ID,
			})
			continue
		}
		s.Metrics.Record(MetricJobsRecovered, 1)
		s.Logger.Warn().LogActivity("Stale QUEUED job re-enqueued", map[string]any{
			"jobId": job.ID,
		})
	}
}
