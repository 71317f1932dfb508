package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/medpipe/cxrscan/metrics"
	"github.com/medpipe/cxrscan/objstore"
	"github.com/medpipe/cxrscan/predictor"
)

// PoolConfig sizes the worker pool and its supervision cadence. Zero values
// get the documented defaults.
type PoolConfig struct {
	WorkerCount    int           // resident workers (default 2)
	SupervisorTick time.Duration // crash-detection cadence (default 3s)
	RecoveryPeriod time.Duration // sweeper cadence (default 600s)
}

func (c *PoolConfig) applyDefaults() {
	if c.WorkerCount == 0 {
		c.WorkerCount = 2
	}
	if c.SupervisorTick == 0 {
		c.SupervisorTick = 3 * time.Second
	}
	if c.RecoveryPeriod == 0 {
		c.RecoveryPeriod = 600 * time.Second
	}
}

// WorkerPool supervises a fixed-size set of worker goroutines plus the
// recovery sweeper. Each worker owns its own Predictor, built by the
// NewPredictor factory, so one slow or wedged backend connection never
// blocks its siblings. A worker that panics is logged and replaced on the
// next supervisor tick.
type WorkerPool struct {
	Store        Store
	Queue        *Queue
	NewPredictor func() (predictor.Predictor, error)
	Logger       *logharbour.Logger
	Metrics      metrics.Metrics
	Sweeper      *Sweeper

	// Archive is handed to each worker for the Redis-miss fallback path.
	Archive       objstore.ObjectStore
	ArchiveBucket string

	WorkerCfg *WorkerConfig

	cfg PoolConfig
}

// NewWorkerPool wires a pool. Logger and the predictor factory must not be
// nil; cfg may be nil.
func NewWorkerPool(store Store, queue *Queue, newPredictor func() (predictor.Predictor, error), sweeper *Sweeper, logger *logharbour.Logger, m metrics.Metrics, cfg *PoolConfig) *WorkerPool {
	if logger == nil {
		panic("logger cannot be nil")
	}
	if newPredictor == nil {
		panic("predictor factory cannot be nil")
	}
	if m == nil {
		m = NopMetrics()
	}
	if cfg == nil {
		cfg = &PoolConfig{}
	}
	c := *cfg
	c.applyDefaults()
	return &WorkerPool{
		Store:        store,
		Queue:        queue,
		NewPredictor: newPredictor,
		Logger:       logger,
		Metrics:      m,
		Sweeper:      sweeper,
		cfg:          c,
	}
}

// Run starts the workers and supervises them until ctx is canceled, then
// waits for every worker to finish its in-flight batch. Workers notice
// cancellation within one BRPOP timeout.
func (p *WorkerPool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	crashed := make(chan string, p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		if err := p.spawn(ctx, &wg, crashed); err != nil {
			return fmt.Errorf("start worker %d: %w", i, err)
		}
	}
	p.Logger.Info().LogActivity("Worker pool started", map[string]any{
		"workers": p.cfg.WorkerCount,
	})

	if p.Sweeper != nil {
		// Initial sweep picks up whatever a previous process left behind.
		p.Sweeper.RunOnce(ctx)
	}

	supervise := time.NewTicker(p.cfg.SupervisorTick)
	defer supervise.Stop()
	sweep := time.NewTicker(p.cfg.RecoveryPeriod)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			p.Logger.Info().LogActivity("Worker pool stopped", nil)
			return nil
		case <-supervise.C:
			p.replaceCrashed(ctx, &wg, crashed)
			p.recordDepths(ctx)
		case <-sweep.C:
			if p.Sweeper != nil {
				p.Sweeper.RunOnce(ctx)
			}
		}
	}
}

// replaceCrashed drains the crash channel and starts a replacement for each
// reported worker.
func (p *WorkerPool) replaceCrashed(ctx context.Context, wg *sync.WaitGroup, crashed chan string) {
	for {
		select {
		case id := <-crashed:
			p.Metrics.Record(MetricWorkerRestarts, 1)
			p.Logger.Warn().LogActivity("Replacing crashed worker", map[string]any{
				"workerId": id,
			})
			if err := p.spawn(ctx, wg, crashed); err != nil {
				p.Logger.Error(err).LogActivity("Failed to replace crashed worker", map[string]any{
					"workerId": id,
				})
			}
		default:
			return
		}
	}
}

// spawn builds a predictor and starts one worker goroutine. A panic inside
// the worker is recovered and reported on the crashed channel instead of
// taking the process down.
func (p *WorkerPool) spawn(ctx context.Context, wg *sync.WaitGroup, crashed chan<- string) error {
	pred, err := p.NewPredictor()
	if err != nil {
		return fmt.Errorf("build predictor: %w", err)
	}
	id := uuid.New().String()
	w := NewWorker(id, p.Store, p.Queue, pred, p.Logger, p.Metrics, p.WorkerCfg)
	w.Archive = p.Archive
	w.ArchiveBucket = p.ArchiveBucket

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.Logger.Error(fmt.Errorf("worker panic: %v", r)).LogActivity("Worker crashed", map[string]any{
					"workerId": id,
				})
				select {
				case crashed <- id:
				default:
				}
			}
		}()
		w.Run(ctx)
	}()
	return nil
}

func (p *WorkerPool) recordDepths(ctx context.Context) {
	if depth, err := p.Queue.QueueDepth(ctx); err == nil {
		p.Metrics.Record(MetricQueueDepth, float64(depth))
	}
	if depth, err := p.Queue.DLQDepth(ctx); err == nil {
		p.Metrics.Record(MetricDLQDepth, float64(depth))
	}
}
