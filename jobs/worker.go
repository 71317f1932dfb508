package jobs

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/medpipe/cxrscan/metrics"
	"github.com/medpipe/cxrscan/objstore"
	"github.com/medpipe/cxrscan/predictor"
)

// WorkerConfig carries the per-cycle knobs. Zero values get the documented
// defaults.
type WorkerConfig struct {
	InferenceTimeout time.Duration // per-image budget for one PredictBatch call (default 10s)
	MaxRetries       int64         // cycles before a job is dead-lettered (default 3)
}

func (c *WorkerConfig) applyDefaults() {
	if c.InferenceTimeout == 0 {
		c.InferenceTimeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Worker consumes micro-batches from the queue and drives each job to a
// terminal state or back onto the queue for another cycle. One Worker owns
// one resident Predictor; the pool runs several Workers concurrently.
type Worker struct {
	ID        string
	Store     Store
	Queue     *Queue
	Predictor predictor.Predictor
	Logger    *logharbour.Logger
	Metrics   metrics.Metrics

	// Archive, when non-nil, is consulted for the image payload after a
	// Redis miss, keyed by the job's fingerprint.
	Archive       objstore.ObjectStore
	ArchiveBucket string

	cfg WorkerConfig
}

// NewWorker wires a Worker. Logger must not be nil; cfg may be nil.
func NewWorker(id string, store Store, queue *Queue, pred predictor.Predictor, logger *logharbour.Logger, m metrics.Metrics, cfg *WorkerConfig) *Worker {
	if logger == nil {
		panic("logger cannot be nil")
	}
	if m == nil {
		m = NopMetrics()
	}
	if cfg == nil {
		cfg = &WorkerConfig{}
	}
	c := *cfg
	c.applyDefaults()
	return &Worker{
		ID:        id,
		Store:     store,
		Queue:     queue,
		Predictor: pred,
		Logger:    logger,
		Metrics:   m,
		cfg:       c,
	}
}

// Run loops until ctx is canceled. Each iteration blocks in CollectBatch for
// at most the BRPOP timeout, so shutdown latency is bounded by that timeout.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ids, err := w.Queue.CollectBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Logger.Error(err).LogActivity("Batch collection failed", map[string]any{
				"workerId": w.ID,
			})
			time.Sleep(time.Second)
			continue
		}
		if len(ids) == 0 {
			continue
		}
		w.ProcessBatch(ctx, ids)
	}
}

// ProcessBatch runs one cycle over a collected batch: promote to
// IN_PROGRESS, fetch and preprocess each image, run one batched inference
// call, then persist results and route failures.
func (w *Worker) ProcessBatch(ctx context.Context, ids []int64) {
	w.Metrics.Record(MetricBatchSize, float64(len(ids)))

	rows, err := w.Store.GetJobs(ctx, ids)
	if err != nil {
		// Nothing was promoted; the ids are already off the queue, so the
		// sweeper will requeue them once the QUEUED threshold passes.
		w.Logger.Error(err).LogActivity("Failed to load batch rows", map[string]any{
			"workerId": w.ID,
			"jobIds":   ids,
		})
		return
	}
	byID := make(map[int64]Job, len(rows))
	for _, j := range rows {
		byID[j.ID] = j
	}

	live := make([]int64, 0, len(ids))
	for _, id := range ids {
		j, ok := byID[id]
		if !ok {
			w.Logger.Warn().LogActivity("Queued id has no job row, dropping", map[string]any{
				"workerId": w.ID,
				"jobId":    id,
			})
			continue
		}
		if j.Status.Terminal() {
			// Duplicate delivery of an already-finished job.
			continue
		}
		live = append(live, id)
	}
	if len(live) == 0 {
		return
	}

	if err := w.Store.MarkInProgress(ctx, live); err != nil {
		w.Logger.Error(err).LogActivity("Failed to promote batch to IN_PROGRESS", map[string]any{
			"workerId": w.ID,
			"jobIds":   live,
		})
		return
	}
	w.Logger.LogDataChange("Batch promoted to IN_PROGRESS", logharbour.ChangeInfo{
		Entity: "InferenceJob",
		Op:     "StatusChange",
		Changes: []logharbour.ChangeDetail{
			{Field: "status", OldVal: string(StatusQueued), NewVal: string(StatusInProgress)},
		},
	})

	failed := make(map[int64]FailReason)
	ready := make([]int64, 0, len(live))
	tensors := make([]predictor.Tensor, 0, len(live))
	for _, id := range live {
		img, ok, err := w.fetchImage(ctx, id, byID[id].InputSHA256)
		if err != nil {
			w.Logger.Error(err).LogActivity("Image fetch failed", map[string]any{
				"workerId": w.ID,
				"jobId":    id,
			})
			failed[id] = ReasonImageMissing
			continue
		}
		if !ok {
			failed[id] = ReasonImageMissing
			continue
		}
		t, err := predictor.Preprocess(img)
		if err != nil {
			w.Logger.Warn().LogActivity("Preprocess failed", map[string]any{
				"workerId": w.ID,
				"jobId":    id,
				"error":    err.Error(),
			})
			failed[id] = ReasonPreprocessFailed
			continue
		}
		ready = append(ready, id)
		tensors = append(tensors, t)
	}

	if len(ready) > 0 {
		w.infer(ctx, ready, tensors, failed)
	}
	w.handleFailures(ctx, failed)
}

// fetchImage tries Redis first and falls back to the archive bucket. A miss
// in both is not an error; it means the payload's lifetime ran out.
func (w *Worker) fetchImage(ctx context.Context, jobID int64, fingerprint string) ([]byte, bool, error) {
	img, ok, err := w.Queue.FetchImage(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return img, true, nil
	}
	if w.Archive == nil || w.ArchiveBucket == "" || fingerprint == "" {
		return nil, false, nil
	}
	rc, err := w.Archive.Get(ctx, w.ArchiveBucket, fingerprint)
	if err != nil {
		return nil, false, nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, nil
	}
	w.Logger.Info().LogActivity("Image served from archive after Redis miss", map[string]any{
		"workerId": w.ID,
		"jobId":    jobID,
		"sha256":   fingerprint,
	})
	return data, true, nil
}

// infer runs one batched inference call over the ready jobs. The timeout
// scales with batch size so a full batch is not starved by a per-image
// budget. On error the whole remaining batch fails with one reason: the
// backend gives no per-item attribution.
func (w *Worker) infer(ctx context.Context, ready []int64, tensors []predictor.Tensor, failed map[int64]FailReason) {
	batch, err := predictor.Stack(tensors)
	if err != nil {
		for _, id := range ready {
			failed[id] = ReasonPreprocessFailed
		}
		w.Logger.Error(err).LogActivity("Batch assembly failed", map[string]any{
			"workerId": w.ID,
			"jobIds":   ready,
		})
		return
	}

	timeout := w.cfg.InferenceTimeout * time.Duration(len(ready))
	inferCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	scores, err := w.Predictor.PredictBatch(inferCtx, batch)
	w.Metrics.Record(MetricInferenceSeconds, time.Since(start).Seconds())
	if err != nil {
		reason := ReasonInferenceError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonInferenceTimeout
		}
		for _, id := range ready {
			failed[id] = reason
		}
		w.Logger.Error(err).LogActivity("Inference failed for batch", map[string]any{
			"workerId": w.ID,
			"jobIds":   ready,
			"reason":   string(reason),
		})
		return
	}
	if len(scores) != len(ready) {
		for _, id := range ready {
			failed[id] = ReasonInferenceError
		}
		w.Logger.Error(errors.New("score count does not match batch size")).LogActivity(
			"Inference returned malformed batch", map[string]any{
				"workerId": w.ID,
				"expected": len(ready),
				"got":      len(scores),
			})
		return
	}

	for i, id := range ready {
		top := predictor.TopLabel(scores[i])
		if err := w.Store.CompleteJob(ctx, id, scores[i], top); err != nil {
			w.Logger.Error(err).LogActivity("Failed to persist result", map[string]any{
				"workerId": w.ID,
				"jobId":    id,
			})
			failed[id] = ReasonInferenceError
			continue
		}
		w.Metrics.Record(MetricJobsCompleted, 1)
		w.Logger.LogDataChange("Job completed", logharbour.ChangeInfo{
			Entity: "InferenceJob",
			Op:     "StatusChange",
			Changes: []logharbour.ChangeDetail{
				{Field: "status", OldVal: string(StatusInProgress), NewVal: string(StatusCompleted)},
			},
		})
	}
}
