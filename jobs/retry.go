package jobs

import (
	"context"

	"github.com/remiges-tech/logharbour/logharbour"
)

// handleFailures routes every failed job of a cycle through the retry
// policy: bump the retry counter, requeue while attempts remain, otherwise
// flip to FAILED and dead-letter. A requeued job stays IN_PROGRESS until
// the next worker cycle promotes it again; the row guard makes the second
// promotion a no-op beyond updated_at.
func (w *Worker) handleFailures(ctx context.Context, failed map[int64]FailReason) {
	for id, reason := range failed {
		attempts, err := w.Queue.BumpRetry(ctx, id)
		if err != nil {
			// Counter unreachable means Redis is down; the sweeper will
			// find this job once it goes stale.
			w.Logger.Error(err).LogActivity("Failed to bump retry counter", map[string]any{
				"workerId": w.ID,
				"jobId":    id,
			})
			continue
		}
		if attempts <= w.cfg.MaxRetries {
			if err := w.Queue.Enqueue(ctx, id); err != nil {
				w.Logger.Error(err).LogActivity("Failed to requeue job", map[string]any{
					"workerId": w.ID,
					"jobId":    id,
					"attempt":  attempts,
				})
				continue
			}
			w.Metrics.RecordWithLabels(MetricJobsRetried, 1, string(reason))
			w.Logger.Warn().LogActivity("Job requeued for retry", map[string]any{
				"workerId": w.ID,
				"jobId":    id,
				"attempt":  attempts,
				"reason":   string(reason),
			})
			continue
		}

		if err := w.Store.FailJob(ctx, id); err != nil {
			w.Logger.Error(err).LogActivity("Failed to mark job FAILED", map[string]any{
				"workerId": w.ID,
				"jobId":    id,
			})
			continue
		}
		if err := w.Queue.PushDLQ(ctx, id); err != nil {
			w.Logger.Error(err).LogActivity("Failed to dead-letter job", map[string]any{
				"workerId": w.ID,
				"jobId":    id,
			})
		}
		if err := w.Queue.ClearRetry(ctx, id); err != nil {
			w.Logger.Warn().LogActivity("Failed to clear retry counter", map[string]any{
				"workerId": w.ID,
				"jobId":    id,
				"error":    err.Error(),
			})
		}
		w.Metrics.RecordWithLabels(MetricJobsFailed, 1, string(reason))
		w.Logger.LogDataChange("Job exhausted retries, dead-lettered", logharbour.ChangeInfo{
			Entity: "InferenceJob",
			Op:     "StatusChange",
			Changes: []logharbour.ChangeDetail{
				{Field: "status", OldVal: string(StatusInProgress), NewVal: string(StatusFailed)},
			},
		})
	}
}
