package jobs

import (
	"context"
	"sort"
	"time"
)

// MetricsWindowSize is the lookback for the operator metrics endpoint.
const MetricsWindowSize = 300 * time.Second

// Snapshot is the aggregate view served at the ops metrics endpoint. All
// figures cover jobs created inside the lookback window, except DLQDepth
// which is the live list length.
type Snapshot struct {
	WindowSeconds     int     `json:"window_seconds"`
	RequestsPerSec    float64 `json:"requests_per_second"`
	FailureRate       float64 `json:"failure_rate"`
	LatencyP50Ms      float64 `json:"latency_p50_ms"`
	LatencyP95Ms      float64 `json:"latency_p95_ms"`
	LatencyP99Ms      float64 `json:"latency_p99_ms"`
	JobsInWindow      int     `json:"jobs_in_window"`
	CompletedInWindow int     `json:"completed_in_window"`
	FailedInWindow    int     `json:"failed_in_window"`
	DLQDepth          int64   `json:"dlq_depth"`
}

// MetricsView computes Snapshot on demand from the durable store and the
// queue. Nothing is cached; the window query is cheap at this scale.
type MetricsView struct {
	Store Store
	Queue *Queue
}

// NewMetricsView wires a MetricsView.
func NewMetricsView(store Store, queue *Queue) *MetricsView {
	return &MetricsView{Store: store, Queue: queue}
}

// Snapshot aggregates the current window. An empty window yields zeros, not
// NaN: rates divide by the fixed window length and by max(terminal, 1).
func (v *MetricsView) Snapshot(ctx context.Context) (Snapshot, error) {
	stats, err := v.Store.MetricsWindow(ctx, time.Now().Add(-MetricsWindowSize))
	if err != nil {
		return Snapshot{}, err
	}
	dlqDepth, err := v.Queue.DLQDepth(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		WindowSeconds:     int(MetricsWindowSize / time.Second),
		RequestsPerSec:    float64(stats.Total) / MetricsWindowSize.Seconds(),
		JobsInWindow:      stats.Total,
		CompletedInWindow: stats.Completed,
		FailedInWindow:    stats.Failed,
		DLQDepth:          dlqDepth,
	}
	if terminal := stats.Completed + stats.Failed; terminal > 0 {
		snap.FailureRate = float64(stats.Failed) / float64(terminal)
	}
	snap.LatencyP50Ms = PercentileMs(stats.LatencySamples, 0.50)
	snap.LatencyP95Ms = PercentileMs(stats.LatencySamples, 0.95)
	snap.LatencyP99Ms = PercentileMs(stats.LatencySamples, 0.99)
	return snap, nil
}

// PercentileMs returns the pth percentile of the samples in milliseconds
// using the nearest-rank method. Returns 0 for an empty sample set.
func PercentileMs(samples []time.Duration, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return float64(sorted[rank]) / float64(time.Millisecond)
}
