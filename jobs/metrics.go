package jobs

import "github.com/medpipe/cxrscan/metrics"

// Metric names recorded by the pipeline. Registered once at process start
// via RegisterJobMetrics; the submission service and the worker pool each
// register the subset they record.
const (
	MetricJobsSubmitted      = "cxrscan_jobs_submitted_total"
	MetricJobsDeduplicated   = "cxrscan_jobs_deduplicated_total"
	MetricJobsCompleted      = "cxrscan_jobs_completed_total"
	MetricJobsFailed         = "cxrscan_jobs_failed_total"
	MetricJobsRetried        = "cxrscan_jobs_retried_total"
	MetricJobsRecovered      = "cxrscan_jobs_recovered_total"
	MetricBatchSize          = "cxrscan_batch_size"
	MetricInferenceSeconds   = "cxrscan_inference_duration_seconds"
	MetricQueueDepth         = "cxrscan_queue_depth"
	MetricDLQDepth           = "cxrscan_dlq_depth"
	MetricWorkerRestarts     = "cxrscan_worker_restarts_total"
	MetricHTTPRequestSeconds = "cxrscan_http_request_duration_seconds"
)

// RegisterJobMetrics registers every pipeline metric on m. Safe to call with
// a fresh registry only; Prometheus panics on double registration.
func RegisterJobMetrics(m metrics.Metrics) {
	m.Register(MetricJobsSubmitted, "Counter", "Jobs accepted by the submission endpoint")
	m.Register(MetricJobsDeduplicated, "Counter", "Submissions served from the fingerprint cache")
	m.Register(MetricJobsCompleted, "Counter", "Jobs that reached COMPLETED")
	m.RegisterWithLabels(MetricJobsFailed, "Counter", "Jobs that reached FAILED", []string{"reason"})
	m.RegisterWithLabels(MetricJobsRetried, "Counter", "Job requeues after a failed cycle", []string{"reason"})
	m.Register(MetricJobsRecovered, "Counter", "Stuck jobs reset to QUEUED by the sweeper")
	m.SetCustomBuckets(MetricBatchSize, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	m.Register(MetricBatchSize, "Histogram", "Number of jobs per micro-batch")
	m.Register(MetricInferenceSeconds, "Histogram", "Wall time of one PredictBatch call")
	m.Register(MetricQueueDepth, "Gauge", "Pending job ids in the queue")
	m.Register(MetricDLQDepth, "Gauge", "Job ids in the dead-letter list")
	m.Register(MetricWorkerRestarts, "Counter", "Worker goroutines restarted after a panic")
	m.RegisterWithLabels(MetricHTTPRequestSeconds, "Histogram", "HTTP request latency", []string{"path", "status"})
}

// nopMetrics keeps tests free of a Prometheus registry.
type nopMetrics struct{}

func (nopMetrics) Register(string, string, string)                     {}
func (nopMetrics) RegisterWithLabels(string, string, string, []string) {}
func (nopMetrics) Record(string, float64)                              {}
func (nopMetrics) RecordWithLabels(string, float64, ...string)         {}
func (nopMetrics) SetCustomBuckets(string, []float64)                  {}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() metrics.Metrics {
	return nopMetrics{}
}
