// Package metrics wraps Prometheus behind a name-keyed registry so the
// pipeline code records observations without holding collector handles.
package metrics

// Metrics is the recording surface used by the pipeline. Implemented by
// PrometheusMetrics; a nil-safe no-op keeps tests free of a registry.
type Metrics interface {
	Register(name, metricType, help string)
	RegisterWithLabels(name, metricType, help string, labels []string)
	Record(name string, value float64)
	RecordWithLabels(name string, value float64, labelValues ...string)
	SetCustomBuckets(name string, buckets []float64)
}
