// Package metrics provides basic monitoring and metrics collection for lanprobe.
// It supports counters, gauges, and histograms with label support for tracking
// probe throughput, latency and fan-out concurrency.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Labels    Labels
	Timestamp time.Time
}

// Registry holds all metrics and provides collection functionality.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	enabled bool
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		enabled: true,
	}
}

// SetEnabled enables or disables metrics collection.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value++
		metric.Timestamp = time.Now()
	} else {
		r.metrics[key] = &Metric{
			Name:      name,
			Type:      TypeCounter,
			Value:     1,
			Labels:    copyLabels(labels),
			Timestamp: time.Now(),
		}
	}
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeGauge,
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// Histogram records a value in a histogram metric. Only the last observed
// value is kept; use PrometheusMetrics for real bucketed histograms.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value = value
		metric.Timestamp = time.Now()
	} else {
		r.metrics[key] = &Metric{
			Name:      name,
			Type:      TypeHistogram,
			Value:     value,
			Labels:    copyLabels(labels),
			Timestamp: time.Now(),
		}
	}
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for key, metric := range r.metrics {
		result[key] = &Metric{
			Name:      metric.Name,
			Type:      metric.Type,
			Value:     metric.Value,
			Labels:    copyLabels(metric.Labels),
			Timestamp: metric.Timestamp,
		}
	}
	return result
}

// Reset clears all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// makeKey creates a unique key for a metric based on name and sorted labels.
func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// copyLabels creates a copy of labels map.
func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	result := make(Labels, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// Global registry instance.
var (
	defaultMu       sync.RWMutex
	defaultRegistry MetricsRegistry = NewRegistry()
)

// SetDefault sets the default metrics registry.
func SetDefault(registry MetricsRegistry) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = registry
}

// Default returns the default metrics registry.
func Default() MetricsRegistry {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRegistry
}

// Counter increments a counter metric on the default registry.
func Counter(name string, labels Labels) {
	Default().Counter(name, labels)
}

// Gauge sets a gauge metric on the default registry.
func Gauge(name string, value float64, labels Labels) {
	Default().Gauge(name, value, labels)
}

// Histogram records a histogram value on the default registry.
func Histogram(name string, value float64, labels Labels) {
	Default().Histogram(name, value, labels)
}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start    time.Time
	name     string
	labels   Labels
	registry MetricsRegistry
}

// NewTimer creates a new timer that records into registry. A nil registry
// records into the default registry.
func NewTimer(registry MetricsRegistry, name string, labels Labels) *Timer {
	return &Timer{
		start:    time.Now(),
		name:     name,
		labels:   labels,
		registry: registry,
	}
}

// Stop stops the timer, records the duration as a histogram and returns it.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	registry := t.registry
	if registry == nil {
		registry = Default()
	}
	registry.Histogram(t.name, duration.Seconds(), t.labels)
	return duration
}

// Predefined metric names.
const (
	// Probe metrics.
	MetricProbesTotal    = "probes_total"
	MetricProbeDuration  = "probe_duration_seconds"
	MetricProbesInFlight = "probes_in_flight"

	// Fan-out batch metrics.
	MetricBatchesTotal  = "batches_total"
	MetricBatchDuration = "batch_duration_seconds"

	// Aggregate metrics.
	MetricOpenPorts       = "open_ports_total"
	MetricHostsDiscovered = "hosts_discovered_total"

	// HTTP metrics.
	MetricHTTPRequests = "http_requests_total"
	MetricHTTPDuration = "http_request_duration_seconds"
)

// Common label keys.
const (
	LabelKind   = "kind"
	LabelStatus = "status"
	LabelMethod = "method"
	LabelPath   = "path"
)

// Probe kinds used as LabelKind values.
const (
	KindTCP  = "tcp"
	KindICMP = "icmp"
	KindDNS  = "dns"
)

// RecordProbe records the outcome and duration of a single probe.
func RecordProbe(registry MetricsRegistry, kind, status string, duration time.Duration) {
	registry.Counter(MetricProbesTotal, Labels{LabelKind: kind, LabelStatus: status})
	registry.Histogram(MetricProbeDuration, duration.Seconds(), Labels{LabelKind: kind})
}

// RecordBatch records the completion of one fan-out batch.
func RecordBatch(registry MetricsRegistry, kind, status string, duration time.Duration) {
	registry.Counter(MetricBatchesTotal, Labels{LabelKind: kind, LabelStatus: status})
	registry.Histogram(MetricBatchDuration, duration.Seconds(), Labels{LabelKind: kind})
}
