package metrics

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all lanprobe metrics
	namespace = "lanprobe"

	subsystemSystem = "system"
)

// Bucket layouts. Probe latencies live on a LAN scale, batches can take
// several probe timeouts.
var (
	probeBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0}
	batchBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0}
	httpBuckets  = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0}
)

type metricDef struct {
	name    string
	typ     MetricType
	help    string
	labels  []string
	buckets []float64
}

var knownMetrics = []metricDef{
	{MetricProbesTotal, TypeCounter, "Total number of probes by kind and outcome", []string{LabelKind, LabelStatus}, nil},
	{MetricProbeDuration, TypeHistogram, "Duration of individual probes in seconds", []string{LabelKind}, probeBuckets},
	{MetricProbesInFlight, TypeGauge, "Number of probes currently running", []string{LabelKind}, nil},
	{MetricBatchesTotal, TypeCounter, "Total number of fan-out batches by kind and status", []string{LabelKind, LabelStatus}, nil},
	{MetricBatchDuration, TypeHistogram, "Duration of fan-out batches in seconds", []string{LabelKind}, batchBuckets},
	{MetricOpenPorts, TypeCounter, "Total number of open ports found by port scans", nil, nil},
	{MetricHostsDiscovered, TypeCounter, "Total number of responsive hosts found by discovery", nil, nil},
	{MetricHTTPRequests, TypeCounter, "Total number of HTTP requests by method, path and status", []string{LabelMethod, LabelPath, LabelStatus}, nil},
	{MetricHTTPDuration, TypeHistogram, "Duration of HTTP requests in seconds", []string{LabelMethod, LabelPath}, httpBuckets},
}

// PrometheusMetrics implements MetricsRegistry on top of a dedicated
// Prometheus registry. Values are mirrored into an in-memory Registry so
// GetMetrics keeps working for health endpoints and tests.
type PrometheusMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string

	goroutines  prometheus.Gauge
	memoryUsage prometheus.Gauge
	uptime      prometheus.Gauge

	mirror    *Registry
	registry  *prometheus.Registry
	startTime time.Time
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all
// known collectors registered.
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelNames: make(map[string][]string),
		mirror:     NewRegistry(),
		registry:   prometheus.NewRegistry(),
		startTime:  time.Now(),
	}

	for _, def := range knownMetrics {
		if err := pm.register(def); err != nil {
			panic(err)
		}
	}
	pm.initSystemMetrics()

	// Register standard Go and process collectors for runtime visibility
	pm.registry.MustRegister(collectors.NewGoCollector())
	pm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemSystem,
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	})
	pm.memoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemSystem,
		Name:      "memory_bytes",
		Help:      "Current memory usage in bytes",
	})
	pm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemSystem,
		Name:      "uptime_seconds",
		Help:      "Application uptime in seconds",
	})
	pm.registry.MustRegister(pm.goroutines, pm.memoryUsage, pm.uptime)
}

// register creates and registers the collector for def. Callers hold pm.mu
// or run before pm is shared.
func (pm *PrometheusMetrics) register(def metricDef) error {
	switch def.typ {
	case TypeCounter:
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      def.name,
			Help:      def.help,
		}, def.labels)
		if err := pm.registry.Register(vec); err != nil {
			return err
		}
		pm.counters[def.name] = vec
	case TypeGauge:
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      def.name,
			Help:      def.help,
		}, def.labels)
		if err := pm.registry.Register(vec); err != nil {
			return err
		}
		pm.gauges[def.name] = vec
	default:
		buckets := def.buckets
		if buckets == nil {
			buckets = prometheus.DefBuckets
		}
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      def.name,
			Help:      def.help,
			Buckets:   buckets,
		}, def.labels)
		if err := pm.registry.Register(vec); err != nil {
			return err
		}
		pm.histograms[def.name] = vec
	}
	pm.labelNames[def.name] = def.labels
	return nil
}

// ensure registers an ad-hoc metric the first time it is seen, using the
// label keys of that first observation. It reports whether a collector of
// the requested type exists for name.
func (pm *PrometheusMetrics) ensure(name string, typ MetricType, labels Labels) bool {
	pm.mu.RLock()
	_, known := pm.labelNames[name]
	pm.mu.RUnlock()
	if known {
		return true
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, known := pm.labelNames[name]; known {
		return true
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// A rejected name is remembered so it is not retried on every call.
	if err := pm.register(metricDef{name: name, typ: typ, help: "Ad-hoc metric " + name, labels: keys}); err != nil {
		pm.labelNames[name] = nil
		return false
	}
	return true
}

// SetEnabled enables or disables metrics collection.
func (pm *PrometheusMetrics) SetEnabled(enabled bool) {
	pm.mirror.SetEnabled(enabled)
}

// IsEnabled returns whether metrics collection is enabled.
func (pm *PrometheusMetrics) IsEnabled() bool {
	return pm.mirror.IsEnabled()
}

// Counter increments a counter metric. Observations whose label set does
// not match the collector's label names are dropped.
func (pm *PrometheusMetrics) Counter(name string, labels Labels) {
	if !pm.IsEnabled() || !pm.ensure(name, TypeCounter, labels) {
		return
	}
	pm.mu.RLock()
	vec := pm.counters[name]
	pm.mu.RUnlock()
	if vec == nil {
		return
	}
	if c, err := vec.GetMetricWith(prometheus.Labels(labels)); err == nil {
		c.Inc()
		pm.mirror.Counter(name, labels)
	}
}

// Gauge sets a gauge metric.
func (pm *PrometheusMetrics) Gauge(name string, value float64, labels Labels) {
	if !pm.IsEnabled() || !pm.ensure(name, TypeGauge, labels) {
		return
	}
	pm.mu.RLock()
	vec := pm.gauges[name]
	pm.mu.RUnlock()
	if vec == nil {
		return
	}
	if g, err := vec.GetMetricWith(prometheus.Labels(labels)); err == nil {
		g.Set(value)
		pm.mirror.Gauge(name, value, labels)
	}
}

// Histogram observes a value in a histogram metric.
func (pm *PrometheusMetrics) Histogram(name string, value float64, labels Labels) {
	if !pm.IsEnabled() || !pm.ensure(name, TypeHistogram, labels) {
		return
	}
	pm.mu.RLock()
	vec := pm.histograms[name]
	pm.mu.RUnlock()
	if vec == nil {
		return
	}
	if h, err := vec.GetMetricWith(prometheus.Labels(labels)); err == nil {
		h.Observe(value)
		pm.mirror.Histogram(name, value, labels)
	}
}

// GetMetrics returns a snapshot of the mirrored metric values.
func (pm *PrometheusMetrics) GetMetrics() map[string]*Metric {
	return pm.mirror.GetMetrics()
}

// Reset clears all recorded series. Collectors stay registered.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for _, vec := range pm.counters {
		vec.Reset()
	}
	for _, vec := range pm.gauges {
		vec.Reset()
	}
	for _, vec := range pm.histograms {
		vec.Reset()
	}
	pm.mirror.Reset()
}

// GetRegistry returns the Prometheus registry backing this instance.
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler returns an HTTP handler exposing the registry in the Prometheus
// text format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// UpdateSystemMetrics updates the runtime gauges with current values.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
}

// GetUptime returns the time since the instance was created.
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// StartPeriodicUpdates refreshes system metrics every interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}
