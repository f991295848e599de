// Package handlers provides HTTP request handlers for the lanprobe API.
// This file implements health check and version endpoints.
package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
)

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusDegraded      = "degraded"
	StatusNotConfigured = "not configured"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// HealthHandler handles health check and version endpoints.
type HealthHandler struct {
	logger    *logging.Logger
	metrics   metrics.MetricsRegistry
	build     BuildInfo
	engines   map[string]bool
	startTime time.Time
}

// NewHealthHandler creates a new health handler. engines reports which
// probe engines were wired at startup.
func NewHealthHandler(logger *logging.Logger, metricsManager metrics.MetricsRegistry,
	build BuildInfo, engines map[string]bool) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{
		logger:    logger.WithFields("handler", "health"),
		metrics:   metricsManager,
		build:     build,
		engines:   engines,
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// VersionResponse represents version information.
type VersionResponse struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports liveness plus which engines are available. A missing
// engine degrades the status but the server still answers 200, since the
// remaining endpoints keep working.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested", "remote_addr", r.RemoteAddr)

	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string, len(h.engines)+1),
	}

	for name, ok := range h.engines {
		if ok {
			response.Checks[name] = "ok"
		} else {
			response.Checks[name] = StatusNotConfigured
			response.Status = StatusDegraded
		}
	}

	if h.metrics != nil {
		response.Checks["metrics"] = "ok"
		h.metrics.Counter("api_health_checks_total", metrics.Labels{
			metrics.LabelStatus: response.Status,
		})
	} else {
		response.Checks["metrics"] = StatusNotConfigured
	}

	writeJSON(w, r, http.StatusOK, response)
}

// Version returns build information.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:   h.build.Version,
		Commit:    h.build.Commit,
		BuildTime: h.build.BuildTime,
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC(),
	})
}
