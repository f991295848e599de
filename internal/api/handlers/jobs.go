package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/scheduler"
)

// JobScheduler is satisfied by *scheduler.Scheduler.
type JobScheduler interface {
	GetJobs() []scheduler.ScheduledJob
	GetJob(id uuid.UUID) (scheduler.ScheduledJob, bool)
	RunNow(id uuid.UUID) bool
	EnableJob(id uuid.UUID) error
	DisableJob(id uuid.UUID) error
}

// JobHandler exposes the scheduled jobs of a running server.
type JobHandler struct {
	scheduler JobScheduler
	logger    *logging.Logger
	metrics   metrics.MetricsRegistry
}

// JobsResponse lists scheduled jobs.
type JobsResponse struct {
	Jobs []scheduler.ScheduledJob `json:"jobs"`
}

// JobActionResponse acknowledges a job action.
type JobActionResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// NewJobHandler creates a job handler. A nil scheduler serves an empty list.
func NewJobHandler(s JobScheduler, logger *logging.Logger, registry metrics.MetricsRegistry) *JobHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if registry == nil {
		registry = metrics.Default()
	}
	return &JobHandler{
		scheduler: s,
		logger:    logger.WithFields("handler", "jobs"),
		metrics:   registry,
	}
}

// ListJobs handles GET /api/v1/jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.ScheduledJob{}
	if h.scheduler != nil {
		jobs = h.scheduler.GetJobs()
	}
	writeJSON(w, r, http.StatusOK, JobsResponse{Jobs: jobs})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

// RunJob handles POST /api/v1/jobs/{id}/run. The run starts in the
// background; a job that is disabled or already running is a conflict.
func (h *JobHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !job.Enabled || job.Running {
		writeError(w, r, http.StatusConflict,
			errors.ErrValidation(fmt.Sprintf("job %q is disabled or already running", job.Name)))
		return
	}

	go h.scheduler.RunNow(job.ID)

	h.logger.Info("Job run requested", "job", job.Name, "request_id", getRequestIDFromContext(r.Context()))
	h.metrics.Counter("api_job_runs_requested_total", nil)
	h.ack(w, r, job.ID, "started", http.StatusAccepted)
}

// EnableJob handles POST /api/v1/jobs/{id}/enable.
func (h *JobHandler) EnableJob(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableJob handles POST /api/v1/jobs/{id}/disable.
func (h *JobHandler) DisableJob(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *JobHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var err error
	status := "enabled"
	if enabled {
		err = h.scheduler.EnableJob(job.ID)
	} else {
		status = "disabled"
		err = h.scheduler.DisableJob(job.ID)
	}
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}

	h.logger.Info("Job updated", "job", job.Name, "status", status,
		"request_id", getRequestIDFromContext(r.Context()))
	h.ack(w, r, job.ID, status, http.StatusOK)
}

func (h *JobHandler) lookup(w http.ResponseWriter, r *http.Request) (scheduler.ScheduledJob, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errors.ErrValidation("invalid job ID"))
		return scheduler.ScheduledJob{}, false
	}
	if h.scheduler == nil {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("job not found"))
		return scheduler.ScheduledJob{}, false
	}
	job, ok := h.scheduler.GetJob(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("job not found"))
		return scheduler.ScheduledJob{}, false
	}
	return job, true
}

func (h *JobHandler) ack(w http.ResponseWriter, r *http.Request, id uuid.UUID, status string, code int) {
	writeJSON(w, r, code, JobActionResponse{
		JobID:     id,
		Status:    status,
		Timestamp: time.Now().UTC(),
		RequestID: getRequestIDFromContext(r.Context()),
	})
}
