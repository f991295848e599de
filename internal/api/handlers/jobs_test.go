package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/ping"
	"github.com/anstrom/lanprobe/internal/scheduler"
)

func newTestJobs(t *testing.T) (*JobHandler, *scheduler.Scheduler, uuid.UUID) {
	t.Helper()
	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelError}, io.Discard)

	s := scheduler.NewScheduler(scheduler.Deps{
		Pinger:      &stubPinger{latencies: []time.Duration{5 * time.Millisecond}},
		PingOptions: ping.Options{Attempts: 1, Metrics: metrics.NewRegistry(), Logger: logger},
		Logger:      logger,
	})
	id, err := s.AddPingJob("gateway", "@every 1h", scheduler.PingJobConfig{Host: "192.168.1.1"})
	require.NoError(t, err)

	return NewJobHandler(s, logger, metrics.NewRegistry()), s, id
}

func doJob(handler http.HandlerFunc, method, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/jobs/"+id, http.NoBody)
	req = mux.SetURLVars(req, map[string]string{"id": id})
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestListJobs(t *testing.T) {
	h, _, id := newTestJobs(t)

	w := doJob(h.ListJobs, http.MethodGet, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp JobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, id, resp.Jobs[0].ID)
	assert.Equal(t, scheduler.JobTypePing, resp.Jobs[0].Type)
	assert.True(t, resp.Jobs[0].Enabled)
}

func TestListJobsWithoutScheduler(t *testing.T) {
	h := NewJobHandler(nil, testLogger(), metrics.NewRegistry())

	w := doJob(h.ListJobs, http.MethodGet, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jobs":[]}`, w.Body.String())

	w = doJob(h.GetJob, http.MethodGet, uuid.NewString())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJob(t *testing.T) {
	h, _, id := newTestJobs(t)

	w := doJob(h.GetJob, http.MethodGet, id.String())
	require.Equal(t, http.StatusOK, w.Code)
	var job scheduler.ScheduledJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "gateway", job.Name)

	assert.Equal(t, http.StatusNotFound, doJob(h.GetJob, http.MethodGet, uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, doJob(h.GetJob, http.MethodGet, "not-a-uuid").Code)
}

func TestRunJob(t *testing.T) {
	h, s, id := newTestJobs(t)

	w := doJob(h.RunJob, http.MethodPost, id.String())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var ack JobActionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, id, ack.JobID)
	assert.Equal(t, "started", ack.Status)

	require.Eventually(t, func() bool {
		job, ok := s.GetJob(id)
		return ok && job.LastRun != nil && !job.Running
	}, 2*time.Second, 10*time.Millisecond)

	job, _ := s.GetJob(id)
	assert.Empty(t, job.LastRun.Error)
}

func TestEnableDisableJob(t *testing.T) {
	h, s, id := newTestJobs(t)

	w := doJob(h.DisableJob, http.MethodPost, id.String())
	require.Equal(t, http.StatusOK, w.Code)
	job, _ := s.GetJob(id)
	assert.False(t, job.Enabled)

	w = doJob(h.RunJob, http.MethodPost, id.String())
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJob(h.EnableJob, http.MethodPost, id.String())
	require.Equal(t, http.StatusOK, w.Code)
	var ack JobActionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, "enabled", ack.Status)
	job, _ = s.GetJob(id)
	assert.True(t, job.Enabled)
}
