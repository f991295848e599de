// Package scheduler runs probes on a cron schedule. Jobs live in memory for
// the lifetime of the process; each run gets its own run id, and a run that
// is still going when the next tick fires causes that tick to be skipped.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/lanprobe/internal/discovery"
	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/ping"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/scanning"
	"github.com/anstrom/lanprobe/internal/targets"
)

// Job types.
const (
	JobTypePing      = "ping"
	JobTypeScan      = "scan"
	JobTypeDiscovery = "discovery"
)

// PortScanner is satisfied by *scanning.Scanner.
type PortScanner interface {
	Scan(ctx context.Context, req *targets.ScanRequest) (*scanning.Summary, error)
}

// Discoverer is satisfied by *discovery.Engine.
type Discoverer interface {
	Discover(ctx context.Context, config discovery.Config) (*discovery.Summary, error)
}

// Deps are the probe engines jobs run against. Only the engines needed by
// the jobs that are added must be set.
type Deps struct {
	Pinger      probe.Pinger
	Scanner     PortScanner
	Discovery   Discoverer
	PingOptions ping.Options
	ScanOptions targets.RequestOptions
	Logger      *logging.Logger
}

// PingJobConfig represents ping job configuration.
type PingJobConfig struct {
	Host string `json:"host"`
}

// ScanJobConfig represents scan job configuration.
type ScanJobConfig struct {
	Host  string `json:"host"`
	Ports string `json:"ports"`
}

// DiscoveryJobConfig represents discovery job configuration.
type DiscoveryJobConfig struct {
	Base string `json:"base"`
}

// Run records one execution of a job.
type Run struct {
	ID        uuid.UUID     `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	// Retryable marks a failure caused by a timeout or exhausted resources.
	Retryable bool          `json:"retryable,omitempty"`
}

// ScheduledJob represents a scheduled job wrapper.
type ScheduledJob struct {
	ID       uuid.UUID    `json:"id"`
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Schedule string       `json:"schedule"`
	Enabled  bool         `json:"enabled"`
	CronID   cron.EntryID `json:"-"`
	LastRun  *Run         `json:"last_run,omitempty"`
	NextRun  time.Time    `json:"next_run"`
	Running  bool         `json:"running"`
	Skipped  int          `json:"skipped"`

	run func(ctx context.Context) (any, error)
}

// Scheduler manages scheduled probe jobs.
type Scheduler struct {
	deps    Deps
	cron    *cron.Cron
	jobs    map[uuid.UUID]*ScheduledJob
	logger  *logging.Logger
	mu      sync.RWMutex
	wg      sync.WaitGroup
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	onRun func(job ScheduledJob)
}

// NewScheduler creates a new job scheduler.
func NewScheduler(deps Deps) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Scheduler{
		deps:   deps,
		cron:   cron.New(),
		jobs:   make(map[uuid.UUID]*ScheduledJob),
		logger: logger.WithComponent("scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnRun registers fn to be called with a snapshot of the job after each
// completed run. It must be set before Start.
func (s *Scheduler) OnRun(fn func(job ScheduledJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRun = fn
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler, cancels running jobs and waits for them to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopped := s.cron.Stop()
	s.cancel()
	s.running = false
	s.mu.Unlock()

	<-stopped.Done()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// AddPingJob schedules a ping run against config.Host.
func (s *Scheduler) AddPingJob(name, cronExpr string, config PingJobConfig) (uuid.UUID, error) {
	if s.deps.Pinger == nil {
		return uuid.Nil, errors.NewProbeError(errors.CodeConfiguration, "no pinger configured")
	}
	if config.Host == "" {
		return uuid.Nil, errors.ErrValidation("host is required")
	}
	return s.addJob(name, cronExpr, JobTypePing, func(ctx context.Context) (any, error) {
		return ping.Run(ctx, s.deps.Pinger, config.Host, s.deps.PingOptions, nil)
	})
}

// AddScanJob schedules a port scan. The request is validated up front.
func (s *Scheduler) AddScanJob(name, cronExpr string, config ScanJobConfig) (uuid.UUID, error) {
	if s.deps.Scanner == nil {
		return uuid.Nil, errors.NewProbeError(errors.CodeConfiguration, "no scanner configured")
	}
	req, err := targets.NewScanRequest(config.Host, config.Ports, s.deps.ScanOptions)
	if err != nil {
		return uuid.Nil, err
	}
	return s.addJob(name, cronExpr, JobTypeScan, func(ctx context.Context) (any, error) {
		return s.deps.Scanner.Scan(ctx, req)
	})
}

// AddDiscoveryJob schedules a discovery sweep of config.Base.
func (s *Scheduler) AddDiscoveryJob(name, cronExpr string, config DiscoveryJobConfig) (uuid.UUID, error) {
	if s.deps.Discovery == nil {
		return uuid.Nil, errors.NewProbeError(errors.CodeConfiguration, "no discovery engine configured")
	}
	base, err := targets.NormalizeBase(config.Base)
	if err != nil {
		return uuid.Nil, err
	}
	return s.addJob(name, cronExpr, JobTypeDiscovery, func(ctx context.Context) (any, error) {
		return s.deps.Discovery.Discover(ctx, discovery.Config{Base: base})
	})
}

func (s *Scheduler) addJob(name, cronExpr, jobType string, run func(ctx context.Context) (any, error)) (uuid.UUID, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return uuid.Nil, errors.WrapProbeError(errors.CodeValidation, "invalid cron expression", err)
	}

	job := &ScheduledJob{
		ID:       uuid.New(),
		Name:     name,
		Type:     jobType,
		Schedule: cronExpr,
		Enabled:  true,
		NextRun:  schedule.Next(time.Now()),
		run:      run,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobID := job.ID
	job.CronID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(jobID) }))
	s.jobs[job.ID] = job

	s.logger.Info("Added scheduled job", "job", name, "type", jobType, "schedule", cronExpr)
	return job.ID, nil
}

// RemoveJob removes a scheduled job.
func (s *Scheduler) RemoveJob(jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found")
	}

	s.cron.Remove(job.CronID)
	delete(s.jobs, jobID)

	s.logger.Info("Removed scheduled job", "job", job.Name)
	return nil
}

// EnableJob enables a scheduled job.
func (s *Scheduler) EnableJob(jobID uuid.UUID) error {
	return s.setJobEnabled(jobID, true)
}

// DisableJob disables a scheduled job. Ticks for a disabled job are ignored.
func (s *Scheduler) DisableJob(jobID uuid.UUID) error {
	return s.setJobEnabled(jobID, false)
}

func (s *Scheduler) setJobEnabled(jobID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found")
	}
	job.Enabled = enabled

	s.logger.Info("Scheduled job updated", "job", job.Name, "enabled", enabled)
	return nil
}

// GetJobs returns snapshots of all jobs ordered by name.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		if entry := s.cron.Entry(job.CronID); entry.Valid() && !entry.Next.IsZero() {
			snapshot.NextRun = entry.Next
		}
		snapshot.run = nil
		jobs = append(jobs, snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// GetJob returns a snapshot of one job.
func (s *Scheduler) GetJob(jobID uuid.UUID) (ScheduledJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return ScheduledJob{}, false
	}
	snapshot := *job
	if entry := s.cron.Entry(job.CronID); entry.Valid() && !entry.Next.IsZero() {
		snapshot.NextRun = entry.Next
	}
	snapshot.run = nil
	return snapshot, true
}

// RunNow executes a job immediately on the caller's goroutine, following
// the same overlap rule as scheduled ticks. It reports whether the job ran;
// after Stop nothing runs.
func (s *Scheduler) RunNow(jobID uuid.UUID) bool {
	return s.execute(jobID)
}

// execute runs one tick of a job. A tick that finds the previous run still
// going is skipped.
func (s *Scheduler) execute(jobID uuid.UUID) bool {
	job, ok := s.prepareJobExecution(jobID)
	if !ok {
		return false
	}
	defer s.wg.Done()

	run := &Run{ID: uuid.New(), StartedAt: time.Now()}
	logger := s.logger.WithRunID(run.ID.String()).WithFields("job", job.Name, "type", job.Type)

	defer func() {
		if r := recover(); r != nil {
			run.Error = fmt.Sprintf("job panicked: %v", r)
			logger.Error("Scheduled job panicked", "panic", r)
		}
		run.Duration = time.Since(run.StartedAt)
		s.cleanupJobExecution(jobID, run)
	}()

	logger.Info("Scheduled run started")
	result, err := job.run(s.ctx)
	run.Result = result
	if err != nil {
		run.Error = err.Error()
		run.Retryable = errors.IsRetryable(err)
		logger.Warn("Scheduled run failed", "error", err, "retryable", run.Retryable,
			"duration", time.Since(run.StartedAt))
		return true
	}

	logger.Info("Scheduled run completed", append(runFields(result), "duration", time.Since(run.StartedAt))...)
	return true
}

// prepareJobExecution marks the job running and registers the run with the
// wait group. Both happen under the lock Stop takes to cancel, so a run is
// either refused or waited for.
func (s *Scheduler) prepareJobExecution(jobID uuid.UUID) (*ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, false
	}
	job, exists := s.jobs[jobID]
	if !exists || !job.Enabled {
		return nil, false
	}
	if job.Running {
		job.Skipped++
		s.logger.Warn("Scheduled job is already running, skipping", "job", job.Name)
		return nil, false
	}
	job.Running = true
	s.wg.Add(1)
	return job, true
}

func (s *Scheduler) cleanupJobExecution(jobID uuid.UUID, run *Run) {
	s.mu.Lock()
	job, exists := s.jobs[jobID]
	if exists {
		job.Running = false
		job.LastRun = run
	}
	var snapshot ScheduledJob
	if exists {
		snapshot = *job
	}
	onRun := s.onRun
	s.mu.Unlock()

	if exists && onRun != nil {
		onRun(snapshot)
	}
}

// runFields summarizes a run result for the log line.
func runFields(result any) []any {
	switch r := result.(type) {
	case *ping.Summary:
		fields := []any{"host", r.Host, "state", r.State(), "successes", r.SuccessCount, "attempts", r.Sent()}
		if r.MeanLatencyMs != nil {
			fields = append(fields, "mean_ms", *r.MeanLatencyMs)
		}
		return fields
	case *scanning.Summary:
		return []any{"host", r.Host, "scanned", r.Scanned, "open", r.Open}
	case *discovery.Summary:
		return []any{"base", r.Base, "scanned", r.Scanned, "devices", len(r.Devices)}
	default:
		return nil
	}
}
