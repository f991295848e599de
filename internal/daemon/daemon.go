// Package daemon runs lanprobe as a long-lived service. It owns the process
// lifecycle of `lanprobe serve`: the PID file, the API server, the job
// scheduler built from configuration, periodic health checks and the
// control signals (SIGHUP reload, SIGUSR1 status dump, SIGUSR2 debug toggle).
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/lanprobe/internal/config"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/profiles"
	"github.com/anstrom/lanprobe/internal/scheduler"
)

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Gauges published by the health check.
const (
	MetricJobs       = "daemon_jobs"
	MetricFailedJobs = "daemon_jobs_failing"
	MetricGoroutines = "daemon_goroutines"
	MetricProbeSlots = "daemon_probe_slots_in_use"
)

// APIServer is satisfied by *api.Server.
type APIServer interface {
	Start(ctx context.Context) error
	GetAddress() string
}

// Deps are the components the daemon runs. Server and Scheduler are
// required.
type Deps struct {
	Server    APIServer
	Scheduler *scheduler.Scheduler
	Profiles  *profiles.Manager
	Metrics   metrics.MetricsRegistry
	Logger    *logging.Logger

	// Limiter is the process-wide probe socket limiter. Optional.
	Limiter *probe.Limiter

	// Reload loads a fresh configuration on SIGHUP. Nil disables reloads.
	Reload func() (*config.Config, error)
}

// Daemon represents the main daemon process.
type Daemon struct {
	config    *config.Config
	server    APIServer
	scheduler *scheduler.Scheduler
	profiles  *profiles.Manager
	metrics   metrics.MetricsRegistry
	logger    *logging.Logger
	limiter   *probe.Limiter
	reload    func() (*config.Config, error)
	pidFile   string

	// jobIDs are the scheduler jobs created from config.Jobs.
	jobIDs    []uuid.UUID
	debugMode bool
	started   time.Time
	mu        sync.RWMutex
}

// New creates a new daemon instance.
func New(cfg *config.Config, deps Deps) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Server == nil {
		return nil, fmt.Errorf("API server is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}
	if deps.Profiles == nil {
		manager, err := profiles.NewManager(cfg.Profiles)
		if err != nil {
			return nil, err
		}
		deps.Profiles = manager
	}

	return &Daemon{
		config:    cfg,
		server:    deps.Server,
		scheduler: deps.Scheduler,
		profiles:  deps.Profiles,
		metrics:   deps.Metrics,
		logger:    deps.Logger.WithComponent("daemon"),
		limiter:   deps.Limiter,
		reload:    deps.Reload,
		pidFile:   cfg.Daemon.PIDFile,
	}, nil
}

// Run starts the daemon and blocks until ctx is canceled or the API server
// fails. The scheduler is stopped and the PID file removed before Run
// returns.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Starting lanprobe daemon", "pid", os.Getpid())

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer d.removePIDFile()

	ids, err := d.loadJobs(d.config.Jobs)
	if err != nil {
		return err
	}
	d.setJobIDs(ids)

	if err := d.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer d.scheduler.Stop()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)

	d.mu.Lock()
	d.started = time.Now()
	d.mu.Unlock()

	return d.run(ctx, signals)
}

// run executes the main daemon loop.
func (d *Daemon) run(ctx context.Context, signals <-chan os.Signal) error {
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- d.server.Start(serverCtx)
	}()

	var health <-chan time.Time
	if interval := d.config.Daemon.HealthCheckInterval; interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		health = ticker.C
	}

	d.logger.Info("Daemon started", "address", d.server.GetAddress(), "jobs", len(d.JobIDs()))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutdown signal received")
			return d.awaitServer(serverErr)

		case err := <-serverErr:
			if err != nil {
				d.logger.Error("API server error", "error", err)
			}
			return err

		case sig := <-signals:
			d.handleSignal(sig)

		case <-health:
			d.performHealthCheck()
		}
	}
}

// awaitServer waits for the API server to finish its graceful shutdown.
func (d *Daemon) awaitServer(serverErr <-chan error) error {
	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
		d.logger.Info("Daemon stopped gracefully")
		return nil
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Warn("Shutdown timeout reached", "timeout", d.config.Daemon.ShutdownTimeout)
		return fmt.Errorf("shutdown timed out after %s", d.config.Daemon.ShutdownTimeout)
	}
}

func (d *Daemon) handleSignal(sig os.Signal) {
	d.logger.Info("Received signal", "signal", sig.String())

	switch sig {
	case syscall.SIGHUP:
		if err := d.reloadConfiguration(); err != nil {
			d.logger.Error("Configuration reload failed", "error", err)
		} else {
			d.logger.Info("Configuration reloaded successfully")
		}
	case syscall.SIGUSR1:
		d.dumpStatus()
	case syscall.SIGUSR2:
		d.toggleDebugMode()
	}
}

// loadJobs adds jobs to the scheduler. If any job is rejected, the ones
// already added by this call are removed again.
func (d *Daemon) loadJobs(jobs []config.JobConfig) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(jobs))
	for _, job := range jobs {
		id, err := d.addJob(job)
		if err != nil {
			d.removeJobs(ids)
			return nil, fmt.Errorf("job %q: %w", job.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *Daemon) addJob(job config.JobConfig) (uuid.UUID, error) {
	switch job.Type {
	case scheduler.JobTypePing:
		return d.scheduler.AddPingJob(job.Name, job.Schedule, scheduler.PingJobConfig{Host: job.Host})
	case scheduler.JobTypeScan:
		ports, err := d.profiles.ResolvePorts(job.Ports, job.Profile)
		if err != nil {
			return uuid.Nil, err
		}
		return d.scheduler.AddScanJob(job.Name, job.Schedule, scheduler.ScanJobConfig{Host: job.Host, Ports: ports})
	case scheduler.JobTypeDiscovery:
		return d.scheduler.AddDiscoveryJob(job.Name, job.Schedule, scheduler.DiscoveryJobConfig{Base: job.Base})
	default:
		return uuid.Nil, fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (d *Daemon) removeJobs(ids []uuid.UUID) {
	for _, id := range ids {
		if err := d.scheduler.RemoveJob(id); err != nil {
			d.logger.Warn("Failed to remove job", "job_id", id, "error", err)
		}
	}
}

// reloadConfiguration applies a fresh configuration. The log level, custom
// profiles and configured jobs are replaced; listener and probe settings
// need a restart.
func (d *Daemon) reloadConfiguration() error {
	if d.reload == nil {
		return fmt.Errorf("configuration reload is not supported")
	}

	newConfig, err := d.reload()
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("new configuration is invalid: %w", err)
	}

	d.mu.RLock()
	oldConfig := d.config
	d.mu.RUnlock()

	if err := d.profiles.Reload(newConfig.Profiles); err != nil {
		return fmt.Errorf("profiles: %w", err)
	}

	ids, err := d.loadJobs(newConfig.Jobs)
	if err != nil {
		if rollback := d.profiles.Reload(oldConfig.Profiles); rollback != nil {
			d.logger.Error("Failed to restore profiles", "error", rollback)
		}
		return err
	}
	d.removeJobs(d.JobIDs())
	d.setJobIDs(ids)

	if hasAPIConfigChanged(oldConfig, newConfig) {
		d.logger.Warn("API listener settings changed, restart to apply",
			"old", oldConfig.GetAPIAddress(), "new", newConfig.GetAPIAddress())
	}

	d.mu.Lock()
	d.config = newConfig
	debug := d.debugMode
	d.mu.Unlock()

	if !debug {
		d.logger.SetLevel(logging.LogLevel(newConfig.Logging.Level))
	}

	d.logger.Info("Configuration applied", "jobs", len(ids), "profiles", len(newConfig.Profiles))
	return nil
}

func hasAPIConfigChanged(oldConfig, newConfig *config.Config) bool {
	return oldConfig.API.Host != newConfig.API.Host ||
		oldConfig.API.Port != newConfig.API.Port
}

// performHealthCheck publishes job and runtime gauges and warns about jobs
// whose last run failed.
func (d *Daemon) performHealthCheck() {
	jobs := d.scheduler.GetJobs()

	var failing []string
	for _, job := range jobs {
		if job.LastRun != nil && job.LastRun.Error != "" {
			failing = append(failing, job.Name)
		}
	}

	goroutines := runtime.NumGoroutine()
	d.metrics.Gauge(MetricJobs, float64(len(jobs)), nil)
	d.metrics.Gauge(MetricFailedJobs, float64(len(failing)), nil)
	d.metrics.Gauge(MetricGoroutines, float64(goroutines), nil)

	slots := d.limiter.Stats()
	d.metrics.Gauge(MetricProbeSlots, float64(slots.InUse), nil)
	if slots.Closed {
		d.logger.Warn("Health check: probe limiter closed")
	}

	if len(failing) > 0 {
		d.logger.Warn("Health check: jobs failing", "jobs", strings.Join(failing, ","))
		return
	}
	d.logger.Debug("Health check passed", "jobs", len(jobs), "goroutines", goroutines)
}

// dumpStatus writes the current daemon status to the log.
func (d *Daemon) dumpStatus() {
	d.mu.RLock()
	debugMode := d.debugMode
	started := d.started
	d.mu.RUnlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	slots := d.limiter.Stats()

	d.logger.Info("Daemon status",
		"pid", os.Getpid(),
		"uptime", time.Since(started).Round(time.Second).String(),
		"debug", debugMode,
		"address", d.server.GetAddress(),
		"alloc_kb", m.Alloc/1024,
		"sys_kb", m.Sys/1024,
		"num_gc", m.NumGC,
		"goroutines", runtime.NumGoroutine(),
		"probe_slots_in_use", slots.InUse,
		"probe_slots", slots.Capacity)

	for _, job := range d.scheduler.GetJobs() {
		fields := []any{"job", job.Name, "type", job.Type, "schedule", job.Schedule,
			"enabled", job.Enabled, "running", job.Running, "skipped", job.Skipped}
		if !job.NextRun.IsZero() {
			fields = append(fields, "next_run", job.NextRun.Format(time.RFC3339))
		}
		if job.LastRun != nil {
			fields = append(fields, "last_run", job.LastRun.StartedAt.Format(time.RFC3339))
			if job.LastRun.Error != "" {
				fields = append(fields, "last_error", job.LastRun.Error)
			}
		}
		d.logger.Info("Job status", fields...)
	}
}

// toggleDebugMode switches the log level between debug and the configured
// level.
func (d *Daemon) toggleDebugMode() {
	d.mu.Lock()
	d.debugMode = !d.debugMode
	enabled := d.debugMode
	level := logging.LogLevel(d.config.Logging.Level)
	d.mu.Unlock()

	if enabled {
		d.logger.SetLevel(logging.LevelDebug)
		d.logger.Info("Debug mode enabled")
		return
	}
	d.logger.SetLevel(level)
	d.logger.Info("Debug mode disabled", "level", level)
}

// IsDebugMode returns the current debug mode state.
func (d *Daemon) IsDebugMode() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.debugMode
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// JobIDs returns the ids of the jobs created from configuration.
func (d *Daemon) JobIDs() []uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]uuid.UUID(nil), d.jobIDs...)
}

func (d *Daemon) setJobIDs(ids []uuid.UUID) {
	d.mu.Lock()
	d.jobIDs = ids
	d.mu.Unlock()
}

// createPIDFile writes the PID file, refusing to start over a live process.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(d.pidFile), DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID removes a stale or unreadable PID file and fails if the
// recorded process is still alive.
func (d *Daemon) checkExistingPID() error {
	data, err := os.ReadFile(d.pidFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && pid != os.Getpid() && isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	d.logger.Info("Removing stale PID file", "path", d.pidFile)
	_ = os.Remove(d.pidFile)
	return nil
}

func (d *Daemon) removePIDFile() {
	if d.pidFile == "" {
		return
	}
	if err := os.Remove(d.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("Error removing PID file", "path", d.pidFile, "error", err)
		return
	}
	d.logger.Info("Removed PID file", "path", d.pidFile)
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
