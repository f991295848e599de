// Package api provides the HTTP API for lanprobe. It exposes ping, port
// scan, discovery, name resolution and interface listing over JSON, along
// with port profiles, scheduled jobs, a WebSocket ping stream and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	apihandlers "github.com/anstrom/lanprobe/internal/api/handlers"
	"github.com/anstrom/lanprobe/internal/api/middleware"
	"github.com/anstrom/lanprobe/internal/config"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/netinfo"
	"github.com/anstrom/lanprobe/internal/ping"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/profiles"
	"github.com/anstrom/lanprobe/internal/targets"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	maxHeaderBytes        = 1 << 20
)

// Deps are the engines and observability hooks the server is built from.
// Nil engines leave their endpoints answering 503.
type Deps struct {
	Pinger    probe.Pinger
	Scanner   apihandlers.PortScanner
	Discovery apihandlers.Discoverer
	Resolver  probe.Resolver

	// Profiles resolves named port sets. Nil uses the built-in profiles.
	Profiles *profiles.Manager
	// Scheduler backs the /jobs endpoints. Nil serves an empty job list.
	Scheduler apihandlers.JobScheduler

	// Metrics receives HTTP and probe metrics.
	Metrics metrics.MetricsRegistry
	// MetricsHandler serves /metrics when metrics are enabled.
	MetricsHandler http.Handler

	Logger *logging.Logger
	Build  apihandlers.BuildInfo

	// Interfaces and LocalBase override the netinfo lookups.
	Interfaces func() ([]netinfo.Interface, error)
	LocalBase  func() (string, error)
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	deps       Deps
	logger     *logging.Logger
	startTime  time.Time
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}

	server := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		deps:      deps,
		logger:    deps.Logger.WithComponent("api"),
		startTime: time.Now(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
		Handler:        server.router,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		IdleTimeout:    cfg.API.IdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	return server, nil
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	timeout := s.config.Daemon.ShutdownTimeout
	if timeout <= 0 {
		timeout = serverShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	probing := s.config.Probing

	pingOptions := ping.Options{
		Attempts: probing.PingAttempts,
		Timeout:  probing.PingTimeout,
		Interval: probing.PingInterval,
		Metrics:  s.deps.Metrics,
		Logger:   s.deps.Logger,
	}

	health := apihandlers.NewHealthHandler(s.deps.Logger, s.deps.Metrics, s.deps.Build, map[string]bool{
		"icmp":      s.deps.Pinger != nil,
		"tcp":       s.deps.Scanner != nil,
		"discovery": s.deps.Discovery != nil,
	})
	probes := apihandlers.NewProbeHandler(apihandlers.ProbeConfig{
		Pinger:      s.deps.Pinger,
		Scanner:     s.deps.Scanner,
		Discovery:   s.deps.Discovery,
		Resolver:    s.deps.Resolver,
		PingOptions: pingOptions,
		ScanOptions: targets.RequestOptions{
			PerProbeTimeout: probing.PortTimeout,
			MaxConcurrency:  probing.MaxConcurrency,
			MaxTargetCount:  probing.MaxPorts,
		},
		Profiles:       s.deps.Profiles,
		Interfaces:     s.deps.Interfaces,
		LocalBase:      s.deps.LocalBase,
		MaxRequestSize: s.config.API.MaxRequestSize,
		Logger:         s.deps.Logger,
	})
	jobs := apihandlers.NewJobHandler(s.deps.Scheduler, s.deps.Logger, s.deps.Metrics)
	var streamOrigins []string
	if s.config.API.CORS.Enabled {
		streamOrigins = s.config.API.CORS.AllowedOrigins
	}
	stream := apihandlers.NewWebSocketHandler(s.deps.Pinger, pingOptions, s.deps.Logger, s.deps.Metrics, streamOrigins)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(apihandlers.MethodNotAllowed)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(apihandlers.MethodNotAllowed)

	api.HandleFunc("/health", health.Health).Methods("GET")
	api.HandleFunc("/version", health.Version).Methods("GET")

	api.HandleFunc("/ping", probes.Ping).Methods("POST", "OPTIONS")
	api.HandleFunc("/scan", probes.Scan).Methods("POST", "OPTIONS")
	api.HandleFunc("/discover", probes.Discover).Methods("POST", "OPTIONS")
	api.HandleFunc("/resolve", probes.Resolve).Methods("GET")
	api.HandleFunc("/interfaces", probes.Interfaces).Methods("GET")
	api.HandleFunc("/profiles", probes.Profiles).Methods("GET")

	api.HandleFunc("/jobs", jobs.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobs.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/run", jobs.RunJob).Methods("POST", "OPTIONS")
	api.HandleFunc("/jobs/{id}/enable", jobs.EnableJob).Methods("POST", "OPTIONS")
	api.HandleFunc("/jobs/{id}/disable", jobs.DisableJob).Methods("POST", "OPTIONS")

	api.HandleFunc("/ws/ping", stream.PingStream).Methods("GET")

	if s.config.Metrics.Enabled && s.deps.MetricsHandler != nil {
		s.router.Handle("/metrics", s.deps.MetricsHandler).Methods("GET")
	}

	s.router.HandleFunc("/", s.index).Methods("GET")
}

// setupMiddleware configures middleware for the API server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))

	if s.config.Logging.RequestLogging {
		s.router.Use(middleware.Logging(s.logger))
	}
	s.router.Use(middleware.Metrics(s.deps.Metrics))

	if rl := s.config.API.RateLimit; rl.Enabled {
		s.router.Use(middleware.RateLimit(rl.Requests, rl.Window, s.logger))
	}

	s.router.Use(middleware.SecurityHeaders())

	if cors := s.config.API.CORS; cors.Enabled {
		corsOptions := handlers.AllowedOrigins(cors.AllowedOrigins)
		corsHeaders := handlers.AllowedHeaders([]string{"Content-Type", middleware.RequestIDHeader})
		corsMethods := handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"})
		s.router.Use(handlers.CORS(corsOptions, corsHeaders, corsMethods))
	}

	s.router.Use(middleware.ContentType())
}

// index returns API information for root requests.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service": "lanprobe API",
		"version": "v1",
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"endpoints": map[string]string{
			"health":     "GET /api/v1/health",
			"version":    "GET /api/v1/version",
			"ping":       "POST /api/v1/ping",
			"scan":       "POST /api/v1/scan",
			"discover":   "POST /api/v1/discover",
			"resolve":    "GET /api/v1/resolve?name=",
			"interfaces": "GET /api/v1/interfaces",
			"profiles":   "GET /api/v1/profiles",
			"jobs":       "GET /api/v1/jobs",
			"job":        "GET /api/v1/jobs/{id}",
			"job_run":    "POST /api/v1/jobs/{id}/run",
			"ping_ws":    "GET /api/v1/ws/ping?host=",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode API index response", "error", err)
	}
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// IsRunning checks if the server is accepting connections.
func (s *Server) IsRunning() bool {
	if s.httpServer == nil {
		return false
	}

	conn, err := net.DialTimeout("tcp", s.httpServer.Addr, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
