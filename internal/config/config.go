// Package config provides configuration management for lanprobe.
// It handles loading, validation, and default values for probe timeouts,
// concurrency limits, DNS, API server, metrics and logging settings.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/lanprobe/internal/logging"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the application configuration.
type Config struct {
	// Probe timeouts and concurrency limits
	Probing ProbingConfig `yaml:"probing" json:"probing"`

	// DNS resolution settings
	DNS DNSConfig `yaml:"dns" json:"dns"`

	// API server configuration
	API APIConfig `yaml:"api" json:"api"`

	// Metrics collection
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// External launcher settings
	Launcher LauncherConfig `yaml:"launcher" json:"launcher"`

	// Server process settings for `lanprobe serve`
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Custom port profiles, in addition to the built-in ones
	Profiles []ProfileConfig `yaml:"profiles" json:"profiles" validate:"dive"`

	// Scheduled probe jobs run by `lanprobe serve`
	Jobs []JobConfig `yaml:"jobs" json:"jobs" validate:"dive"`
}

// ProbingConfig holds the probe engine settings.
type ProbingConfig struct {
	// Number of sequential echo attempts per ping run
	PingAttempts int `yaml:"ping_attempts" json:"ping_attempts" validate:"min=1,max=100"`

	// Timeout for a single echo attempt
	PingTimeout time.Duration `yaml:"ping_timeout" json:"ping_timeout" validate:"gt=0"`

	// Pause between echo attempts
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval" validate:"gte=0"`

	// Timeout for a single TCP connect probe
	PortTimeout time.Duration `yaml:"port_timeout" json:"port_timeout" validate:"gt=0"`

	// Timeout for a single discovery echo
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" json:"discovery_timeout" validate:"gt=0"`

	// Timeout for a single reverse lookup
	ReverseDNSTimeout time.Duration `yaml:"reverse_dns_timeout" json:"reverse_dns_timeout" validate:"gt=0"`

	// Maximum probes in flight per fan-out request
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=1,max=1024"`

	// Maximum probes in flight across all concurrent requests
	GlobalLimit int `yaml:"global_limit" json:"global_limit" validate:"min=1,max=4096"`

	// Maximum number of ports a single scan request may expand to
	MaxPorts int `yaml:"max_ports" json:"max_ports" validate:"min=1,max=65535"`

	// Maximum reverse lookups in flight during discovery
	ResolveConcurrency int `yaml:"resolve_concurrency" json:"resolve_concurrency" validate:"min=1,max=254"`

	// Use raw ICMP sockets instead of unprivileged datagram sockets
	PrivilegedICMP bool `yaml:"privileged_icmp" json:"privileged_icmp"`
}

// DNSConfig holds resolver settings.
type DNSConfig struct {
	// Explicit DNS server (host:port). Empty uses the system resolver.
	Server string `yaml:"server" json:"server" validate:"omitempty,hostname_port"`

	// Timeout for a forward lookup
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	// Listen host
	Host string `yaml:"host" json:"host" validate:"required"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"gt=0"`

	// Maximum request body size in bytes
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size" validate:"gt=0"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Per-client request rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig holds per-client rate limiting settings.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Requests int           `yaml:"requests" json:"requests" validate:"min=1"`
	Window   time.Duration `yaml:"window" json:"window" validate:"gt=0"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	// Expose Prometheus metrics on /metrics
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable request logging for API
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// LauncherConfig holds settings for handing URLs to the platform opener.
type LauncherConfig struct {
	// URL opened by `lanprobe open --speedtest`
	SpeedTestURL string `yaml:"speedtest_url" json:"speedtest_url" validate:"url"`
}

// DaemonConfig holds settings for the long-running server process.
type DaemonConfig struct {
	// PID file path. Empty disables the PID file.
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Time allowed for in-flight requests and jobs on shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`

	// Interval of the periodic status check. Zero disables it.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" validate:"gte=0"`
}

// ProfileConfig defines a named port set usable in place of a port list.
type ProfileConfig struct {
	ID          string `yaml:"id" json:"id" validate:"required,max=32"`
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description" json:"description"`
	Ports       string `yaml:"ports" json:"ports" validate:"required"`
	Priority    int    `yaml:"priority" json:"priority"`
}

// JobConfig defines a scheduled probe job.
type JobConfig struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	Type     string `yaml:"type" json:"type" validate:"oneof=ping scan discovery"`
	Schedule string `yaml:"schedule" json:"schedule" validate:"required"`

	// Host for ping and scan jobs
	Host string `yaml:"host" json:"host" validate:"required_unless=Type discovery"`

	// Ports or Profile for scan jobs
	Ports   string `yaml:"ports" json:"ports"`
	Profile string `yaml:"profile" json:"profile"`

	// Subnet for discovery jobs
	Base string `yaml:"base" json:"base" validate:"required_if=Type discovery"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Probing: ProbingConfig{
			PingAttempts:       4,
			PingTimeout:        1 * time.Second,
			PingInterval:       0,
			PortTimeout:        1000 * time.Millisecond,
			DiscoveryTimeout:   500 * time.Millisecond,
			ReverseDNSTimeout:  2 * time.Second,
			MaxConcurrency:     64,
			GlobalLimit:        256,
			MaxPorts:           100,
			ResolveConcurrency: 4,
			PrivilegedICMP:     false,
		},
		DNS: DNSConfig{
			Server:  "",
			Timeout: 5 * time.Second,
		},
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxRequestSize: 64 * 1024,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
			},
			RateLimit: RateLimitConfig{
				Enabled:  false,
				Requests: 120,
				Window:   time.Minute,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			Output:         "stderr",
			RequestLogging: true,
		},
		Launcher: LauncherConfig{
			SpeedTestURL: "https://test.ustc.edu.cn/",
		},
		Daemon: DaemonConfig{
			PIDFile:             "",
			ShutdownTimeout:     30 * time.Second,
			HealthCheckInterval: time.Minute,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// JSON is a subset of YAML, so one decoder covers both extensions.
	if err := yaml.Unmarshal(data, config); err != nil {
		switch filepath.Ext(path) {
		case ".json":
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		default:
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Probing.ResolveConcurrency > c.Probing.MaxConcurrency {
		return fmt.Errorf("resolve concurrency (%d) must not exceed max concurrency (%d)",
			c.Probing.ResolveConcurrency, c.Probing.MaxConcurrency)
	}

	for _, job := range c.Jobs {
		if job.Type == "scan" && job.Ports == "" && job.Profile == "" {
			return fmt.Errorf("scan job %q needs ports or a profile", job.Name)
		}
	}

	if c.DNS.Server != "" {
		if _, _, err := net.SplitHostPort(c.DNS.Server); err != nil {
			return fmt.Errorf("invalid DNS server %q: %w", c.DNS.Server, err)
		}
	}

	return nil
}

// GetAPIAddress returns the full API address.
func (c *Config) GetAPIAddress() string {
	return net.JoinHostPort(c.API.Host, fmt.Sprintf("%d", c.API.Port))
}

// LoggerConfig converts the logging section into a logger configuration.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.Logging.Level),
		Format: logging.LogFormat(c.Logging.Format),
		Output: c.Logging.Output,
	}
}
