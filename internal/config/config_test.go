package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/lanprobe/internal/logging"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4, cfg.Probing.PingAttempts)
	assert.Equal(t, time.Second, cfg.Probing.PingTimeout)
	assert.Equal(t, 1000*time.Millisecond, cfg.Probing.PortTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Probing.DiscoveryTimeout)
	assert.Equal(t, 100, cfg.Probing.MaxPorts)
	assert.Equal(t, 4, cfg.Probing.ResolveConcurrency)
	assert.Equal(t, 256, cfg.Probing.GlobalLimit)
	assert.Empty(t, cfg.DNS.Server)
	assert.False(t, cfg.API.RateLimit.Enabled)
	assert.Equal(t, time.Minute, cfg.API.RateLimit.Window)
	assert.Equal(t, 30*time.Second, cfg.Daemon.ShutdownTimeout)
	assert.Empty(t, cfg.Daemon.PIDFile)
	assert.Empty(t, cfg.Jobs)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "valid yaml config",
			path: func(t *testing.T) string {
				return writeConfig(t, "config.yaml", `
probing:
  ping_attempts: 6
  port_timeout: 250ms
  max_ports: 50
dns:
  server: 1.1.1.1:53
  timeout: 2s
logging:
  level: debug
  format: json
`)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 6, cfg.Probing.PingAttempts)
				assert.Equal(t, 250*time.Millisecond, cfg.Probing.PortTimeout)
				assert.Equal(t, 50, cfg.Probing.MaxPorts)
				assert.Equal(t, "1.1.1.1:53", cfg.DNS.Server)
				assert.Equal(t, "debug", cfg.Logging.Level)
				// untouched fields keep their defaults
				assert.Equal(t, 500*time.Millisecond, cfg.Probing.DiscoveryTimeout)
			},
		},
		{
			name: "valid json config",
			path: func(t *testing.T) string {
				return writeConfig(t, "config.json", `{
					"probing": {"max_concurrency": 16, "ping_timeout": "2s"},
					"api": {"port": 9090}
				}`)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 16, cfg.Probing.MaxConcurrency)
				assert.Equal(t, 2*time.Second, cfg.Probing.PingTimeout)
				assert.Equal(t, 9090, cfg.API.Port)
			},
		},
		{
			name: "missing file returns defaults",
			path: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "absent.yaml")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, Default(), cfg)
			},
		},
		{
			name: "invalid yaml syntax",
			path: func(t *testing.T) string {
				return writeConfig(t, "bad.yaml", "probing: [unterminated")
			},
			wantErr: "failed to parse YAML config",
		},
		{
			name: "invalid json syntax",
			path: func(t *testing.T) string {
				return writeConfig(t, "bad.json", `{"probing": [}`)
			},
			wantErr: "failed to parse JSON config",
		},
		{
			name: "validation failure",
			path: func(t *testing.T) string {
				return writeConfig(t, "invalid.yaml", "probing:\n  max_concurrency: 0\n")
			},
			wantErr: "invalid configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.path(t))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero ping attempts", func(c *Config) { c.Probing.PingAttempts = 0 }, true},
		{"zero ping timeout", func(c *Config) { c.Probing.PingTimeout = 0 }, true},
		{"negative interval", func(c *Config) { c.Probing.PingInterval = -time.Second }, true},
		{"zero port timeout", func(c *Config) { c.Probing.PortTimeout = 0 }, true},
		{"zero global limit", func(c *Config) { c.Probing.GlobalLimit = 0 }, true},
		{"max ports above range", func(c *Config) { c.Probing.MaxPorts = 70000 }, true},
		{"resolve concurrency above fan-out", func(c *Config) {
			c.Probing.MaxConcurrency = 2
			c.Probing.ResolveConcurrency = 4
		}, true},
		{"dns server without port", func(c *Config) { c.DNS.Server = "1.1.1.1" }, true},
		{"dns server with port", func(c *Config) { c.DNS.Server = "9.9.9.9:53" }, false},
		{"api port out of range", func(c *Config) { c.API.Port = 0 }, true},
		{"empty api host", func(c *Config) { c.API.Host = "" }, true},
		{"zero rate limit requests", func(c *Config) { c.API.RateLimit.Requests = 0 }, true},
		{"zero rate limit window", func(c *Config) { c.API.RateLimit.Window = 0 }, true},
		{"invalid log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"invalid speedtest url", func(c *Config) { c.Launcher.SpeedTestURL = "not a url" }, true},
		{"zero shutdown timeout", func(c *Config) { c.Daemon.ShutdownTimeout = 0 }, true},
		{"profile without ports", func(c *Config) {
			c.Profiles = []ProfileConfig{{ID: "cams", Name: "Cameras"}}
		}, true},
		{"valid profile", func(c *Config) {
			c.Profiles = []ProfileConfig{{ID: "cams", Name: "Cameras", Ports: "554,8554"}}
		}, false},
		{"ping job", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "gw", Type: "ping", Schedule: "@every 1m", Host: "192.168.1.1"}}
		}, false},
		{"ping job without host", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "gw", Type: "ping", Schedule: "@every 1m"}}
		}, true},
		{"discovery job without base", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "lan", Type: "discovery", Schedule: "@hourly"}}
		}, true},
		{"discovery job", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "lan", Type: "discovery", Schedule: "@hourly", Base: "192.168.1"}}
		}, false},
		{"scan job without ports", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "nas", Type: "scan", Schedule: "@hourly", Host: "nas.lan"}}
		}, true},
		{"scan job with profile", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "nas", Type: "scan", Schedule: "@hourly", Host: "nas.lan", Profile: "files"}}
		}, false},
		{"unknown job type", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "x", Type: "trace", Schedule: "@hourly", Host: "h"}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	cfg := Default()
	cfg.Probing.MaxPorts = 42
	cfg.Probing.PortTimeout = 300 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "lanprobe.yaml")
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePerm), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Probing.MaxPorts)
	assert.Equal(t, 300*time.Millisecond, loaded.Probing.PortTimeout)
}

func TestHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:8080", cfg.GetAPIAddress())

	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "json"
	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LevelWarn, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, "stderr", lc.Output)
}
