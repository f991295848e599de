package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNewLogger(t *testing.T) {
	t.Run("stdout text logger", func(t *testing.T) {
		logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: "stdout"})
		require.NoError(t, err)
		assert.NotNil(t, logger.Logger)
		assert.Equal(t, "stdout", logger.Config().Output)
	})

	t.Run("file logger creates directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "lanprobe.log")
		logger, err := New(Config{Level: LevelDebug, Format: FormatJSON, Output: path})
		require.NoError(t, err)

		logger.Info("probe finished", "target", "10.0.0.1")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "probe finished")

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(logFilePerm), info.Mode().Perm())
	})

	t.Run("invalid directory for file logger", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

		_, err := New(Config{Output: filepath.Join(file, "sub", "log.txt")})
		assert.Error(t, err)
	})
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     LogLevel
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"debug", LevelDebug, true, true, true},
		{"info", LevelInfo, false, true, true},
		{"warn", LevelWarn, false, false, true},
		{"error", LevelError, false, false, false},
		{"unknown defaults to info", LogLevel("loud"), false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(Config{Level: tt.level}, &buf)

			logger.Debug("debug-line")
			logger.Info("info-line")
			logger.Warn("warn-line")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, strings.Contains(out, "debug-line"))
			assert.Equal(t, tt.wantInfo, strings.Contains(out, "info-line"))
			assert.Equal(t, tt.wantWarn, strings.Contains(out, "warn-line"))
		})
	}
}

func TestSetLevelReachesDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelInfo}, &buf)
	derived := logger.WithComponent("daemon")

	derived.Debug("hidden")
	assert.Equal(t, LevelInfo, logger.Level())

	logger.SetLevel(LevelDebug)
	derived.Debug("shown")
	assert.Equal(t, LevelDebug, derived.Level())

	logger.SetLevel(LevelError)
	derived.Warn("muted")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.NotContains(t, out, "muted")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)

	logger.WithComponent("workers").WithRunID("run-1").InfoProbe("probe done", "10.0.0.7:22", "status", "open")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "probe done", entry["msg"])
	assert.Equal(t, "workers", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "10.0.0.7:22", entry["target"])
	assert.Equal(t, "open", entry["status"])
}

func TestSpecializedLoggingMethods(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelDebug}, &buf)
	boom := errors.New("boom")

	t.Run("ErrorProbe", func(t *testing.T) {
		buf.Reset()
		logger.ErrorProbe("probe failed", "10.0.0.1", boom)
		assert.Contains(t, buf.String(), "target=10.0.0.1")
		assert.Contains(t, buf.String(), "error=boom")
	})

	t.Run("InfoDiscovery", func(t *testing.T) {
		buf.Reset()
		logger.InfoDiscovery("sweep started", "192.168.1", "hosts", 254)
		assert.Contains(t, buf.String(), "network=192.168.1")
		assert.Contains(t, buf.String(), "hosts=254")
	})

	t.Run("ErrorDiscovery", func(t *testing.T) {
		buf.Reset()
		logger.ErrorDiscovery("sweep failed", "10.1.2", boom)
		assert.Contains(t, buf.String(), "network=10.1.2")
	})

	t.Run("WithTarget and WithError", func(t *testing.T) {
		buf.Reset()
		logger.WithTarget("example.com").WithError(boom).Warn("lookup failed")
		assert.Contains(t, buf.String(), "target=example.com")
		assert.Contains(t, buf.String(), "error=boom")
	})
}

func TestSetAndGetDefault(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewWithWriter(Config{Level: LevelDebug}, &buf))

	Debug("global debug")
	Info("global info")
	Warn("global warn")
	Error("global error")
	InfoProbe("global probe", "h")
	ErrorProbe("global probe error", "h", errors.New("x"))
	InfoDiscovery("global discovery", "n")
	ErrorDiscovery("global discovery error", "n", errors.New("y"))

	out := buf.String()
	for _, msg := range []string{"global debug", "global info", "global warn", "global error",
		"global probe", "global discovery"} {
		assert.Contains(t, out, msg)
	}
}

func TestConcurrentLogging(t *testing.T) {
	var buf safeBuffer
	logger := NewWithWriter(Config{Level: LevelInfo}, &buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Info("concurrent", "n", i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(buf.String(), "concurrent"))
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
