package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel string
		wantLines int
	}{
		{name: "debug keeps everything", level: "debug", wantLevel: "DEBUG", wantLines: 4},
		{name: "info drops debug", level: "info", wantLevel: "INFO", wantLines: 3},
		{name: "warn drops info", level: "warn", wantLevel: "WARN", wantLines: 2},
		{name: "error keeps only errors", level: "error", wantLevel: "ERROR", wantLines: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			l, err := New(&Config{Level: tt.level, Format: "json", writer: output})
			require.NoError(t, err)

			l.Debug("claim attempt", slog.String("worker_name", "w-0"))
			l.Info("job claimed", slog.Int64("job_id", 7))
			l.Warn("completion dropped", slog.Int64("job_id", 7))
			l.Error("store unreachable", slog.String("error", "dial tcp"))

			entries := decodeLines(t, output)
			require.Len(t, entries, tt.wantLines)
			assert.Equal(t, tt.wantLevel, entries[0]["level"])
			assert.Contains(t, entries[0], "time")
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	output := &bytes.Buffer{}
	l, err := New(&Config{Level: "info", Format: "console", TimeFormat: time.RFC3339, writer: output})
	require.NoError(t, err)

	l.Info("worker pool spawned")

	// tint abbreviates levels
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "worker pool spawned")
}

func TestNew_SourceLocation(t *testing.T) {
	output := &bytes.Buffer{}
	l, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: output})
	require.NoError(t, err)

	l.Info("message with source")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, source, "function")
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	l.Info("written to file", slog.String("queue", "lineage"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"queue":"lineage"`)
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestNewDefaultAndNop(t *testing.T) {
	require.NotNil(t, NewDefault().Logger)

	nop := NewNop()
	require.NotNil(t, nop.Logger)
	assert.NoError(t, nop.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelInfo}, // case-sensitive
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_Derived(t *testing.T) {
	output := &bytes.Buffer{}
	l, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	l.WithGroup("job").Info("claimed", slog.Int64("id", 3))
	l.WithAttrs(slog.String("worker_id", "host-1")).Info("started")
	l.With("run_id", "scan-x").Info("executing")

	entries := decodeLines(t, output)
	require.Len(t, entries, 3)

	group := entries[0]["job"].(map[string]interface{})
	assert.Equal(t, float64(3), group["id"])
	assert.Equal(t, "host-1", entries[1]["worker_id"])
	assert.Equal(t, "scan-x", entries[2]["run_id"])
}
