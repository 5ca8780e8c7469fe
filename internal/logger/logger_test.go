package logger

import (
	"bytes"
	"context"
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

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestSlogLoggerLevelsAndFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC).Module("capture")

	log.Debug("hidden")
	log.Info("recording saved",
		String("file", "ridenote_20260101_120000_deadbeef.wav"),
		Float64("lat", 60.1698571),
		Duration("elapsed", 1500*time.Millisecond),
		Error(nil))
	log.Log(LogLevelWarn, "low disk", Uint64("free_bytes", 1024))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "recording saved", entries[0]["msg"])
	assert.Equal(t, "capture", entries[0]["module"])
	assert.InDelta(t, 60.17, entries[0]["lat"], 0.0001)
	assert.Equal(t, "1.5s", entries[0]["elapsed"])
	assert.Equal(t, "WARN", entries[1]["level"])
}

func TestModuleNestingAndWith(t *testing.T) {
	buf := &bytes.Buffer{}
	base := NewSlogLogger(buf, LogLevelTrace, time.UTC)

	child := base.Module("batch").With(String("stage", "transcribe")).Module("item")
	child.Trace("processing")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "batch.item", entries[0]["module"])
	assert.Equal(t, "transcribe", entries[0]["stage"])
	assert.Equal(t, "TRACE", entries[0]["level"])
}

func TestWithContextAddsTraceID(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC)

	ctx := WithTraceID(context.Background(), "run-42")
	log.WithContext(ctx).Info("stage started")
	log.WithContext(context.Background()).Info("no trace")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-42", entries[0]["trace_id"])
	assert.NotContains(t, entries[1], "trace_id")
	assert.Equal(t, "run-42", TraceIDFromContext(ctx))
}

func TestCentralLoggerRoutesModuleFiles(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.log")
	batchPath := filepath.Join(dir, "batch.log")

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: mainPath, Level: "debug"},
		ModuleOutputs: map[string]ModuleOutput{
			"batch": {Enabled: true, FilePath: batchPath, Level: "info"},
		},
	})
	require.NoError(t, err)

	cl.Module("capture").Info("to main")
	cl.Module("batch").Info("to batch")
	cl.Module("batch").Debug("filtered")

	require.NoError(t, cl.Close())

	mainLog, err := os.ReadFile(mainPath)
	require.NoError(t, err)
	batchLog, err := os.ReadFile(batchPath)
	require.NoError(t, err)

	assert.Contains(t, string(mainLog), "to main")
	assert.NotContains(t, string(mainLog), "to batch")
	assert.Contains(t, string(batchLog), "to batch")
	assert.NotContains(t, string(batchLog), "filtered")
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := &LoggingConfig{}
	applyConfigDefaults(cfg)

	assert.Equal(t, DefaultLogLevel, cfg.DefaultLevel)
	require.NotNil(t, cfg.Console)
	assert.True(t, cfg.Console.Enabled)
	require.NotNil(t, cfg.FileOutput)
	assert.Equal(t, DefaultLogPath, cfg.FileOutput.Path)
	assert.Equal(t, DefaultBatchLogPath, cfg.ModuleOutputs["batch"].FilePath)
}

func TestRedactSensitiveData(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "recording saved", "recording saved"},
		{"bearer", "Authorization: Bearer abc.def-ghi", "Authorization: Bearer [REDACTED]"},
		{"env token", "RIDENOTE_OSM_TOKEN=s3cr3t", "RIDENOTE_OSM_TOKEN=[REDACTED]"},
		{"query", "url?access_token=xyz&lat=1", "url?access_token=[REDACTED]&lat=1"},
		{"password", "password: hunter22", "password: [REDACTED]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactSensitiveData(tt.input))
		})
	}
}

func TestRedactSensitiveFields(t *testing.T) {
	in := []Field{String("osm_token", "abc"), String("msg", "Bearer xyz"), Int("count", 3)}
	out := RedactSensitiveFields(in)

	assert.Equal(t, "[REDACTED]", out[0].Value)
	assert.Equal(t, "Bearer [REDACTED]", out[1].Value)
	assert.Equal(t, 3, out[2].Value)
	assert.Equal(t, "abc", in[0].Value)
}

func TestTeeAsksEachHandlerForItsLevel(t *testing.T) {
	var verbose, quiet bytes.Buffer
	log := slog.New(tee(
		newJSONHandler(&verbose, slog.LevelDebug, time.UTC),
		newJSONHandler(&quiet, slog.LevelWarn, time.UTC),
	))

	log.Info("gps fix acquired")
	log.Warn("gpsd unreachable")

	assert.Len(t, decodeLines(t, &verbose), 2)
	lines := decodeLines(t, &quiet)
	require.Len(t, lines, 1)
	assert.Equal(t, "gpsd unreachable", lines[0]["msg"])
}

func TestLogFileFlushesWarningsImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ridenote.log")
	lf, err := openLogFile(path)
	require.NoError(t, err)

	log := slog.New(fileHandler(lf, slog.LevelDebug, time.UTC))
	log.Info("recording saved")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data, "info lines stay buffered")

	log.Warn("upload failed")
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "recording saved")
	assert.Contains(t, string(data), "upload failed")

	require.NoError(t, lf.Close())
	require.NoError(t, lf.Close())
	_, err = lf.Write([]byte("late\n"))
	require.Error(t, err)
}
