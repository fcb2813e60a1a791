package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(Options{Service: "gw", Env: "test", Level: "loud"})
	require.Error(t, err)
}

func TestNewLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Options{Service: "gw", Env: "test", Output: zapcore.AddSync(&buf)})
	require.NoError(t, err)

	logger.Debug("hidden")
	System(logger).Info("http_server_start")
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "http_server_start", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "gw", entry["service"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "system", entry["trace_id"])
	assert.Contains(t, entry, "ts")
}

func TestNewLoggerTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gateway.log")

	var stdout bytes.Buffer
	logger, err := NewLogger(Options{Service: "gw", Level: "debug", File: path, Output: zapcore.AddSync(&stdout)})
	require.NoError(t, err)
	logger.Debug("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, stdout.String(), `"msg":"hello"`)
}
