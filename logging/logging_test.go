package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"juryflow/config"
)

func TestBuild_WritesJSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build(config.LogConfig{Level: "warn"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", zap.Uint64("dispute_id", 4))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "juryflow", entry["service"])
	assert.EqualValues(t, 4, entry["dispute_id"])
	assert.Contains(t, entry, "ts")
}

func TestBuild_RejectsUnknownLevel(t *testing.T) {
	_, err := build(config.LogConfig{Level: "loud"}, zapcore.AddSync(&bytes.Buffer{}))
	require.Error(t, err)
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "juryflow.log")
	logger, err := New(config.LogConfig{Level: "info", Path: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("jury pool created")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "jury pool created")
}
