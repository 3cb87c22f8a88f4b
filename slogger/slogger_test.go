package slogger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	require.Equal(t, LevelDebug, LevelFromString("debug"))
	require.Equal(t, LevelInfo, LevelFromString("info"))
	require.Equal(t, LevelWarn, LevelFromString("WARN"))
	require.Equal(t, LevelError, LevelFromString("error"))
	require.Equal(t, DefaultLogLevel, LevelFromString("bogus"))
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, LevelInfo)
	logger.Info("execution started", "execution_id", "exec-123")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "execution started", entry["msg"])
	require.Equal(t, "exec-123", entry["execution_id"])
}

func TestNewJSONLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, LevelWarn)
	logger.Info("should be filtered")
	require.Zero(t, buf.Len())

	logger.Warn("should appear")
	require.NotZero(t, buf.Len())
}

func TestContextPlumbing(t *testing.T) {
	logger := NewDevNullLogger()
	ctx := WithLogger(context.Background(), logger)
	require.Equal(t, Logger(logger), Ctx(ctx))
}

func TestWithReturnsChild(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, LevelInfo)
	child := logger.With("worker_id", "worker-1")
	child.Info("claimed job")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "worker-1", entry["worker_id"])
}
