package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/slogger"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, BackendMemory, cfg.PersistenceBackend)
	require.Equal(t, BackendMemory, cfg.EventStoreBackend)
	require.Equal(t, 30*time.Second, cfg.WorkerTimeout)
	require.Equal(t, 7*24*time.Hour, cfg.EventRetention)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oao.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policy:
  max_steps: 20
  max_tokens: 8000
persistence_backend: redis
event_store_backend: redis
redis_url: redis://redis.internal:6379/2
worker_timeout: 45s
max_concurrency: 8
log:
  level: debug
  format: json
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 20, cfg.Policy.MaxSteps)
	require.Equal(t, 8000, cfg.Policy.MaxTokens)
	require.Equal(t, BackendRedis, cfg.PersistenceBackend)
	require.Equal(t, "redis://redis.internal:6379/2", cfg.RedisURL)
	require.Equal(t, 45*time.Second, cfg.WorkerTimeout)
	require.Equal(t, 8, cfg.MaxConcurrency)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OAO_REDIS_URL", "redis://override:6379/0")
	t.Setenv("OAO_LOG_LEVEL", "warn")
	t.Setenv("OAO_WORKER_TIMEOUT_SECONDS", "90")
	t.Setenv("OAO_MAX_CONCURRENCY", "12")

	cfg := Default()
	cfg.ApplyEnv()
	require.Equal(t, "redis://override:6379/0", cfg.RedisURL)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, 90*time.Second, cfg.WorkerTimeout)
	require.Equal(t, 12, cfg.MaxConcurrency)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.PersistenceBackend = "cassandra"
	require.ErrorContains(t, cfg.Validate(), "persistence_backend")
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oao.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrency: 2\n"), 0644))

	reloaded := make(chan *Config, 1)
	watcher, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, slogger.NewDevNullLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Watch(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("max_concurrency: 7\n"), 0644))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 7, cfg.MaxConcurrency)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
