package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/yashsham/open-agent-orchestrator/config"
	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/execution"
	"github.com/yashsham/open-agent-orchestrator/slogger"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// runtimeStores holds the backend-selected persistence for a command.
type runtimeStores struct {
	log       event.Log
	snapshots execution.SnapshotStore
	client    redis.UniversalClient
}

func (s *runtimeStores) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func openStores(cfg *config.Config) (*runtimeStores, error) {
	stores := &runtimeStores{}

	needsRedis := cfg.EventStoreBackend == config.BackendRedis || cfg.PersistenceBackend == config.BackendRedis
	if needsRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis_url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisURL, err)
		}
		stores.client = client
	}

	switch cfg.EventStoreBackend {
	case config.BackendRedis:
		stores.log = event.NewRedisLog(stores.client)
	default:
		stores.log = event.NewMemoryLog()
	}
	switch cfg.PersistenceBackend {
	case config.BackendRedis:
		stores.snapshots = execution.NewRedisSnapshotStore(stores.client)
	default:
		stores.snapshots = execution.NewMemorySnapshotStore()
	}
	return stores, nil
}

func newLogger(cfg *config.Config) slogger.Logger {
	level := slogger.LevelFromString(cfg.Log.Level)
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slogger.NewJSON(osStderr, level)
	}
	return slogger.New(level)
}

// echoAgent is the built-in adapter used by `oao run` and as the worker's
// default agent. It completes in one step, echoing the task back, which is
// enough to exercise the full lifecycle, the log, and the stream.
type echoAgent struct{}

func (a *echoAgent) Name() string    { return "echo-agent" }
func (a *echoAgent) Version() string { return "1.0" }

func (a *echoAgent) Invoke(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
	return &oao.StepResult{
		Output: step.Task,
		Tokens: len(strings.Fields(step.Task)),
		Done:   true,
	}, nil
}
