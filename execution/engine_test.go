package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/policy"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// adapterFunc is a scripted test adapter.
type adapterFunc struct {
	name    string
	version string
	fn      func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error)
}

func (a *adapterFunc) Name() string {
	if a.name == "" {
		return "test-agent"
	}
	return a.name
}

func (a *adapterFunc) Version() string {
	if a.version == "" {
		return "1.0"
	}
	return a.version
}

func (a *adapterFunc) Invoke(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
	return a.fn(ctx, step)
}

// echoAdapter completes on the first step, echoing the task.
func echoAdapter() *adapterFunc {
	return &adapterFunc{
		name: "echo-agent",
		fn: func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
			return &oao.StepResult{Output: step.Task, Tokens: 10, Done: true}, nil
		},
	}
}

func fastRetryPolicy() policy.Config {
	return policy.Config{
		Retry: policy.RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 2.0},
	}
}

func newTestEngine(t *testing.T, adapter oao.AgentAdapter, cfg policy.Config, tools *oao.ToolRegistry) (*Engine, *event.MemoryLog, *MemorySnapshotStore) {
	t.Helper()
	log := event.NewMemoryLog()
	snapshots := NewMemorySnapshotStore()
	snapshot, err := NewSnapshot("echo", cfg, adapter, tools)
	require.NoError(t, err)
	eng, err := New(Options{
		Snapshot:  snapshot,
		Adapter:   adapter,
		Tools:     tools,
		Log:       log,
		Snapshots: snapshots,
	})
	require.NoError(t, err)
	return eng, log, snapshots
}

func eventTypes(events []*event.Event) []event.Type {
	out := make([]event.Type, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestEngineHappyPath(t *testing.T) {
	eng, log, _ := newTestEngine(t, echoAdapter(), fastRetryPolicy(), nil)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusSuccess, report.Status)
	require.Equal(t, 1, report.TotalSteps)
	require.Equal(t, 10, report.TokenUsage)
	require.Equal(t, "echo", report.FinalOutput)
	require.Equal(t, "echo-agent", report.AgentName)
	require.Nil(t, report.Failure)

	events, err := log.Read(context.Background(), report.ExecutionID, 0)
	require.NoError(t, err)
	require.Equal(t, []event.Type{
		event.TypeExecutionStarted,
		event.TypeStateEnter,
		event.TypeStepStarted,
		event.TypeStepCompleted,
		event.TypeStateEnter,
		event.TypeExecutionCompleted,
	}, eventTypes(events))
	require.NoError(t, event.Verify(events))
	require.Equal(t, "PLAN", events[1].Payload["state"])
	require.Equal(t, "TERMINATE", events[4].Payload["state"])
	require.Equal(t, 0, events[2].Step())
}

func TestEngineMultiStepLoop(t *testing.T) {
	adapter := &adapterFunc{
		fn: func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
			return &oao.StepResult{
				Output: fmt.Sprintf("step-%d", step.Step),
				Tokens: 5,
				Done:   step.Step == 2,
			}, nil
		},
	}
	eng, log, _ := newTestEngine(t, adapter, fastRetryPolicy(), nil)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusSuccess, report.Status)
	require.Equal(t, 3, report.TotalSteps)
	require.Equal(t, 15, report.TokenUsage)
	require.Equal(t, "step-2", report.FinalOutput)

	events, err := log.Read(context.Background(), report.ExecutionID, 0)
	require.NoError(t, err)
	require.NoError(t, event.Verify(events))

	// The report's lifecycle history walks the full loop.
	require.Equal(t, []string{
		"INIT",
		"PLAN", "EXECUTE", "REVIEW",
		"PLAN", "EXECUTE", "REVIEW",
		"PLAN", "EXECUTE", "REVIEW",
		"TERMINATE",
	}, report.StateHistory)
}

func TestEngineAdapterSeesHistory(t *testing.T) {
	var sawHistory []string
	adapter := &adapterFunc{
		fn: func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
			if step.Step == 1 {
				sawHistory = append([]string(nil), step.History...)
			}
			return &oao.StepResult{Output: fmt.Sprintf("o%d", step.Step), Tokens: 1, Done: step.Step == 1}, nil
		},
	}
	eng, _, _ := newTestEngine(t, adapter, fastRetryPolicy(), nil)

	_, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"o0"}, sawHistory)
}

func TestEngineTokenHardStop(t *testing.T) {
	// max_tokens=50 with 30 tokens per step: step 0 runs (cum 30), step 1
	// runs because the observed cumulative is still within budget (30 <= 50,
	// cum becomes 60), and the pre-check of step 2 fires.
	cfg := fastRetryPolicy()
	cfg.MaxTokens = 50
	adapter := &adapterFunc{
		fn: func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
			return &oao.StepResult{Output: "more", Tokens: 30, Done: false}, nil
		},
	}
	eng, log, _ := newTestEngine(t, adapter, cfg, nil)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusFailed, report.Status)
	require.Equal(t, 2, report.TotalSteps)
	require.Equal(t, 60, report.TokenUsage)
	require.NotNil(t, report.Failure)
	require.Equal(t, oao.FailureMaxTokens, report.Failure.Kind)

	events, err := log.Read(context.Background(), report.ExecutionID, 0)
	require.NoError(t, err)
	types := eventTypes(events)
	require.Equal(t, event.TypePolicyViolation, types[len(types)-2])
	require.Equal(t, event.TypeExecutionFailed, types[len(types)-1])

	// Policy hard-stop: no step may start after the violation.
	violationSeq := events[len(events)-2].Sequence
	for _, ev := range events {
		if ev.Type == event.TypeStepStarted {
			require.Less(t, ev.Sequence, violationSeq)
		}
	}
}

func TestEngineStepHardStop(t *testing.T) {
	cfg := fastRetryPolicy()
	cfg.MaxSteps = 2
	adapter := &adapterFunc{
		fn: func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
			return &oao.StepResult{Output: "never done", Tokens: 1, Done: false}, nil
		},
	}
	eng, _, _ := newTestEngine(t, adapter, cfg, nil)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusFailed, report.Status)
	require.Equal(t, 2, report.TotalSteps)
	require.Equal(t, oao.FailureMaxSteps, report.Failure.Kind)
}

func TestEngineRetriesTransientAdapterErrors(t *testing.T) {
	attempts := 0
	adapter := &adapterFunc{
		fn: func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
			attempts++
			if attempts < 3 {
				return nil, &oao.AdapterError{Retryable: true, Err: errors.New("rate limited")}
			}
			return &oao.StepResult{Output: "ok", Tokens: 1, Done: true}, nil
		},
	}
	eng, log, _ := newTestEngine(t, adapter, fastRetryPolicy(), nil)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusSuccess, report.Status)
	require.Equal(t, 3, attempts)

	events, err := log.Read(context.Background(), report.ExecutionID, 0)
	require.NoError(t, err)
	retries := 0
	for _, ev := range events {
		if ev.Type == event.TypeRetryAttempted {
			retries++
		}
	}
	require.Equal(t, 2, retries)
}

func TestEngineFatalAdapterError(t *testing.T) {
	adapter := &adapterFunc{
		fn: func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
			return nil, &oao.AdapterError{Retryable: false, Err: errors.New("broken config")}
		},
	}
	eng, log, _ := newTestEngine(t, adapter, fastRetryPolicy(), nil)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusFailed, report.Status)
	require.Equal(t, oao.FailureAdapterError, report.Failure.Kind)

	events, err := log.Read(context.Background(), report.ExecutionID, 0)
	require.NoError(t, err)
	require.Equal(t, event.TypeExecutionFailed, events[len(events)-1].Type)
}

func TestEngineRetriesExhaustThenFail(t *testing.T) {
	attempts := 0
	adapter := &adapterFunc{
		fn: func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
			attempts++
			return nil, &oao.AdapterError{Retryable: true, Err: errors.New("still flaky")}
		},
	}
	eng, _, _ := newTestEngine(t, adapter, fastRetryPolicy(), nil)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusFailed, report.Status)
	require.Equal(t, 4, attempts) // initial + 3 retries
}

func TestEngineCancellation(t *testing.T) {
	adapter := &adapterFunc{
		fn: func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
			return &oao.StepResult{Output: "x", Tokens: 1, Done: false}, nil
		},
	}
	eng, log, _ := newTestEngine(t, adapter, fastRetryPolicy(), nil)
	eng.Cancel()

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusFailed, report.Status)
	require.Equal(t, oao.FailureCancelled, report.Failure.Kind)

	events, err := log.Read(context.Background(), report.ExecutionID, 0)
	require.NoError(t, err)
	require.Equal(t, []event.Type{
		event.TypeExecutionStarted,
		event.TypeExecutionFailed,
	}, eventTypes(events))
}

func TestEngineExecutionTimeout(t *testing.T) {
	cfg := fastRetryPolicy()
	cfg.ExecutionTimeout = 20 * time.Millisecond
	adapter := &adapterFunc{
		fn: func(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return &oao.StepResult{Output: "late", Tokens: 1, Done: true}, nil
			}
		},
	}
	eng, _, _ := newTestEngine(t, adapter, cfg, nil)

	report, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusFailed, report.Status)
	require.Equal(t, oao.FailureTimedOut, report.Failure.Kind)
}

func TestEngineSnapshotConflict(t *testing.T) {
	adapter := echoAdapter()
	log := event.NewMemoryLog()
	snapshots := NewMemorySnapshotStore()

	snapshot, err := NewSnapshot("echo", policy.Config{}, adapter, nil)
	require.NoError(t, err)

	// A snapshot for the same id with a different hash is already stored.
	conflicting := *snapshot
	conflicting.ExecutionHash = "something-else"
	require.NoError(t, snapshots.Put(context.Background(), &conflicting))

	eng, err := New(Options{Snapshot: snapshot, Adapter: adapter, Log: log, Snapshots: snapshots})
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	require.ErrorIs(t, err, ErrSnapshotConflict)

	// The write-ahead rule held: nothing was appended.
	events, err := log.Read(context.Background(), snapshot.ExecutionID, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}
