package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/execution"
	"github.com/yashsham/open-agent-orchestrator/policy"
	oao "github.com/yashsham/open-agent-orchestrator"
)

type blockingAdapter struct {
	mu       sync.Mutex
	started  chan struct{}
	proceed  chan struct{}
	finished bool
}

func (a *blockingAdapter) Name() string    { return "blocking-agent" }
func (a *blockingAdapter) Version() string { return "1.0" }

func (a *blockingAdapter) Invoke(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
	select {
	case a.started <- struct{}{}:
	default:
	}
	<-a.proceed
	a.mu.Lock()
	a.finished = true
	a.mu.Unlock()
	return &oao.StepResult{Output: "step", Tokens: 1, Done: false}, nil
}

type oneShotAdapter struct{}

func (a *oneShotAdapter) Name() string    { return "one-shot" }
func (a *oneShotAdapter) Version() string { return "1.0" }
func (a *oneShotAdapter) Invoke(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
	return &oao.StepResult{Output: "done: " + step.Task, Tokens: 4, Done: true}, nil
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	orch, err := New(Options{
		Log:       event.NewMemoryLog(),
		Snapshots: execution.NewMemorySnapshotStore(),
	})
	require.NoError(t, err)
	return orch
}

func TestOrchestratorRun(t *testing.T) {
	orch := newTestOrchestrator(t)

	report, err := orch.Run(context.Background(), &oneShotAdapter{}, "summarize", policy.Config{MaxSteps: 5})
	require.NoError(t, err)
	require.Equal(t, oao.StatusSuccess, report.Status)
	require.Equal(t, "done: summarize", report.FinalOutput)
}

func TestOrchestratorRunAsync(t *testing.T) {
	orch := newTestOrchestrator(t)

	executionID, reports, err := orch.RunAsync(context.Background(), &oneShotAdapter{}, "task", policy.Config{})
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	select {
	case report := <-reports:
		require.NotNil(t, report)
		require.Equal(t, executionID, report.ExecutionID)
		require.Equal(t, oao.StatusSuccess, report.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for async report")
	}
}

func TestOrchestratorCancelRunningExecution(t *testing.T) {
	orch := newTestOrchestrator(t)
	adapter := &blockingAdapter{
		started: make(chan struct{}, 1),
		proceed: make(chan struct{}),
	}

	executionID, reports, err := orch.RunAsync(context.Background(), adapter, "long task", policy.Config{})
	require.NoError(t, err)

	// Wait until the adapter is mid-step, cancel, then let the step finish.
	<-adapter.started
	require.NoError(t, orch.Cancel(executionID))
	close(adapter.proceed)

	select {
	case report := <-reports:
		require.Equal(t, oao.StatusFailed, report.Status)
		require.Equal(t, oao.FailureCancelled, report.Failure.Kind)
		// The in-flight step completed before cancellation took effect.
		adapter.mu.Lock()
		require.True(t, adapter.finished)
		adapter.mu.Unlock()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cancelled report")
	}
}

func TestOrchestratorCancelUnknownExecution(t *testing.T) {
	orch := newTestOrchestrator(t)
	require.Error(t, orch.Cancel("exec-ghost"))
}

func TestOrchestratorReplay(t *testing.T) {
	orch := newTestOrchestrator(t)

	report, err := orch.Run(context.Background(), &oneShotAdapter{}, "replay me", policy.Config{})
	require.NoError(t, err)

	replayed, err := orch.Replay(context.Background(), report.ExecutionID, false, nil)
	require.NoError(t, err)
	require.Equal(t, report.Status, replayed.Status)
	require.Equal(t, report.FinalOutput, replayed.FinalOutput)
}
