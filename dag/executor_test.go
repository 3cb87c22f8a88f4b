package dag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/execution"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// recordingAdapter tracks invocation order and can be scripted to fail.
type recordingAdapter struct {
	name string
	fail bool

	mu      sync.Mutex
	order   *[]string
	orderMu *sync.Mutex

	invocations atomic.Int64
	sawDeps     map[string]string
}

func (a *recordingAdapter) Name() string    { return a.name }
func (a *recordingAdapter) Version() string { return "1.0" }

func (a *recordingAdapter) Invoke(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
	a.invocations.Add(1)
	if a.orderMu != nil {
		a.orderMu.Lock()
		*a.order = append(*a.order, a.name)
		a.orderMu.Unlock()
	}
	a.mu.Lock()
	a.sawDeps = step.DependencyOutputs
	a.mu.Unlock()
	if a.fail {
		return nil, &oao.AdapterError{Retryable: false, Err: errors.New(a.name + " exploded")}
	}
	return &oao.StepResult{Output: "out-" + a.name, Tokens: 1, Done: true}, nil
}

func testExecutorOptions(graphID string) ExecutorOptions {
	return ExecutorOptions{
		GraphID:   graphID,
		Log:       event.NewMemoryLog(),
		Snapshots: execution.NewMemorySnapshotStore(),
	}
}

func diamondGraph(t *testing.T, adapters map[string]*recordingAdapter) *TaskGraph {
	t.Helper()
	graph := NewTaskGraph()
	deps := map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}
	for id, dd := range deps {
		require.NoError(t, graph.Add(&TaskNode{
			ID:           id,
			Adapter:      adapters[id],
			Task:         "task-" + id,
			Dependencies: dd,
		}))
	}
	return graph
}

func TestExecutorDiamondFanOut(t *testing.T) {
	var order []string
	var orderMu sync.Mutex
	adapters := map[string]*recordingAdapter{}
	for _, id := range []string{"a", "b", "c", "d"} {
		adapters[id] = &recordingAdapter{name: id, order: &order, orderMu: &orderMu}
	}

	executor, err := NewExecutor(diamondGraph(t, adapters), testExecutorOptions("graph-1"))
	require.NoError(t, err)

	report, err := executor.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusSuccess, report.Status)
	require.Len(t, report.Reports, 4)
	for id := range adapters {
		require.Equal(t, NodeCompleted, report.Nodes[id])
	}

	// Ordering: a strictly first, d strictly last.
	require.Equal(t, "a", order[0])
	require.Equal(t, "d", order[3])

	// d saw both dependency outputs as context.
	require.Equal(t, map[string]string{"b": "out-b", "c": "out-c"}, adapters["d"].sawDeps)
}

func TestExecutorFailFast(t *testing.T) {
	adapters := map[string]*recordingAdapter{
		"a": {name: "a"},
		"b": {name: "b", fail: true},
		"c": {name: "c"},
		"d": {name: "d"},
	}

	executor, err := NewExecutor(diamondGraph(t, adapters), testExecutorOptions("graph-2"))
	require.NoError(t, err)

	report, err := executor.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusFailed, report.Status)
	require.Equal(t, "b", report.FailedNode)
	require.NotNil(t, report.Failure)
	require.Contains(t, report.Failure.Detail, "b exploded")

	// D was never scheduled; C ran to completion in b's level.
	require.Equal(t, NodeSkipped, report.Nodes["d"])
	require.Zero(t, adapters["d"].invocations.Load())
	require.Equal(t, NodeCompleted, report.Nodes["c"])
	require.Equal(t, int64(1), adapters["c"].invocations.Load())
}

func TestExecutorIsolateBranches(t *testing.T) {
	// e -> f is an independent branch next to the failing diamond arm.
	adapters := map[string]*recordingAdapter{
		"a": {name: "a"},
		"b": {name: "b", fail: true},
		"d": {name: "d"},
		"e": {name: "e"},
		"f": {name: "f"},
	}
	graph := NewTaskGraph()
	deps := map[string][]string{
		"a": nil,
		"b": {"a"},
		"d": {"b"},
		"e": nil,
		"f": {"e"},
	}
	for id, dd := range deps {
		require.NoError(t, graph.Add(&TaskNode{
			ID:           id,
			Adapter:      adapters[id],
			Task:         "task-" + id,
			Dependencies: dd,
		}))
	}

	opts := testExecutorOptions("graph-3")
	opts.OnFailure = IsolateBranches
	executor, err := NewExecutor(graph, opts)
	require.NoError(t, err)

	report, err := executor.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusFailed, report.Status)

	// The independent branch completed despite b's failure.
	require.Equal(t, NodeCompleted, report.Nodes["f"])
	// Downstream of the failure is skipped.
	require.Equal(t, NodeSkipped, report.Nodes["d"])
	require.Zero(t, adapters["d"].invocations.Load())
}

func TestExecutorResumeSkipsCompletedNodes(t *testing.T) {
	adapters := map[string]*recordingAdapter{}
	for _, id := range []string{"a", "b", "c", "d"} {
		adapters[id] = &recordingAdapter{name: id}
	}
	opts := testExecutorOptions("graph-4")

	executor, err := NewExecutor(diamondGraph(t, adapters), opts)
	require.NoError(t, err)
	first, err := executor.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusSuccess, first.Status)
	for _, a := range adapters {
		require.Equal(t, int64(1), a.invocations.Load())
	}

	// Re-run with the same graph id against the same log: every node's
	// terminal completion is already recorded, so no adapter runs again.
	executor, err = NewExecutor(diamondGraph(t, adapters), opts)
	require.NoError(t, err)
	second, err := executor.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusSuccess, second.Status)
	for id, a := range adapters {
		require.Equal(t, int64(1), a.invocations.Load(), "node %s re-executed on resume", id)
	}
	require.Equal(t, "out-d", second.Reports["d"].FinalOutput)
}

func TestExecutorMaxConcurrency(t *testing.T) {
	var running, peak atomic.Int64
	graph := NewTaskGraph()
	for _, id := range []string{"w1", "w2", "w3", "w4", "w5", "w6"} {
		id := id
		require.NoError(t, graph.Add(&TaskNode{
			ID:   id,
			Task: "task",
			Adapter: &gaugeAdapter{
				name:    id,
				running: &running,
				peak:    &peak,
			},
		}))
	}

	opts := testExecutorOptions("graph-5")
	opts.MaxConcurrency = 2
	executor, err := NewExecutor(graph, opts)
	require.NoError(t, err)

	report, err := executor.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, oao.StatusSuccess, report.Status)
	require.LessOrEqual(t, peak.Load(), int64(2))
}

type gaugeAdapter struct {
	name    string
	running *atomic.Int64
	peak    *atomic.Int64
}

func (a *gaugeAdapter) Name() string    { return a.name }
func (a *gaugeAdapter) Version() string { return "1.0" }

func (a *gaugeAdapter) Invoke(ctx context.Context, step *oao.StepContext) (*oao.StepResult, error) {
	n := a.running.Add(1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	a.running.Add(-1)
	return &oao.StepResult{Output: "ok", Tokens: 1, Done: true}, nil
}

func TestRunParallel(t *testing.T) {
	agents := map[string]oao.AgentAdapter{
		"alpha": &stubAdapter{name: "alpha"},
		"beta":  &stubAdapter{name: "beta"},
	}

	report, err := RunParallel(context.Background(), agents, "shared task", testExecutorOptions("graph-6"))
	require.NoError(t, err)
	require.Equal(t, oao.StatusSuccess, report.Status)
	require.Len(t, report.Reports, 2)
	require.True(t, strings.HasPrefix(report.Reports["alpha"].ExecutionID, "graph-6-"))
}
