package dag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/execution"
	"github.com/yashsham/open-agent-orchestrator/policy"
	"github.com/yashsham/open-agent-orchestrator/slogger"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// FailurePolicy decides what happens to the rest of the graph when one node
// fails.
type FailurePolicy string

const (
	// FailFast cancels everything not yet scheduled. In-flight nodes are
	// allowed to finish so their logs stay consistent.
	FailFast FailurePolicy = "fail_fast"

	// IsolateBranches keeps running branches that do not depend on the
	// failed node; only its downstream nodes are skipped.
	IsolateBranches FailurePolicy = "isolate_branches"
)

// ExecutorOptions configures a graph executor.
type ExecutorOptions struct {
	// GraphID prefixes each node's execution id, which is what makes a
	// graph resumable: re-running with the same GraphID skips nodes whose
	// terminal completion is already in the log.
	GraphID string

	Policy    policy.Config
	Tools     *oao.ToolRegistry
	Log       event.Log
	Snapshots execution.SnapshotStore

	// MaxConcurrency bounds how many nodes run at once. Defaults to 3.
	MaxConcurrency int

	// OnFailure defaults to FailFast.
	OnFailure FailurePolicy

	Bus     *event.Bus
	Logger  slogger.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	Clock   func() time.Time
}

// NodeStatus is the outcome of one node within a graph run.
type NodeStatus string

const (
	NodeCompleted NodeStatus = "COMPLETED"
	NodeFailed    NodeStatus = "FAILED"
	NodeSkipped   NodeStatus = "SKIPPED"
)

// GraphReport summarizes a graph run.
type GraphReport struct {
	GraphID    string                          `json:"graph_id"`
	Status     oao.ExecutionStatus             `json:"status"`
	Nodes      map[string]NodeStatus           `json:"nodes"`
	Reports    map[string]*oao.ExecutionReport `json:"reports"`
	FailedNode string                          `json:"failed_node,omitempty"`
	Failure    *oao.Failure                    `json:"failure,omitempty"`
}

// Executor runs a task graph with dependency ordering and bounded
// parallelism. Each node runs as a full engine execution with a stable
// execution id derived from the graph id, so crash recovery of a graph is
// just re-running it.
type Executor struct {
	graph  *TaskGraph
	opts   ExecutorOptions
	logger slogger.Logger
}

// NewExecutor validates the graph and creates an executor.
func NewExecutor(graph *TaskGraph, opts ExecutorOptions) (*Executor, error) {
	if graph == nil || graph.Len() == 0 {
		return nil, fmt.Errorf("graph is required")
	}
	if opts.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if opts.Snapshots == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	if opts.GraphID == "" {
		opts.GraphID = oao.NewExecutionID()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 3
	}
	if opts.OnFailure == "" {
		opts.OnFailure = FailFast
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	return &Executor{
		graph:  graph,
		opts:   opts,
		logger: opts.Logger.With("graph_id", opts.GraphID),
	}, nil
}

// ExecutionIDFor returns the stable execution id of a node within a graph.
func ExecutionIDFor(graphID, nodeID string) string {
	return graphID + "-" + nodeID
}

// Run executes the graph level by level. A node is never started until all
// of its declared dependencies have produced a terminal success.
func (x *Executor) Run(ctx context.Context) (*GraphReport, error) {
	levels, err := x.graph.Levels()
	if err != nil {
		return nil, err
	}

	report := &GraphReport{
		GraphID: x.opts.GraphID,
		Status:  oao.StatusSuccess,
		Nodes:   make(map[string]NodeStatus),
		Reports: make(map[string]*oao.ExecutionReport),
	}

	var mutex sync.Mutex
	sem := make(chan struct{}, x.opts.MaxConcurrency)

	for _, level := range levels {
		// The skip decision is taken once at level entry: everything in a
		// level is scheduled together, so a failure inside the level lets
		// its siblings finish and only cancels later levels.
		mutex.Lock()
		abort := report.FailedNode != "" && x.opts.OnFailure == FailFast
		var launch []*TaskNode
		for _, id := range level {
			node, _ := x.graph.Get(id)
			if abort || !x.depsCompleted(node, report) {
				report.Nodes[id] = NodeSkipped
				x.logger.Info("node skipped", "node_id", id)
				continue
			}
			launch = append(launch, node)
		}
		mutex.Unlock()

		var wg sync.WaitGroup
		for _, node := range launch {
			wg.Add(1)
			go func(node *TaskNode) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				nodeReport, err := x.runNode(ctx, node, x.dependencyOutputs(node, report, &mutex))

				mutex.Lock()
				defer mutex.Unlock()
				if err != nil {
					report.Nodes[node.ID] = NodeFailed
					if report.FailedNode == "" {
						report.FailedNode = node.ID
						report.Failure = &oao.Failure{Kind: oao.FailureInternal, Detail: err.Error()}
					}
					x.logger.Error("node errored", "node_id", node.ID, "error", err)
					return
				}
				report.Reports[node.ID] = nodeReport
				if nodeReport.Succeeded() {
					report.Nodes[node.ID] = NodeCompleted
					return
				}
				report.Nodes[node.ID] = NodeFailed
				if report.FailedNode == "" {
					report.FailedNode = node.ID
					report.Failure = nodeReport.Failure
				}
				x.logger.Warn("node failed", "node_id", node.ID, "kind", failureKind(nodeReport))
			}(node)
		}
		wg.Wait()
	}

	if report.FailedNode != "" {
		report.Status = oao.StatusFailed
	}
	for _, status := range report.Nodes {
		if status == NodeSkipped {
			report.Status = oao.StatusFailed
		}
	}
	return report, nil
}

// depsCompleted reports whether every declared dependency produced a
// terminal success. Callers hold the report mutex.
func (x *Executor) depsCompleted(node *TaskNode, report *GraphReport) bool {
	for _, dep := range node.Dependencies {
		if report.Nodes[dep] != NodeCompleted {
			return false
		}
	}
	return true
}

func (x *Executor) dependencyOutputs(node *TaskNode, report *GraphReport, mutex *sync.Mutex) map[string]string {
	mutex.Lock()
	defer mutex.Unlock()
	outputs := make(map[string]string, len(node.Dependencies))
	for _, dep := range node.Dependencies {
		if depReport, ok := report.Reports[dep]; ok {
			outputs[dep] = depReport.FinalOutput
		}
	}
	return outputs
}

// runNode runs one node as a full engine execution. A node whose terminal
// event is already in the log is not re-executed: resume folds the recorded
// history into a report.
func (x *Executor) runNode(ctx context.Context, node *TaskNode, deps map[string]string) (*oao.ExecutionReport, error) {
	executionID := ExecutionIDFor(x.opts.GraphID, node.ID)

	events, err := x.opts.Log.Read(ctx, executionID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		return execution.Resume(ctx, execution.ResumeOptions{
			ExecutionID:       executionID,
			Adapter:           node.Adapter,
			Tools:             x.opts.Tools,
			Log:               x.opts.Log,
			Snapshots:         x.opts.Snapshots,
			DependencyOutputs: deps,
			Bus:               x.opts.Bus,
			Logger:            x.opts.Logger,
			Metrics:           x.opts.Metrics,
			Tracer:            x.opts.Tracer,
			Clock:             x.opts.Clock,
		})
	}

	snapshot, err := execution.NewSnapshotWithID(executionID, node.Task, x.opts.Policy, node.Adapter, x.opts.Tools)
	if err != nil {
		return nil, err
	}
	eng, err := execution.New(execution.Options{
		Snapshot:          snapshot,
		Adapter:           node.Adapter,
		Tools:             x.opts.Tools,
		Log:               x.opts.Log,
		Snapshots:         x.opts.Snapshots,
		DependencyOutputs: deps,
		Bus:               x.opts.Bus,
		Logger:            x.opts.Logger,
		Metrics:           x.opts.Metrics,
		Tracer:            x.opts.Tracer,
		Clock:             x.opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}

func failureKind(report *oao.ExecutionReport) oao.FailureKind {
	if report.Failure == nil {
		return ""
	}
	return report.Failure.Kind
}

// RunParallel runs independent agents over the same task with no
// dependencies between them: a one-level graph.
func RunParallel(ctx context.Context, agents map[string]oao.AgentAdapter, task string, opts ExecutorOptions) (*GraphReport, error) {
	graph := NewTaskGraph()
	for id, adapter := range agents {
		if err := graph.Add(&TaskNode{ID: id, Adapter: adapter, Task: task}); err != nil {
			return nil, err
		}
	}
	executor, err := NewExecutor(graph, opts)
	if err != nil {
		return nil, err
	}
	return executor.Run(ctx)
}
