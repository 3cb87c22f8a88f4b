// Package orchestrator is the submission API of the runtime: run an agent
// over a task under a policy, asynchronously or not, resume or replay past
// executions, and cancel running ones. It composes the event log, snapshot
// store, policy engine, and execution engine; all state lives in those
// collaborators.
package orchestrator

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

// Options wires an orchestrator to its stores and instrumentation.
type Options struct {
	Log       event.Log
	Snapshots execution.SnapshotStore
	Tools     *oao.ToolRegistry

	// EventRetention, when positive, is applied to every new execution.
	EventRetention time.Duration

	Bus     *event.Bus
	Logger  slogger.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	Clock   func() time.Time
}

// Orchestrator drives executions. It tracks running engines so that
// Cancel can reach them; everything durable is in the log and stores.
type Orchestrator struct {
	opts Options

	mutex   sync.Mutex
	running map[string]*execution.Engine
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if opts.Snapshots == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	return &Orchestrator{
		opts:    opts,
		running: make(map[string]*execution.Engine),
	}, nil
}

// Run executes the task with the given adapter under the policy and blocks
// until the execution terminates.
func (o *Orchestrator) Run(ctx context.Context, adapter oao.AgentAdapter, task string, policyCfg policy.Config) (*oao.ExecutionReport, error) {
	snapshot, err := execution.NewSnapshot(task, policyCfg, adapter, o.opts.Tools)
	if err != nil {
		return nil, err
	}
	return o.runSnapshot(ctx, snapshot, adapter)
}

// RunAsync starts the execution in the background and returns its id along
// with a channel that delivers the terminal report.
func (o *Orchestrator) RunAsync(ctx context.Context, adapter oao.AgentAdapter, task string, policyCfg policy.Config) (string, <-chan *oao.ExecutionReport, error) {
	snapshot, err := execution.NewSnapshot(task, policyCfg, adapter, o.opts.Tools)
	if err != nil {
		return "", nil, err
	}

	reports := make(chan *oao.ExecutionReport, 1)
	go func() {
		defer close(reports)
		report, err := o.runSnapshot(ctx, snapshot, adapter)
		if err != nil {
			o.opts.Logger.Error("async execution failed",
				"execution_id", snapshot.ExecutionID, "error", err)
			return
		}
		reports <- report
	}()
	return snapshot.ExecutionID, reports, nil
}

func (o *Orchestrator) runSnapshot(ctx context.Context, snapshot *execution.Snapshot, adapter oao.AgentAdapter) (*oao.ExecutionReport, error) {
	eng, err := execution.New(execution.Options{
		Snapshot:       snapshot,
		Adapter:        adapter,
		Tools:          o.opts.Tools,
		Log:            o.opts.Log,
		Snapshots:      o.opts.Snapshots,
		EventRetention: o.opts.EventRetention,
		Bus:            o.opts.Bus,
		Logger:         o.opts.Logger,
		Metrics:        o.opts.Metrics,
		Tracer:         o.opts.Tracer,
		Clock:          o.opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	o.track(snapshot.ExecutionID, eng)
	defer o.untrack(snapshot.ExecutionID)
	return eng.Run(ctx)
}

// Resume continues an interrupted execution from its first incomplete step.
func (o *Orchestrator) Resume(ctx context.Context, executionID string, adapter oao.AgentAdapter) (*oao.ExecutionReport, error) {
	return execution.Resume(ctx, execution.ResumeOptions{
		ExecutionID: executionID,
		Adapter:     adapter,
		Tools:       o.opts.Tools,
		Log:         o.opts.Log,
		Snapshots:   o.opts.Snapshots,
		Bus:         o.opts.Bus,
		Logger:      o.opts.Logger,
		Metrics:     o.opts.Metrics,
		Tracer:      o.opts.Tracer,
		Clock:       o.opts.Clock,
	})
}

// Replay reconstructs a past execution. With force set it re-executes the
// steps and audits the produced history for determinism violations.
func (o *Orchestrator) Replay(ctx context.Context, executionID string, force bool, adapter oao.AgentAdapter) (*oao.ExecutionReport, error) {
	return execution.Replay(ctx, execution.ReplayOptions{
		ExecutionID: executionID,
		Log:         o.opts.Log,
		Snapshots:   o.opts.Snapshots,
		Force:       force,
		Adapter:     adapter,
		Tools:       o.opts.Tools,
		Bus:         o.opts.Bus,
		Logger:      o.opts.Logger,
		Metrics:     o.opts.Metrics,
		Tracer:      o.opts.Tracer,
		Clock:       o.opts.Clock,
	})
}

// Cancel flags a running execution for cancellation. The engine observes the
// flag at its next pre-step or pre-tool check.
func (o *Orchestrator) Cancel(executionID string) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	eng, ok := o.running[executionID]
	if !ok {
		return fmt.Errorf("execution %s is not running here", executionID)
	}
	eng.Cancel()
	return nil
}

func (o *Orchestrator) track(executionID string, eng *execution.Engine) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.running[executionID] = eng
}

func (o *Orchestrator) untrack(executionID string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	delete(o.running, executionID)
}
