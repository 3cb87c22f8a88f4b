package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/execution"
	"github.com/yashsham/open-agent-orchestrator/policy"
	"github.com/yashsham/open-agent-orchestrator/slogger"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// AdapterFactory resolves an agent name from a job payload to an adapter.
type AdapterFactory func(name string) (oao.AgentAdapter, error)

// HandlerOptions wires an execution handler to the runtime's stores.
type HandlerOptions struct {
	Log       event.Log
	Snapshots execution.SnapshotStore
	Adapters  AdapterFactory
	Tools     *oao.ToolRegistry

	Bus     *event.Bus
	Logger  slogger.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// NewExecutionHandler returns the standard job handler: it builds an engine
// for the job's execution, or resumes it when the log already has events.
// Re-delivered jobs are therefore safe: completed work is skipped through
// the event log, not repeated.
func NewExecutionHandler(opts HandlerOptions) (Handler, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if opts.Snapshots == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if opts.Adapters == nil {
		return nil, fmt.Errorf("adapter factory is required")
	}

	return func(ctx context.Context, job *Job) (*oao.ExecutionReport, error) {
		agentName, _ := job.Payload["agent"].(string)
		adapter, err := opts.Adapters(agentName)
		if err != nil {
			return nil, fmt.Errorf("unknown agent %q: %w", agentName, err)
		}

		events, err := opts.Log.Read(ctx, job.ExecutionID, 0)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			return execution.Resume(ctx, execution.ResumeOptions{
				ExecutionID: job.ExecutionID,
				Adapter:     adapter,
				Tools:       opts.Tools,
				Log:         opts.Log,
				Snapshots:   opts.Snapshots,
				Bus:         opts.Bus,
				Logger:      opts.Logger,
				Metrics:     opts.Metrics,
				Tracer:      opts.Tracer,
			})
		}

		task, _ := job.Payload["task"].(string)
		snapshot, err := execution.NewSnapshotWithID(job.ExecutionID, task, policyFromPayload(job.Payload), adapter, opts.Tools)
		if err != nil {
			return nil, err
		}
		eng, err := execution.New(execution.Options{
			Snapshot:  snapshot,
			Adapter:   adapter,
			Tools:     opts.Tools,
			Log:       opts.Log,
			Snapshots: opts.Snapshots,
			Bus:       opts.Bus,
			Logger:    opts.Logger,
			Metrics:   opts.Metrics,
			Tracer:    opts.Tracer,
		})
		if err != nil {
			return nil, err
		}
		return eng.Run(ctx)
	}, nil
}

// policyFromPayload reads the recognized policy fields from a job payload.
// Numbers arrive as float64 after JSON transport.
func policyFromPayload(payload map[string]any) policy.Config {
	cfg := policy.Config{}
	cfg.MaxSteps = payloadInt(payload, "max_steps")
	cfg.MaxTokens = payloadInt(payload, "max_tokens")
	cfg.MaxToolCalls = payloadInt(payload, "max_tool_calls")
	if seconds := payloadInt(payload, "execution_timeout_seconds"); seconds > 0 {
		cfg.ExecutionTimeout = time.Duration(seconds) * time.Second
	}
	if tools, ok := payload["allowed_tools"].([]any); ok {
		for _, tool := range tools {
			if name, ok := tool.(string); ok {
				cfg.AllowedTools = append(cfg.AllowedTools, name)
			}
		}
	}
	return cfg
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
