package oao

import "context"

// RuntimeVersion identifies the runtime itself. It participates in the
// execution hash, so bumping it invalidates resume of in-flight executions.
const RuntimeVersion = "1.1.0"

// ToolCaller invokes a named tool with the given arguments. The engine binds
// this to the tool interception layer, so calls made through it are hashed,
// deduplicated against the event log, and retried under the active policy.
type ToolCaller func(ctx context.Context, name string, args map[string]any) (any, error)

// StepContext carries everything an adapter may use for a single step.
type StepContext struct {
	ExecutionID string
	Task        string
	Step        int

	// DependencyOutputs holds the final outputs of upstream executions when
	// the step runs as part of a task graph, keyed by node id.
	DependencyOutputs map[string]string

	// History contains the outputs of the preceding steps, oldest first.
	History []string

	// CallTool routes a tool invocation through the interception layer.
	// Adapters must use it instead of calling tools directly, or the calls
	// will not be recorded and will re-execute on replay.
	CallTool ToolCaller
}

// StepResult is what an adapter returns from one step.
type StepResult struct {
	Output string
	Tokens int

	// Done signals that the task is complete and the engine should
	// terminate the execution successfully.
	Done bool
}

// AgentAdapter is the capability set the engine requires of any agent
// integration. The engine knows nothing else about the agent: it drives the
// lifecycle and calls Invoke once per step.
type AgentAdapter interface {
	// Name identifies the adapter. It participates in the execution hash.
	Name() string

	// Version identifies the adapter version. It participates in the
	// execution hash, so upgrading an adapter invalidates resume.
	Version() string

	// Invoke runs one step of the agent. Adapters signal completion by
	// setting StepResult.Done and signal failure by returning an error.
	// Returned errors may implement the retryable contract via AdapterError.
	Invoke(ctx context.Context, step *StepContext) (*StepResult, error)
}
