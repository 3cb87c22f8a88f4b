package event

import (
	"fmt"
	"time"

	oao "github.com/yashsham/open-agent-orchestrator"
)

// PayloadData is implemented by the typed payload of each event type. The
// log materializes the payload map from it at append time, so the wire shape
// stays stable even as the typed structs evolve.
type PayloadData interface {
	EventType() Type
	Validate() error
	Payload() map[string]any
}

// ExecutionStartedData contains data for execution started events
type ExecutionStartedData struct {
	Task          string `json:"task"`
	AgentName     string `json:"agent_name"`
	ExecutionHash string `json:"execution_hash"`
}

func (d *ExecutionStartedData) EventType() Type { return TypeExecutionStarted }
func (d *ExecutionStartedData) Validate() error {
	if d.Task == "" {
		return fmt.Errorf("task is required")
	}
	return nil
}
func (d *ExecutionStartedData) Payload() map[string]any {
	return map[string]any{
		"task":           d.Task,
		"agent_name":     d.AgentName,
		"execution_hash": d.ExecutionHash,
	}
}

// StateEnterData contains data for state enter events
type StateEnterData struct {
	State string `json:"state"`
}

func (d *StateEnterData) EventType() Type { return TypeStateEnter }
func (d *StateEnterData) Validate() error {
	if d.State == "" {
		return fmt.Errorf("state is required")
	}
	return nil
}
func (d *StateEnterData) Payload() map[string]any {
	return map[string]any{"state": d.State}
}

// StepStartedData contains data for step started events
type StepStartedData struct{}

func (d *StepStartedData) EventType() Type         { return TypeStepStarted }
func (d *StepStartedData) Validate() error         { return nil }
func (d *StepStartedData) Payload() map[string]any { return map[string]any{} }

// StepCompletedData contains data for step completed events
type StepCompletedData struct {
	Output     string `json:"output"`
	Tokens     int    `json:"tokens"`
	TokenUsage int    `json:"token_usage"`
}

func (d *StepCompletedData) EventType() Type { return TypeStepCompleted }
func (d *StepCompletedData) Validate() error {
	if d.Tokens < 0 {
		return fmt.Errorf("tokens must be non-negative")
	}
	return nil
}
func (d *StepCompletedData) Payload() map[string]any {
	return map[string]any{
		"output":      d.Output,
		"tokens":      d.Tokens,
		"token_usage": d.TokenUsage,
	}
}

// ToolCallStartedData contains data for tool call started events
type ToolCallStartedData struct {
	ToolName string `json:"tool_name"`
	ArgHash  string `json:"arg_hash"`
}

func (d *ToolCallStartedData) EventType() Type { return TypeToolCallStarted }
func (d *ToolCallStartedData) Validate() error {
	if d.ToolName == "" {
		return fmt.Errorf("tool_name is required")
	}
	if d.ArgHash == "" {
		return fmt.Errorf("arg_hash is required")
	}
	return nil
}
func (d *ToolCallStartedData) Payload() map[string]any {
	return map[string]any{
		"tool_name": d.ToolName,
		"arg_hash":  d.ArgHash,
	}
}

// ToolCallSuccessData contains data for tool call success events
type ToolCallSuccessData struct {
	ToolName  string `json:"tool_name"`
	ArgHash   string `json:"arg_hash"`
	Result    any    `json:"result"`
	TokenCost int    `json:"token_cost,omitempty"`
}

func (d *ToolCallSuccessData) EventType() Type { return TypeToolCallSuccess }
func (d *ToolCallSuccessData) Validate() error {
	if d.ToolName == "" {
		return fmt.Errorf("tool_name is required")
	}
	if d.ArgHash == "" {
		return fmt.Errorf("arg_hash is required")
	}
	return nil
}
func (d *ToolCallSuccessData) Payload() map[string]any {
	return map[string]any{
		"tool_name":  d.ToolName,
		"arg_hash":   d.ArgHash,
		"result":     d.Result,
		"token_cost": d.TokenCost,
	}
}

// ToolCallFailedData contains data for tool call failed events
type ToolCallFailedData struct {
	ToolName  string `json:"tool_name"`
	ArgHash   string `json:"arg_hash"`
	ErrorKind string `json:"error_kind"`
	Error     string `json:"error"`
}

func (d *ToolCallFailedData) EventType() Type { return TypeToolCallFailed }
func (d *ToolCallFailedData) Validate() error {
	if d.ToolName == "" {
		return fmt.Errorf("tool_name is required")
	}
	if d.Error == "" {
		return fmt.Errorf("error is required")
	}
	return nil
}
func (d *ToolCallFailedData) Payload() map[string]any {
	return map[string]any{
		"tool_name":  d.ToolName,
		"arg_hash":   d.ArgHash,
		"error_kind": d.ErrorKind,
		"error":      d.Error,
	}
}

// RetryAttemptedData contains data for retry attempted events
type RetryAttemptedData struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
	Reason  string        `json:"reason"`
}

func (d *RetryAttemptedData) EventType() Type { return TypeRetryAttempted }
func (d *RetryAttemptedData) Validate() error {
	if d.Attempt < 1 {
		return fmt.Errorf("attempt must be positive")
	}
	return nil
}
func (d *RetryAttemptedData) Payload() map[string]any {
	return map[string]any{
		"attempt":  d.Attempt,
		"delay_ms": d.Delay.Milliseconds(),
		"reason":   d.Reason,
	}
}

// PolicyViolationData contains data for policy violation events
type PolicyViolationData struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (d *PolicyViolationData) EventType() Type { return TypePolicyViolation }
func (d *PolicyViolationData) Validate() error {
	if d.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	return nil
}
func (d *PolicyViolationData) Payload() map[string]any {
	return map[string]any{
		"kind":   d.Kind,
		"detail": d.Detail,
	}
}

// ExecutionCompletedData contains data for execution completed events
type ExecutionCompletedData struct {
	FinalOutput string `json:"final_output"`
	TokenUsage  int    `json:"token_usage"`
}

func (d *ExecutionCompletedData) EventType() Type { return TypeExecutionCompleted }
func (d *ExecutionCompletedData) Validate() error { return nil }
func (d *ExecutionCompletedData) Payload() map[string]any {
	return map[string]any{
		"final_output": d.FinalOutput,
		"token_usage":  d.TokenUsage,
	}
}

// ExecutionFailedData contains data for execution failed events
type ExecutionFailedData struct {
	Kind   oao.FailureKind `json:"kind"`
	Detail string          `json:"detail"`
}

func (d *ExecutionFailedData) EventType() Type { return TypeExecutionFailed }
func (d *ExecutionFailedData) Validate() error {
	if d.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	return nil
}
func (d *ExecutionFailedData) Payload() map[string]any {
	return map[string]any{
		"kind":   string(d.Kind),
		"detail": d.Detail,
	}
}
