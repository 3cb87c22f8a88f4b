// Package execution contains the lifecycle engine that drives agent
// executions, the immutable configuration snapshot each execution is
// constructed around, the tool interception layer, and the replay and resume
// protocol. All engine state is derived from the event log: the in-memory
// state is a cache that is updated only as the consequence of a successful
// append.
package execution

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yashsham/open-agent-orchestrator/policy"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// Snapshot is the immutable configuration captured once at execution start.
// The execution hash is a digest over everything that determines behavior, so
// resuming with a changed configuration is detectable and refused.
type Snapshot struct {
	ExecutionID    string        `json:"execution_id"`
	ExecutionHash  string        `json:"execution_hash"`
	Task           string        `json:"task"`
	PolicyConfig   policy.Config `json:"policy_config"`
	AgentName      string        `json:"agent_name"`
	AgentVersion   string        `json:"agent_version"`
	ToolNames      []string      `json:"tool_names"`
	RuntimeVersion string        `json:"runtime_version"`
	CreatedAt      time.Time     `json:"created_at"`
}

// NewSnapshot captures the configuration for a fresh execution and computes
// its hash. A new execution id is minted.
func NewSnapshot(task string, policyCfg policy.Config, adapter oao.AgentAdapter, tools *oao.ToolRegistry) (*Snapshot, error) {
	return NewSnapshotWithID(oao.NewExecutionID(), task, policyCfg, adapter, tools)
}

// NewSnapshotWithID captures the configuration for an execution with a
// caller-chosen id. The DAG executor uses this to give graph nodes stable,
// resumable execution ids.
func NewSnapshotWithID(executionID, task string, policyCfg policy.Config, adapter oao.AgentAdapter, tools *oao.ToolRegistry) (*Snapshot, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	if task == "" {
		return nil, fmt.Errorf("task is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}

	// The snapshot stores the effective policy so that resume compares what
	// actually governed the execution, not the caller's shorthand.
	policyCfg = policyCfg.WithDefaults()
	toolNames := tools.Names()

	hash, err := ComputeHash(task, policyCfg, adapter.Name(), adapter.Version(), toolNames, oao.RuntimeVersion)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		ExecutionID:    executionID,
		ExecutionHash:  hash,
		Task:           task,
		PolicyConfig:   policyCfg,
		AgentName:      adapter.Name(),
		AgentVersion:   adapter.Version(),
		ToolNames:      toolNames,
		RuntimeVersion: oao.RuntimeVersion,
		CreatedAt:      time.Now(),
	}, nil
}

// ComputeHash computes the deterministic execution hash over the canonical
// JSON form of the configuration. Map keys are sorted by the JSON encoder
// and durations are normalized to milliseconds, so equivalent inputs always
// produce the same digest.
func ComputeHash(task string, policyCfg policy.Config, agentName, agentVersion string, toolNames []string, runtimeVersion string) (string, error) {
	allowed := policyCfg.AllowedTools
	if allowed == nil {
		allowed = []string{}
	}
	if toolNames == nil {
		toolNames = []string{}
	}

	data := map[string]any{
		"task": task,
		"policy": map[string]any{
			"max_steps":            policyCfg.MaxSteps,
			"max_tokens":           policyCfg.MaxTokens,
			"max_tool_calls":       policyCfg.MaxToolCalls,
			"execution_timeout_ms": policyCfg.ExecutionTimeout.Milliseconds(),
			"allowed_tools":        allowed,
			"deny_unlisted_tools":  policyCfg.DenyUnlistedTools,
			"retry": map[string]any{
				"max_retries":        policyCfg.Retry.MaxRetries,
				"initial_delay_ms":   policyCfg.Retry.InitialDelay.Milliseconds(),
				"backoff_multiplier": policyCfg.Retry.BackoffMultiplier,
			},
		},
		"agent": map[string]any{
			"name":    agentName,
			"version": agentVersion,
		},
		"tools":   toolNames,
		"version": runtimeVersion,
	}

	serialized, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize hash input: %w", err)
	}
	digest := sha256.Sum256(serialized)
	return fmt.Sprintf("%x", digest), nil
}

// VerifyAgainst recomputes the hash from the given current configuration and
// compares it with the stored one. A mismatch means the configuration
// changed since the execution was created, and resume must be refused.
func (s *Snapshot) VerifyAgainst(policyCfg policy.Config, adapter oao.AgentAdapter, tools *oao.ToolRegistry) error {
	computed, err := ComputeHash(s.Task, policyCfg.WithDefaults(), adapter.Name(), adapter.Version(), tools.Names(), oao.RuntimeVersion)
	if err != nil {
		return err
	}
	if computed != s.ExecutionHash {
		return &oao.HashMismatchError{
			ExecutionID: s.ExecutionID,
			Want:        s.ExecutionHash,
			Got:         computed,
		}
	}
	return nil
}
