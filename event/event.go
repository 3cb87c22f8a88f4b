// Package event provides the append-only event log that all execution state
// is derived from, the typed event payloads, the pure fold that reconstructs
// state from a log, and the bus that streams appended events to subscribers.
package event

import (
	"fmt"
	"time"
)

// Type identifies the kind of an execution event. The values are part of the
// wire contract consumed by dashboards and other external subscribers.
type Type string

const (
	TypeExecutionStarted   Type = "EXECUTION_STARTED"
	TypeStateEnter         Type = "STATE_ENTER"
	TypeStepStarted        Type = "STEP_STARTED"
	TypeStepCompleted      Type = "STEP_COMPLETED"
	TypeToolCallStarted    Type = "TOOL_CALL_STARTED"
	TypeToolCallSuccess    Type = "TOOL_CALL_SUCCESS"
	TypeToolCallFailed     Type = "TOOL_CALL_FAILED"
	TypeRetryAttempted     Type = "RETRY_ATTEMPTED"
	TypePolicyViolation    Type = "POLICY_VIOLATION"
	TypeExecutionCompleted Type = "EXECUTION_COMPLETED"
	TypeExecutionFailed    Type = "EXECUTION_FAILED"
)

// IsTerminal reports whether t ends an execution. At most one terminal event
// may exist per execution id.
func IsTerminal(t Type) bool {
	return t == TypeExecutionCompleted || t == TypeExecutionFailed
}

// TraceContext carries the span identifiers active when an event was
// recorded, so external consumers can correlate events with traces.
type TraceContext struct {
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Event is a single immutable record in an execution's history. Sequences
// are dense (0, 1, 2, ...) within one execution id and are assigned by the
// log on append.
type Event struct {
	ID          string         `json:"event_id"`
	ExecutionID string         `json:"execution_id"`
	Sequence    int64          `json:"sequence"`
	StepNumber  *int           `json:"step_number,omitempty"`
	Type        Type           `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"data,omitempty"`
	Trace       *TraceContext  `json:"trace_context,omitempty"`
}

// Validate checks the structural invariants of an event.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.ExecutionID == "" {
		return fmt.Errorf("execution id is required")
	}
	if e.Sequence < 0 {
		return fmt.Errorf("sequence must be non-negative")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Step returns the event's step number, or -1 if it is not step-scoped.
func (e *Event) Step() int {
	if e.StepNumber == nil {
		return -1
	}
	return *e.StepNumber
}

// ToolCallRecord is the recorded outcome of a successful tool call, keyed by
// the canonical argument hash. It is what the interception layer returns when
// a call is deduplicated against the log.
type ToolCallRecord struct {
	ToolName  string `json:"tool_name"`
	ArgHash   string `json:"arg_hash"`
	Result    any    `json:"result"`
	TokenCost int    `json:"token_cost,omitempty"`
}

// Helper functions for extracting data from event payload maps. Payloads
// read back from a store have been through JSON, so numbers arrive as
// float64.

func getString(data map[string]any, key string) string {
	if value, ok := data[key]; ok {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return ""
}

func getInt(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
