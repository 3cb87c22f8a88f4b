package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	oao "github.com/yashsham/open-agent-orchestrator"
)

var (
	// ErrDuplicateSequence is returned when a concurrent append races for
	// the same sequence number.
	ErrDuplicateSequence = errors.New("event log: duplicate sequence")

	// ErrSequenceGap is returned when imported events do not form a dense
	// sequence starting at zero.
	ErrSequenceGap = errors.New("event log: sequence gap")

	// ErrTerminalRecorded is returned when appending to an execution that
	// already has a terminal event.
	ErrTerminalRecorded = errors.New("event log: terminal event already recorded")
)

// Draft is an event before the log has assigned its sequence, id, and
// timestamp.
type Draft struct {
	StepNumber *int
	Data       PayloadData
	Trace      *TraceContext
}

// Log is the append-only event log. It is the write-ahead record of the
// runtime: a state transition has not happened until its append returns.
//
// Appends are serialized per execution id, sequences are dense, and readers
// always see a prefix-consistent view.
type Log interface {
	// Append assigns the next sequence atomically and persists the event.
	// It fails with ErrTerminalRecorded once a terminal event exists.
	Append(ctx context.Context, executionID string, draft Draft) (*Event, error)

	// Read returns the events for an execution ordered by sequence,
	// starting at fromSeq.
	Read(ctx context.Context, executionID string, fromSeq int64) ([]*Event, error)

	// LookupToolSuccess scans for a TOOL_CALL_SUCCESS event with the given
	// canonical argument hash. Used by the interception layer to
	// deduplicate tool calls.
	LookupToolSuccess(ctx context.Context, executionID, argHash string) (*ToolCallRecord, bool, error)

	// Import loads a complete event history, for example when migrating an
	// execution between stores. The events must form a dense sequence and
	// the destination must be empty.
	Import(ctx context.Context, executionID string, events []*Event) error

	// SetRetention sets the expiry for an execution's events. Stores that
	// support it re-extend the expiry on every append so long-running
	// executions never expire mid-flight.
	SetRetention(ctx context.Context, executionID string, ttl time.Duration) error
}

// DefaultRetention is how long events are kept unless overridden.
const DefaultRetention = 7 * 24 * time.Hour

// materialize turns a draft into a concrete event at the given sequence.
func materialize(executionID string, seq int64, draft Draft, now time.Time) (*Event, error) {
	if draft.Data == nil {
		return nil, fmt.Errorf("event payload data is required")
	}
	if err := draft.Data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", draft.Data.EventType(), err)
	}
	return &Event{
		ID:          oao.NewEventID(),
		ExecutionID: executionID,
		Sequence:    seq,
		StepNumber:  draft.StepNumber,
		Type:        draft.Data.EventType(),
		Timestamp:   now,
		Payload:     draft.Data.Payload(),
		Trace:       draft.Trace,
	}, nil
}

// checkDense verifies that events form the dense sequence 0..len-1.
func checkDense(events []*Event) error {
	for i, ev := range events {
		if ev.Sequence != int64(i) {
			return fmt.Errorf("%w: expected sequence %d, found %d", ErrSequenceGap, i, ev.Sequence)
		}
	}
	return nil
}

// Verify checks the log-level invariants over a complete event history:
// dense sequences, a single EXECUTION_STARTED at sequence zero, strictly
// increasing step numbers with STEP_STARTED preceding STEP_COMPLETED, and at
// most one terminal event with nothing after it.
func Verify(events []*Event) error {
	if err := checkDense(events); err != nil {
		return err
	}
	lastStarted := -1
	lastCompleted := -1
	sawTerminal := false
	for i, ev := range events {
		if sawTerminal {
			return fmt.Errorf("event at sequence %d follows a terminal event", ev.Sequence)
		}
		switch ev.Type {
		case TypeExecutionStarted:
			if i != 0 {
				return fmt.Errorf("EXECUTION_STARTED at sequence %d, expected 0", ev.Sequence)
			}
		case TypeStepStarted:
			n := ev.Step()
			if n <= lastStarted {
				return fmt.Errorf("step %d started out of order (last started %d)", n, lastStarted)
			}
			if n != lastCompleted+1 {
				return fmt.Errorf("step %d started but step %d not completed", n, lastCompleted+1)
			}
			lastStarted = n
		case TypeStepCompleted:
			n := ev.Step()
			if n != lastStarted {
				return fmt.Errorf("step %d completed without a start", n)
			}
			if n <= lastCompleted {
				return fmt.Errorf("step %d completed twice", n)
			}
			lastCompleted = n
		case TypeExecutionCompleted, TypeExecutionFailed:
			sawTerminal = true
		}
	}
	return nil
}
