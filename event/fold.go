package event

import (
	"time"

	oao "github.com/yashsham/open-agent-orchestrator"
)

// State is the execution state derived from an event log. It is never stored:
// it is always the result of folding events, so it can be reconstructed at
// any time and is guaranteed to match the log.
type State struct {
	ExecutionID string

	// Lifecycle is the most recently entered state machine state.
	Lifecycle string

	// StateHistory lists every STATE_ENTER in order.
	StateHistory []string

	// Steps is the number of completed steps. It is also the number of the
	// next step to run.
	Steps int

	// OpenStep is the step that was started but not completed, if any.
	// Resume continues from here without re-appending STEP_STARTED.
	OpenStep *int

	TokenUsage int
	ToolCalls  int

	LastOutput  string
	FinalOutput string

	// Outputs lists every completed step's output in order. Adapters see it
	// as their step history.
	Outputs []string

	// StartedAt is the timestamp of the EXECUTION_STARTED event, the origin
	// for the execution timeout.
	StartedAt time.Time

	// Terminal is the terminal event type, or empty while running.
	Terminal Type

	// Failure carries the structured cause when Terminal is
	// EXECUTION_FAILED.
	Failure *oao.Failure

	// ToolResults indexes successful tool calls by canonical argument hash.
	ToolResults map[string]*ToolCallRecord
}

// NewState creates the empty state an execution folds into.
func NewState(executionID string) *State {
	return &State{
		ExecutionID: executionID,
		ToolResults: make(map[string]*ToolCallRecord),
	}
}

// Apply folds a single event into the state. The engine uses the same
// function after every successful append, which is what keeps the in-memory
// state consistent with the log by construction.
func (s *State) Apply(ev *Event) {
	switch ev.Type {
	case TypeExecutionStarted:
		s.StartedAt = ev.Timestamp
	case TypeStateEnter:
		state := getString(ev.Payload, "state")
		s.Lifecycle = state
		s.StateHistory = append(s.StateHistory, state)
	case TypeStepStarted:
		n := ev.Step()
		s.OpenStep = &n
	case TypeStepCompleted:
		s.OpenStep = nil
		s.Steps = ev.Step() + 1
		s.TokenUsage = getInt(ev.Payload, "token_usage")
		s.LastOutput = getString(ev.Payload, "output")
		s.Outputs = append(s.Outputs, s.LastOutput)
	case TypeToolCallStarted:
		s.ToolCalls++
	case TypeToolCallSuccess:
		hash := getString(ev.Payload, "arg_hash")
		s.ToolResults[hash] = &ToolCallRecord{
			ToolName:  getString(ev.Payload, "tool_name"),
			ArgHash:   hash,
			Result:    ev.Payload["result"],
			TokenCost: getInt(ev.Payload, "token_cost"),
		}
	case TypeExecutionCompleted:
		s.Terminal = TypeExecutionCompleted
		s.FinalOutput = getString(ev.Payload, "final_output")
	case TypeExecutionFailed:
		s.Terminal = TypeExecutionFailed
		s.Failure = &oao.Failure{
			Kind:   oao.FailureKind(getString(ev.Payload, "kind")),
			Detail: getString(ev.Payload, "detail"),
		}
	}
}

// Fold derives the execution state from an ordered event history. It is a
// pure function: folding the same events always produces the same state.
func Fold(executionID string, events []*Event) *State {
	s := NewState(executionID)
	for _, ev := range events {
		s.Apply(ev)
	}
	return s
}

// Running reports whether the execution has started but not terminated.
func (s *State) Running() bool {
	return !s.StartedAt.IsZero() && s.Terminal == ""
}

// Completed reports whether the execution terminated successfully.
func (s *State) Completed() bool {
	return s.Terminal == TypeExecutionCompleted
}

// Failed reports whether the execution terminated with a failure.
func (s *State) Failed() bool {
	return s.Terminal == TypeExecutionFailed
}

// NextStep returns the number of the next step to run. If a step was started
// but never completed, that step is resumed.
func (s *State) NextStep() int {
	if s.OpenStep != nil {
		return *s.OpenStep
	}
	return s.Steps
}
