package event

import "time"

// TimelineEntry is one row of a human-readable execution timeline.
type TimelineEntry struct {
	Sequence   int64     `json:"sequence"`
	Step       int       `json:"step"`
	Type       Type      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	State      string    `json:"state,omitempty"`
	TokenUsage int       `json:"token_usage,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Timeline is a derived view of an execution's history, used for debugging
// and by the CLI timeline command.
type Timeline struct {
	ExecutionID string          `json:"execution_id"`
	Status      string          `json:"status"`
	TotalEvents int             `json:"total_events"`
	Entries     []TimelineEntry `json:"events"`
}

// BuildTimeline derives a timeline view from an ordered event history.
func BuildTimeline(executionID string, events []*Event) *Timeline {
	timeline := &Timeline{
		ExecutionID: executionID,
		Status:      "PENDING",
		TotalEvents: len(events),
	}

	if len(events) > 0 {
		switch last := events[len(events)-1]; last.Type {
		case TypeExecutionCompleted:
			timeline.Status = "COMPLETED"
		case TypeExecutionFailed:
			timeline.Status = "FAILED"
		case TypePolicyViolation:
			timeline.Status = "POLICY_VIOLATION"
		default:
			timeline.Status = "RUNNING"
		}
	}

	tokens := 0
	for _, ev := range events {
		entry := TimelineEntry{
			Sequence:  ev.Sequence,
			Step:      ev.Step(),
			Type:      ev.Type,
			Timestamp: ev.Timestamp,
		}
		switch ev.Type {
		case TypeStateEnter:
			entry.State = getString(ev.Payload, "state")
		case TypeStepCompleted:
			tokens = getInt(ev.Payload, "token_usage")
		case TypePolicyViolation, TypeExecutionFailed:
			entry.Error = getString(ev.Payload, "detail")
		}
		entry.TokenUsage = tokens
		timeline.Entries = append(timeline.Entries, entry)
	}
	return timeline
}
