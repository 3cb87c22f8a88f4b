package event

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLog is an in-memory event log for tests and single-process use.
// Appends are serialized per execution by a single mutex.
type MemoryLog struct {
	mutex      sync.RWMutex
	executions map[string]*memoryHistory
}

type memoryHistory struct {
	events   []*Event
	terminal bool
	expires  time.Time
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		executions: make(map[string]*memoryHistory),
	}
}

func (l *MemoryLog) Append(ctx context.Context, executionID string, draft Draft) (*Event, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	hist, ok := l.executions[executionID]
	if !ok {
		hist = &memoryHistory{}
		l.executions[executionID] = hist
	}
	if hist.terminal {
		return nil, ErrTerminalRecorded
	}

	ev, err := materialize(executionID, int64(len(hist.events)), draft, time.Now())
	if err != nil {
		return nil, err
	}
	hist.events = append(hist.events, ev)
	if IsTerminal(ev.Type) {
		hist.terminal = true
	}
	return ev, nil
}

func (l *MemoryLog) Read(ctx context.Context, executionID string, fromSeq int64) ([]*Event, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	hist, ok := l.executions[executionID]
	if !ok {
		return nil, nil
	}
	var out []*Event
	for _, ev := range hist.events {
		if ev.Sequence >= fromSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *MemoryLog) LookupToolSuccess(ctx context.Context, executionID, argHash string) (*ToolCallRecord, bool, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	hist, ok := l.executions[executionID]
	if !ok {
		return nil, false, nil
	}
	for _, ev := range hist.events {
		if ev.Type != TypeToolCallSuccess {
			continue
		}
		if getString(ev.Payload, "arg_hash") != argHash {
			continue
		}
		return &ToolCallRecord{
			ToolName:  getString(ev.Payload, "tool_name"),
			ArgHash:   argHash,
			Result:    ev.Payload["result"],
			TokenCost: getInt(ev.Payload, "token_cost"),
		}, true, nil
	}
	return nil, false, nil
}

func (l *MemoryLog) Import(ctx context.Context, executionID string, events []*Event) error {
	if err := checkDense(events); err != nil {
		return err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if hist, ok := l.executions[executionID]; ok && len(hist.events) > 0 {
		return fmt.Errorf("%w: execution %s already has events", ErrDuplicateSequence, executionID)
	}
	hist := &memoryHistory{events: append([]*Event(nil), events...)}
	for _, ev := range events {
		if IsTerminal(ev.Type) {
			hist.terminal = true
		}
	}
	l.executions[executionID] = hist
	return nil
}

func (l *MemoryLog) SetRetention(ctx context.Context, executionID string, ttl time.Duration) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if hist, ok := l.executions[executionID]; ok {
		hist.expires = time.Now().Add(ttl)
	}
	return nil
}

// Sweep removes executions whose retention expired. The memory log has no
// background expiry; callers decide when to sweep.
func (l *MemoryLog) Sweep(now time.Time) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	removed := 0
	for id, hist := range l.executions {
		if !hist.expires.IsZero() && hist.expires.Before(now) {
			delete(l.executions, id)
			removed++
		}
	}
	return removed
}
