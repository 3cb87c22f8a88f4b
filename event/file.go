package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// FileLog is a file-backed event log storing one JSON Lines file per
// execution. It is suitable for single-process deployments and for keeping
// an auditable on-disk history without a Redis dependency.
type FileLog struct {
	basePath  string
	mutex     sync.RWMutex
	tails     map[string]*fileTail
	retention map[string]time.Duration
}

type fileTail struct {
	next     int64
	terminal bool
}

// NewFileLog creates a file-backed event log rooted at basePath.
func NewFileLog(basePath string) *FileLog {
	return &FileLog{
		basePath:  basePath,
		tails:     make(map[string]*fileTail),
		retention: make(map[string]time.Duration),
	}
}

func (l *FileLog) eventsPath(executionID string) string {
	return filepath.Join(l.basePath, executionID, "events.jsonl")
}

// loadTail reads the on-disk history once to learn the next sequence and
// whether a terminal event exists. Subsequent appends track it in memory.
func (l *FileLog) loadTail(executionID string) (*fileTail, error) {
	if tail, ok := l.tails[executionID]; ok {
		return tail, nil
	}
	tail := &fileTail{}
	events, err := l.readAll(executionID)
	if err != nil {
		return nil, err
	}
	tail.next = int64(len(events))
	for _, ev := range events {
		if IsTerminal(ev.Type) {
			tail.terminal = true
		}
	}
	l.tails[executionID] = tail
	return tail, nil
}

func (l *FileLog) readAll(executionID string) ([]*Event, error) {
	file, err := os.Open(l.eventsPath(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}
	return events, nil
}

func (l *FileLog) Append(ctx context.Context, executionID string, draft Draft) (*Event, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	tail, err := l.loadTail(executionID)
	if err != nil {
		return nil, err
	}
	if tail.terminal {
		return nil, ErrTerminalRecorded
	}

	ev, err := materialize(executionID, tail.next, draft, time.Now())
	if err != nil {
		return nil, err
	}

	execDir := filepath.Join(l.basePath, executionID)
	if err := os.MkdirAll(execDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create execution directory: %w", err)
	}
	file, err := os.OpenFile(l.eventsPath(executionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(ev); err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	tail.next++
	if IsTerminal(ev.Type) {
		tail.terminal = true
	}
	return ev, nil
}

func (l *FileLog) Read(ctx context.Context, executionID string, fromSeq int64) ([]*Event, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	all, err := l.readAll(executionID)
	if err != nil {
		return nil, err
	}
	var out []*Event
	for _, ev := range all {
		if ev.Sequence >= fromSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *FileLog) LookupToolSuccess(ctx context.Context, executionID, argHash string) (*ToolCallRecord, bool, error) {
	events, err := l.Read(ctx, executionID, 0)
	if err != nil {
		return nil, false, err
	}
	for _, ev := range events {
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

func (l *FileLog) Import(ctx context.Context, executionID string, events []*Event) error {
	if err := checkDense(events); err != nil {
		return err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	tail, err := l.loadTail(executionID)
	if err != nil {
		return err
	}
	if tail.next > 0 {
		return fmt.Errorf("%w: execution %s already has events", ErrDuplicateSequence, executionID)
	}

	execDir := filepath.Join(l.basePath, executionID)
	if err := os.MkdirAll(execDir, 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}
	file, err := os.OpenFile(l.eventsPath(executionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open events file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, ev := range events {
		if err := encoder.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		tail.next++
		if IsTerminal(ev.Type) {
			tail.terminal = true
		}
	}
	return nil
}

func (l *FileLog) SetRetention(ctx context.Context, executionID string, ttl time.Duration) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.retention[executionID] = ttl
	return nil
}

// Sweep deletes execution directories whose events file has not been
// modified within the execution's retention window. Returns the ids removed.
func (l *FileLog) Sweep(now time.Time) ([]string, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	matches, err := doublestar.FilepathGlob(filepath.Join(l.basePath, "**", "events.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("retention sweep failed: %w", err)
	}

	var removed []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		executionID := filepath.Base(filepath.Dir(match))
		ttl, ok := l.retention[executionID]
		if !ok {
			ttl = DefaultRetention
		}
		if now.Sub(info.ModTime()) <= ttl {
			continue
		}
		if err := os.RemoveAll(filepath.Dir(match)); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", executionID, err)
		}
		delete(l.tails, executionID)
		delete(l.retention, executionID)
		removed = append(removed, executionID)
	}
	return removed, nil
}
