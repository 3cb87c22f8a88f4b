package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSnapshotNotFound is returned when no snapshot exists for an id.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotConflict is returned when a snapshot already exists for
	// the id with a different execution hash.
	ErrSnapshotConflict = errors.New("snapshot already exists with a different hash")
)

// SnapshotStore persists the immutable execution snapshots. Put is
// idempotent for an identical hash, which makes re-submission of the same
// execution safe; a differing hash is a conflict.
type SnapshotStore interface {
	Put(ctx context.Context, snapshot *Snapshot) error
	Get(ctx context.Context, executionID string) (*Snapshot, error)
}

// MemorySnapshotStore is an in-memory snapshot store for tests and
// single-process use.
type MemorySnapshotStore struct {
	mutex     sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]*Snapshot)}
}

func (s *MemorySnapshotStore) Put(ctx context.Context, snapshot *Snapshot) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, ok := s.snapshots[snapshot.ExecutionID]; ok {
		if existing.ExecutionHash != snapshot.ExecutionHash {
			return fmt.Errorf("%w: execution %s", ErrSnapshotConflict, snapshot.ExecutionID)
		}
		return nil
	}
	s.snapshots[snapshot.ExecutionID] = snapshot
	return nil
}

func (s *MemorySnapshotStore) Get(ctx context.Context, executionID string) (*Snapshot, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snapshot, ok := s.snapshots[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", ErrSnapshotNotFound, executionID)
	}
	return snapshot, nil
}

const snapshotKeyPrefix = "oao:snapshot:"

// RedisSnapshotStore stores snapshots as JSON values keyed by execution id.
type RedisSnapshotStore struct {
	client redis.UniversalClient
}

// NewRedisSnapshotStore creates a snapshot store backed by the given client.
func NewRedisSnapshotStore(client redis.UniversalClient) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client}
}

func snapshotKey(executionID string) string {
	return snapshotKeyPrefix + executionID
}

func (s *RedisSnapshotStore) Put(ctx context.Context, snapshot *Snapshot) error {
	key := snapshotKey(snapshot.ExecutionID)

	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var stored Snapshot
			if err := json.Unmarshal([]byte(existing), &stored); err != nil {
				return fmt.Errorf("corrupt snapshot for %s: %w", snapshot.ExecutionID, err)
			}
			if stored.ExecutionHash != snapshot.ExecutionHash {
				return fmt.Errorf("%w: execution %s", ErrSnapshotConflict, snapshot.ExecutionID)
			}
			return nil
		}

		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(data), 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		// A concurrent writer won the race; re-check against what landed.
		return s.Put(ctx, snapshot)
	}
	return err
}

func (s *RedisSnapshotStore) Get(ctx context.Context, executionID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey(executionID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: execution %s", ErrSnapshotNotFound, executionID)
	}
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("corrupt snapshot for %s: %w", executionID, err)
	}
	return &snapshot, nil
}
