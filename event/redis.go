package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const eventsKeyPrefix = "oao:events:"

// maxAppendRetries bounds the optimistic-concurrency retry loop around the
// WATCH/MULTI append transaction.
const maxAppendRetries = 3

// RedisLog is a Redis-backed event log. Events are stored in a sorted set
// per execution, scored by sequence, so range reads come back in order.
// Append serialization uses WATCH on the events key: a racing append fails
// the transaction and is retried against the new tail.
type RedisLog struct {
	client    redis.UniversalClient
	mutex     sync.RWMutex
	retention map[string]time.Duration
	defRet    time.Duration
}

// NewRedisLog creates an event log backed by the given Redis client.
func NewRedisLog(client redis.UniversalClient) *RedisLog {
	return &RedisLog{
		client:    client,
		retention: make(map[string]time.Duration),
		defRet:    DefaultRetention,
	}
}

func eventsKey(executionID string) string {
	return eventsKeyPrefix + executionID
}

func (l *RedisLog) retentionFor(executionID string) time.Duration {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if ttl, ok := l.retention[executionID]; ok {
		return ttl
	}
	return l.defRet
}

func (l *RedisLog) Append(ctx context.Context, executionID string, draft Draft) (*Event, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	key := eventsKey(executionID)

	var appended *Event
	txf := func(tx *redis.Tx) error {
		count, err := tx.ZCard(ctx, key).Result()
		if err != nil {
			return err
		}
		if count > 0 {
			last, err := tx.ZRange(ctx, key, -1, -1).Result()
			if err != nil {
				return err
			}
			if len(last) > 0 {
				var tail Event
				if err := json.Unmarshal([]byte(last[0]), &tail); err != nil {
					return fmt.Errorf("corrupt tail event: %w", err)
				}
				if IsTerminal(tail.Type) {
					return ErrTerminalRecorded
				}
			}
		}

		ev, err := materialize(executionID, count, draft, time.Now())
		if err != nil {
			return err
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(ev.Sequence), Member: string(data)})
			// Re-extend retention on every append so long-running
			// executions never expire mid-flight.
			pipe.Expire(ctx, key, l.retentionFor(executionID))
			return nil
		})
		if err != nil {
			return err
		}
		appended = ev
		return nil
	}

	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		err := l.client.Watch(ctx, txf, key)
		if err == nil {
			return appended, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return nil, err
	}
	return nil, ErrDuplicateSequence
}

func (l *RedisLog) Read(ctx context.Context, executionID string, fromSeq int64) ([]*Event, error) {
	members, err := l.client.ZRangeByScore(ctx, eventsKey(executionID), &redis.ZRangeBy{
		Min: strconv.FormatInt(fromSeq, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	events := make([]*Event, 0, len(members))
	for _, member := range members {
		var ev Event
		if err := json.Unmarshal([]byte(member), &ev); err != nil {
			return nil, fmt.Errorf("corrupt event in %s: %w", executionID, err)
		}
		events = append(events, &ev)
	}
	return events, nil
}

func (l *RedisLog) LookupToolSuccess(ctx context.Context, executionID, argHash string) (*ToolCallRecord, bool, error) {
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

func (l *RedisLog) Import(ctx context.Context, executionID string, events []*Event) error {
	if err := checkDense(events); err != nil {
		return err
	}
	key := eventsKey(executionID)

	txf := func(tx *redis.Tx) error {
		count, err := tx.ZCard(ctx, key).Result()
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: execution %s already has events", ErrDuplicateSequence, executionID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, ev := range events {
				data, err := json.Marshal(ev)
				if err != nil {
					return fmt.Errorf("failed to marshal event: %w", err)
				}
				pipe.ZAdd(ctx, key, redis.Z{Score: float64(ev.Sequence), Member: string(data)})
			}
			pipe.Expire(ctx, key, l.retentionFor(executionID))
			return nil
		})
		return err
	}

	err := l.client.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		return ErrDuplicateSequence
	}
	return err
}

func (l *RedisLog) SetRetention(ctx context.Context, executionID string, ttl time.Duration) error {
	l.mutex.Lock()
	l.retention[executionID] = ttl
	l.mutex.Unlock()

	return l.client.Expire(ctx, eventsKey(executionID), ttl).Err()
}
