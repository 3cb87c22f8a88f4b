package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	oao "github.com/yashsham/open-agent-orchestrator"
)

const (
	pendingKey        = "oao:q:pending"
	inflightKeyPrefix = "oao:q:inflight:"
	ownerKeyPrefix    = "oao:q:owner:"
	heartbeatPrefix   = "oao:hb:"
	resultKeyPrefix   = "oao:q:result:"

	resultTTL = time.Hour
)

// RedisQueue is the production queue: pending jobs in a list, per-worker
// in-flight lists populated by atomic LMOVE, heartbeat keys with a TTL equal
// to the worker timeout, and an owner key per execution id enforcing
// single-worker affinity.
type RedisQueue struct {
	client       redis.UniversalClient
	timeout      time.Duration
	claimTimeout time.Duration
}

// NewRedisQueue creates a queue on the given client. workerTimeout is both
// the heartbeat TTL and the liveness horizon used by Recover.
func NewRedisQueue(client redis.UniversalClient, workerTimeout time.Duration) *RedisQueue {
	return &RedisQueue{
		client:       client,
		timeout:      workerTimeout,
		claimTimeout: time.Second,
	}
}

func inflightKey(workerID string) string { return inflightKeyPrefix + workerID }
func ownerKey(executionID string) string { return ownerKeyPrefix + executionID }
func heartbeatKey(workerID string) string {
	return heartbeatPrefix + workerID
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.client.RPush(ctx, pendingKey, string(data)).Err()
}

func (q *RedisQueue) Claim(ctx context.Context, workerID string) (*Job, bool, error) {
	if err := q.Heartbeat(ctx, workerID); err != nil {
		return nil, false, err
	}

	// Atomic pop-push: the job is never outside a list, so a crash between
	// here and Ack leaves it recoverable from the in-flight list.
	member, err := q.client.BLMove(ctx, pendingKey, inflightKey(workerID), "LEFT", "RIGHT", q.claimTimeout).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var job Job
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		return nil, false, fmt.Errorf("corrupt job on queue: %w", err)
	}

	// Affinity: only one worker may hold a given execution at a time.
	acquired, err := q.client.SetNX(ctx, ownerKey(job.ExecutionID), workerID, 0).Result()
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		owner, err := q.client.Get(ctx, ownerKey(job.ExecutionID)).Result()
		if err != nil && err != redis.Nil {
			return nil, false, err
		}
		if owner != workerID {
			// Hand the job back and report no work; the current owner
			// finishes or times out first.
			pipe := q.client.TxPipeline()
			pipe.LRem(ctx, inflightKey(workerID), 1, member)
			pipe.RPush(ctx, pendingKey, member)
			if _, err := pipe.Exec(ctx); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}
	}

	return &job, true, nil
}

func (q *RedisQueue) Ack(ctx context.Context, workerID, jobID string) error {
	members, err := q.client.LRange(ctx, inflightKey(workerID), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, member := range members {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			continue
		}
		if job.JobID != jobID {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, inflightKey(workerID), 1, member)
		pipe.Del(ctx, ownerKey(job.ExecutionID))
		_, err := pipe.Exec(ctx)
		return err
	}
	return fmt.Errorf("job %s is not in-flight for worker %s", jobID, workerID)
}

func (q *RedisQueue) Heartbeat(ctx context.Context, workerID string) error {
	return q.client.Set(ctx, heartbeatKey(workerID), time.Now().Format(time.RFC3339Nano), q.timeout).Err()
}

func (q *RedisQueue) Recover(ctx context.Context) ([]*Job, error) {
	var requeued []*Job

	iter := q.client.Scan(ctx, 0, inflightKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		workerID := strings.TrimPrefix(key, inflightKeyPrefix)

		alive, err := q.client.Exists(ctx, heartbeatKey(workerID)).Result()
		if err != nil {
			return requeued, err
		}
		if alive > 0 {
			continue
		}

		jobs, err := q.recoverWorker(ctx, workerID)
		if err != nil {
			return requeued, err
		}
		requeued = append(requeued, jobs...)
	}
	if err := iter.Err(); err != nil {
		return requeued, err
	}
	return requeued, nil
}

// recoverWorker atomically moves a dead worker's in-flight jobs back to the
// pending queue. The WATCH makes the whole move first-writer-wins if two
// recoverers race.
func (q *RedisQueue) recoverWorker(ctx context.Context, workerID string) ([]*Job, error) {
	key := inflightKey(workerID)
	var requeued []*Job

	txf := func(tx *redis.Tx) error {
		members, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}

		jobs := make([]*Job, 0, len(members))
		for _, member := range members {
			var job Job
			if err := json.Unmarshal([]byte(member), &job); err != nil {
				return fmt.Errorf("corrupt job in %s: %w", key, err)
			}
			job.Attempt++
			jobs = append(jobs, &job)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			for _, job := range jobs {
				data, err := json.Marshal(job)
				if err != nil {
					return err
				}
				pipe.RPush(ctx, pendingKey, string(data))
				pipe.Del(ctx, ownerKey(job.ExecutionID))
			}
			return nil
		})
		if err != nil {
			return err
		}
		requeued = jobs
		return nil
	}

	err := q.client.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		// Another recoverer got there first.
		return nil, nil
	}
	return requeued, err
}

func (q *RedisQueue) StoreResult(ctx context.Context, jobID string, report *oao.ExecutionReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return q.client.Set(ctx, resultKeyPrefix+jobID, string(data), resultTTL).Err()
}

func (q *RedisQueue) FetchResult(ctx context.Context, jobID string) (*oao.ExecutionReport, bool, error) {
	data, err := q.client.Get(ctx, resultKeyPrefix+jobID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var report oao.ExecutionReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, false, fmt.Errorf("corrupt report for job %s: %w", jobID, err)
	}
	return &report, true, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, pendingKey).Result()
}
