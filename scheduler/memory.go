package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	oao "github.com/yashsham/open-agent-orchestrator"
)

// MemoryQueue is an in-process queue for tests and single-machine use. It
// implements the same claim affinity and dead-worker recovery semantics as
// the Redis queue.
type MemoryQueue struct {
	mutex      sync.Mutex
	pending    []*Job
	inflight   map[string]map[string]*Job // worker id -> job id -> job
	owners     map[string]string          // execution id -> worker id
	heartbeats map[string]time.Time
	results    map[string]*oao.ExecutionReport
	timeout    time.Duration
	now        func() time.Time
}

// NewMemoryQueue creates a queue that considers a worker dead once its
// heartbeat is older than workerTimeout.
func NewMemoryQueue(workerTimeout time.Duration) *MemoryQueue {
	return &MemoryQueue{
		inflight:   make(map[string]map[string]*Job),
		owners:     make(map[string]string),
		heartbeats: make(map[string]time.Time),
		results:    make(map[string]*oao.ExecutionReport),
		timeout:    workerTimeout,
		now:        time.Now,
	}
}

// SetClock injects a clock for tests.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.now = now
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	if job == nil || job.JobID == "" {
		return fmt.Errorf("job with id is required")
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.pending = append(q.pending, job)
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, workerID string) (*Job, bool, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.heartbeats[workerID] = q.now()

	for i, job := range q.pending {
		owner, held := q.owners[job.ExecutionID]
		if held && owner != workerID && q.workerAlive(owner) {
			// Another live worker holds this execution; leave the job for
			// later rather than violating single-owner affinity.
			continue
		}

		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		if q.inflight[workerID] == nil {
			q.inflight[workerID] = make(map[string]*Job)
		}
		q.inflight[workerID][job.JobID] = job
		q.owners[job.ExecutionID] = workerID
		return job, true, nil
	}
	return nil, false, nil
}

func (q *MemoryQueue) workerAlive(workerID string) bool {
	hb, ok := q.heartbeats[workerID]
	if !ok {
		return false
	}
	return q.now().Sub(hb) <= q.timeout
}

func (q *MemoryQueue) Ack(ctx context.Context, workerID, jobID string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	jobs, ok := q.inflight[workerID]
	if !ok {
		return fmt.Errorf("worker %s has no in-flight jobs", workerID)
	}
	job, ok := jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s is not in-flight for worker %s", jobID, workerID)
	}
	delete(jobs, jobID)
	delete(q.owners, job.ExecutionID)
	return nil
}

func (q *MemoryQueue) Heartbeat(ctx context.Context, workerID string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.heartbeats[workerID] = q.now()
	return nil
}

func (q *MemoryQueue) Recover(ctx context.Context) ([]*Job, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var requeued []*Job
	for workerID, jobs := range q.inflight {
		if q.workerAlive(workerID) {
			continue
		}
		for _, job := range jobs {
			job.Attempt++
			q.pending = append(q.pending, job)
			delete(q.owners, job.ExecutionID)
			requeued = append(requeued, job)
		}
		delete(q.inflight, workerID)
		delete(q.heartbeats, workerID)
	}
	return requeued, nil
}

func (q *MemoryQueue) StoreResult(ctx context.Context, jobID string, report *oao.ExecutionReport) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.results[jobID] = report
	return nil
}

func (q *MemoryQueue) FetchResult(ctx context.Context, jobID string) (*oao.ExecutionReport, bool, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	report, ok := q.results[jobID]
	return report, ok, nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return int64(len(q.pending)), nil
}
