package scheduler

import (
	"context"

	oao "github.com/yashsham/open-agent-orchestrator"
)

// Queue is the scheduler's persistent job queue.
//
// Guarantees: a claim atomically moves a job from pending to the claiming
// worker's in-flight list, so no job is ever lost between the two; at most
// one worker holds jobs for a given execution id at any time (claim
// affinity); and jobs claimed by a worker whose heartbeat lapses are
// eventually returned to the pending queue by Recover.
type Queue interface {
	// Enqueue pushes a job onto the pending queue.
	Enqueue(ctx context.Context, job *Job) error

	// Claim atomically moves one pending job to the worker's in-flight
	// list and returns it. Returns false when no claimable work exists.
	// Claiming also refreshes the worker's heartbeat.
	Claim(ctx context.Context, workerID string) (*Job, bool, error)

	// Ack removes a finished job from the worker's in-flight list.
	Ack(ctx context.Context, workerID, jobID string) error

	// Heartbeat refreshes the worker's liveness key.
	Heartbeat(ctx context.Context, workerID string) error

	// Recover returns every job claimed by a worker whose heartbeat has
	// expired back to the pending queue, incrementing each job's attempt.
	// The move is atomic per worker. Returns the requeued jobs.
	Recover(ctx context.Context) ([]*Job, error)

	// StoreResult persists the terminal report of a job.
	StoreResult(ctx context.Context, jobID string, report *oao.ExecutionReport) error

	// FetchResult returns the stored report of a job, if any.
	FetchResult(ctx context.Context, jobID string) (*oao.ExecutionReport, bool, error)

	// Depth returns the number of pending jobs.
	Depth(ctx context.Context) (int64, error)
}
