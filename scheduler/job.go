// Package scheduler provides the distributed job queue that fans executions
// out to workers: atomic claiming with per-execution affinity, heartbeat
// based liveness, and dead-worker requeueing. Delivery is at-least-once;
// re-delivery is safe because executions are re-entrant through the event
// log.
package scheduler

import (
	"time"

	oao "github.com/yashsham/open-agent-orchestrator"
)

// Job is one unit of scheduled work, keyed by the execution it drives.
type Job struct {
	JobID       string         `json:"job_id"`
	ExecutionID string         `json:"execution_id"`
	Payload     map[string]any `json:"payload"`

	// Attempt counts deliveries. It starts at 1 and is incremented each
	// time a dead worker's claim is returned to the pending queue.
	Attempt int `json:"attempt"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob creates a job for an execution.
func NewJob(executionID string, payload map[string]any) *Job {
	return &Job{
		JobID:       oao.NewJobID(),
		ExecutionID: executionID,
		Payload:     payload,
		Attempt:     1,
		EnqueuedAt:  time.Now(),
	}
}
