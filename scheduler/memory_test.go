package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	oao "github.com/yashsham/open-agent-orchestrator"
)

func TestMemoryQueueClaimAndAck(t *testing.T) {
	queue := NewMemoryQueue(30 * time.Second)
	ctx := context.Background()

	job := NewJob("exec-1", map[string]any{"task": "t"})
	require.NoError(t, queue.Enqueue(ctx, job))

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	claimed, ok, err := queue.Claim(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.JobID, claimed.JobID)

	depth, err = queue.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)

	require.NoError(t, queue.Ack(ctx, "w1", job.JobID))
	require.Error(t, queue.Ack(ctx, "w1", job.JobID), "double ack")
}

func TestMemoryQueueClaimReturnsNoneWhenEmpty(t *testing.T) {
	queue := NewMemoryQueue(30 * time.Second)
	_, ok, err := queue.Claim(context.Background(), "w1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryQueueExecutionAffinity(t *testing.T) {
	queue := NewMemoryQueue(30 * time.Second)
	ctx := context.Background()

	first := NewJob("exec-1", nil)
	second := NewJob("exec-1", nil)
	require.NoError(t, queue.Enqueue(ctx, first))
	require.NoError(t, queue.Enqueue(ctx, second))

	_, ok, err := queue.Claim(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	// w2 may not claim work for an execution w1 still holds.
	_, ok, err = queue.Claim(ctx, "w2")
	require.NoError(t, err)
	require.False(t, ok)

	// The same worker may pick up the second job for its execution.
	claimed, ok, err := queue.Claim(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second.JobID, claimed.JobID)
}

func TestMemoryQueueRecoverRequeuesDeadWorkerJobs(t *testing.T) {
	queue := NewMemoryQueue(30 * time.Second)
	ctx := context.Background()

	now := time.Now()
	queue.SetClock(func() time.Time { return now })

	job := NewJob("exec-1", nil)
	require.NoError(t, queue.Enqueue(ctx, job))

	_, ok, err := queue.Claim(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	// While the heartbeat is fresh nothing is requeued.
	requeued, err := queue.Recover(ctx)
	require.NoError(t, err)
	require.Empty(t, requeued)

	// The worker dies: its heartbeat ages past the timeout.
	now = now.Add(time.Minute)
	requeued, err = queue.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	require.Equal(t, job.JobID, requeued[0].JobID)
	require.Equal(t, 2, requeued[0].Attempt)

	// The job is claimable again, by a different worker.
	claimed, ok, err := queue.Claim(ctx, "w2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.JobID, claimed.JobID)
}

// Scheduler conservation: every enqueued job is either acked or reappears on
// the pending queue after one worker timeout.
func TestMemoryQueueConservation(t *testing.T) {
	queue := NewMemoryQueue(30 * time.Second)
	ctx := context.Background()

	now := time.Now()
	queue.SetClock(func() time.Time { return now })

	jobs := make(map[string]*Job)
	for i := 0; i < 10; i++ {
		job := NewJob(oao.NewExecutionID(), nil)
		jobs[job.JobID] = job
		require.NoError(t, queue.Enqueue(ctx, job))
	}

	// Two workers claim everything; w1 acks its jobs, w2 crashes.
	acked := make(map[string]bool)
	for {
		job, ok, err := queue.Claim(ctx, "w1")
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NoError(t, queue.Ack(ctx, "w1", job.JobID))
		acked[job.JobID] = true
		if len(acked) == 5 {
			break
		}
	}
	for {
		_, ok, err := queue.Claim(ctx, "w2")
		require.NoError(t, err)
		if !ok {
			break
		}
	}

	// w2 never heartbeats again.
	now = now.Add(time.Minute)
	_, err := queue.Recover(ctx)
	require.NoError(t, err)

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(len(jobs)-len(acked)), depth)
}

func TestMemoryQueueResults(t *testing.T) {
	queue := NewMemoryQueue(30 * time.Second)
	ctx := context.Background()

	_, found, err := queue.FetchResult(ctx, "job-x")
	require.NoError(t, err)
	require.False(t, found)

	report := &oao.ExecutionReport{ExecutionID: "exec-1", Status: oao.StatusSuccess}
	require.NoError(t, queue.StoreResult(ctx, "job-x", report))

	got, found, err := queue.FetchResult(ctx, "job-x")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, oao.StatusSuccess, got.Status)
}
