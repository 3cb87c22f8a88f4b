package scheduler

import (
	"context"
	"time"

	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/slogger"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// RecovererOptions configures the dead-worker recovery loop.
type RecovererOptions struct {
	Queue Queue

	// Interval between recovery sweeps. Defaults to ten seconds.
	Interval time.Duration

	Bus     *event.Bus
	Logger  slogger.Logger
	Metrics *telemetry.Metrics
}

// Recoverer periodically returns the claims of dead workers to the pending
// queue. Any scheduler process can run one; the per-worker move is atomic,
// so concurrent recoverers do not double-requeue.
type Recoverer struct {
	queue    Queue
	interval time.Duration
	bus      *event.Bus
	logger   slogger.Logger
	metrics  *telemetry.Metrics
}

// NewRecoverer creates a recovery loop.
func NewRecoverer(opts RecovererOptions) *Recoverer {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NoopMetrics()
	}
	return &Recoverer{
		queue:    opts.Queue,
		interval: opts.Interval,
		bus:      opts.Bus,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Start runs recovery sweeps until the context is cancelled.
func (r *Recoverer) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one recovery pass and publishes a retry notification for
// every requeued job.
func (r *Recoverer) Sweep(ctx context.Context) {
	requeued, err := r.queue.Recover(ctx)
	if err != nil {
		r.logger.Error("recovery sweep failed", "error", err)
		return
	}
	for _, job := range requeued {
		r.metrics.RetryAttempted()
		r.logger.Warn("requeued job from dead worker",
			"job_id", job.JobID,
			"execution_id", job.ExecutionID,
			"attempt", job.Attempt)
		// Bus-only observability event: it is not part of the execution's
		// log, so it carries no sequence.
		r.bus.Publish(&event.Event{
			ID:          oao.NewEventID(),
			ExecutionID: job.ExecutionID,
			Sequence:    -1,
			Type:        event.TypeRetryAttempted,
			Timestamp:   time.Now(),
			Payload: map[string]any{
				"attempt": job.Attempt,
				"reason":  "worker heartbeat expired",
			},
		})
	}

	if depth, err := r.queue.Depth(ctx); err == nil {
		r.metrics.SetQueueDepth(depth)
	}
}
