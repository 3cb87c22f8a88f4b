package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/yashsham/open-agent-orchestrator/slogger"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// Handler executes one claimed job and returns its terminal report.
// Governed failures are reports with FAILED status, not errors; a returned
// error means the handler could not run the job at all.
type Handler func(ctx context.Context, job *Job) (*oao.ExecutionReport, error)

// WorkerOptions configures a worker.
type WorkerOptions struct {
	ID      string
	Queue   Queue
	Handler Handler

	// PollInterval is how long to wait after an empty claim. Defaults to
	// one second.
	PollInterval time.Duration

	// HeartbeatInterval defaults to five seconds and must be well under
	// the queue's worker timeout.
	HeartbeatInterval time.Duration

	Logger  slogger.Logger
	Metrics *telemetry.Metrics
}

// Worker claims jobs from the queue and runs them. One worker processes one
// job at a time; scale out by running more workers.
type Worker struct {
	id        string
	queue     Queue
	handler   Handler
	poll      time.Duration
	heartbeat time.Duration
	logger    slogger.Logger
	metrics   *telemetry.Metrics

	stop chan struct{}
}

// NewWorker creates a worker.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if opts.ID == "" {
		opts.ID = oao.NewWorkerID()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NoopMetrics()
	}
	return &Worker{
		id:        opts.ID,
		queue:     opts.Queue,
		handler:   opts.Handler,
		poll:      opts.PollInterval,
		heartbeat: opts.HeartbeatInterval,
		logger:    opts.Logger.With("worker_id", opts.ID),
		metrics:   opts.Metrics,
		stop:      make(chan struct{}),
	}, nil
}

// ID returns the worker's id.
func (w *Worker) ID() string { return w.id }

// Stop asks the worker to exit after the current job. Safe to call once.
func (w *Worker) Stop() {
	close(w.stop)
}

// Start runs the claim loop until the context is cancelled or Stop is
// called. The in-flight job, if any, is finished before returning so its
// ack or recovery path stays unambiguous.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting")

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHeartbeat()
	go w.heartbeatLoop(heartbeatCtx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping", "reason", "context cancelled")
			return ctx.Err()
		case <-w.stop:
			w.logger.Info("worker stopping", "reason", "stop requested")
			return nil
		default:
		}

		job, ok, err := w.queue.Claim(ctx, w.id)
		if err != nil {
			w.logger.Error("claim failed", "error", err)
			if serr := sleepCtx(ctx, w.poll); serr != nil {
				return serr
			}
			continue
		}
		if !ok {
			if serr := sleepCtx(ctx, w.poll); serr != nil {
				return serr
			}
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	logger := w.logger.With("job_id", job.JobID, "execution_id", job.ExecutionID, "attempt", job.Attempt)
	logger.Info("processing job")

	report, err := w.handler(ctx, job)
	if err != nil {
		// The handler could not run the job. Record a failed result so
		// callers are not left waiting, and ack: re-delivery would hit the
		// same condition, while a crashed worker is handled by Recover.
		logger.Error("job handler failed", "error", err)
		report = &oao.ExecutionReport{
			ExecutionID: job.ExecutionID,
			Status:      oao.StatusFailed,
			Failure:     oao.FailureFromError(err),
			Timestamp:   time.Now(),
		}
	}

	if err := w.queue.StoreResult(ctx, job.JobID, report); err != nil {
		logger.Error("failed to store result", "error", err)
	}
	if err := w.queue.Ack(ctx, w.id, job.JobID); err != nil {
		logger.Error("failed to ack job", "error", err)
		return
	}
	logger.Info("job finished", "status", report.Status)
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(ctx, w.id); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
