package execution

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/policy"
	"github.com/yashsham/open-agent-orchestrator/slogger"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// Options configures a new Engine.
type Options struct {
	Snapshot  *Snapshot
	Adapter   oao.AgentAdapter
	Tools     *oao.ToolRegistry
	Log       event.Log
	Snapshots SnapshotStore
	Policy    *policy.Engine

	// DependencyOutputs carries upstream node outputs when the execution
	// runs as part of a task graph.
	DependencyOutputs map[string]string

	// EventRetention, when positive, sets the log retention for this
	// execution at start.
	EventRetention time.Duration

	Bus     *event.Bus
	Logger  slogger.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	Clock   func() time.Time
}

// Engine drives one execution through its lifecycle. It is single-threaded:
// one engine instance runs one execution, and the scheduler's job affinity
// guarantees no two engines hold the same execution id concurrently.
//
// The engine never reads the event log mid-run for state. Its in-memory
// state is updated by folding each event immediately after its append
// succeeds, which keeps it consistent with the log by construction.
type Engine struct {
	snapshot  *Snapshot
	adapter   oao.AgentAdapter
	tools     *oao.ToolRegistry
	log       event.Log
	snapshots SnapshotStore
	policy    *policy.Engine
	deps      map[string]string
	retention time.Duration

	bus     *event.Bus
	logger  slogger.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	machine   *StateMachine
	state     *event.State
	cancelled atomic.Bool
}

// New creates an engine for the given snapshot.
func New(opts Options) (*Engine, error) {
	if opts.Snapshot == nil {
		return nil, fmt.Errorf("snapshot is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if opts.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NoopTracer()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Policy == nil {
		var err error
		opts.Policy, err = policy.New(opts.Snapshot.PolicyConfig)
		if err != nil {
			return nil, err
		}
	}
	if opts.Tools == nil {
		var err error
		opts.Tools, err = oao.NewToolRegistry()
		if err != nil {
			return nil, err
		}
	}

	e := &Engine{
		snapshot:  opts.Snapshot,
		adapter:   opts.Adapter,
		tools:     opts.Tools,
		log:       opts.Log,
		snapshots: opts.Snapshots,
		policy:    opts.Policy,
		deps:      opts.DependencyOutputs,
		retention: opts.EventRetention,
		bus:       opts.Bus,
		logger:    opts.Logger.With("execution_id", opts.Snapshot.ExecutionID),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		now:       opts.Clock,
		machine:   NewStateMachine(),
		state:     event.NewState(opts.Snapshot.ExecutionID),
	}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}
	return e, nil
}

// Cancel sets the cancellation flag. The engine observes it at the next
// pre-step or pre-tool check; an in-flight tool call is allowed to complete
// so the log stays consistent with external side effects.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// State returns the engine's derived state. Exposed for inspection; the
// authoritative history is always the event log.
func (e *Engine) State() *event.State {
	return e.state
}

// Run drives the execution to a terminal event and returns the report.
// Governed failures of any kind return a FAILED report with a structured
// cause and a nil error; a non-nil error means the runtime itself failed,
// for example because the event log became unreachable.
func (e *Engine) Run(ctx context.Context) (*oao.ExecutionReport, error) {
	start := e.now()

	ctx, span := e.tracer.StartExecution(ctx, e.snapshot.ExecutionID, e.snapshot.AgentName)
	defer span.End()

	e.metrics.ExecutionStarted()
	defer e.metrics.ExecutionEnded()

	if e.snapshots != nil {
		if err := e.snapshots.Put(ctx, e.snapshot); err != nil {
			return nil, fmt.Errorf("failed to store snapshot: %w", err)
		}
	}

	if timeout := e.policy.Config().ExecutionTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resuming := !e.state.StartedAt.IsZero()
	if !resuming {
		if _, err := e.append(ctx, nil, &event.ExecutionStartedData{
			Task:          e.snapshot.Task,
			AgentName:     e.snapshot.AgentName,
			ExecutionHash: e.snapshot.ExecutionHash,
		}); err != nil {
			return nil, err
		}
		if e.retention > 0 {
			if err := e.log.SetRetention(ctx, e.snapshot.ExecutionID, e.retention); err != nil {
				e.logger.Warn("failed to set event retention", "error", err)
			}
		}
		e.logger.Info("execution started",
			"agent", e.snapshot.AgentName,
			"execution_hash", e.snapshot.ExecutionHash)
	} else {
		e.logger.Info("execution resumed",
			"completed_steps", e.state.Steps,
			"next_step", e.state.NextStep())
	}

	return e.loop(ctx, start)
}

func (e *Engine) loop(ctx context.Context, start time.Time) (*oao.ExecutionReport, error) {
	for {
		if e.cancelled.Load() {
			return e.fail(ctx, start, &oao.Failure{Kind: oao.FailureCancelled, Detail: oao.ErrCancelled.Error()})
		}
		select {
		case <-ctx.Done():
			return e.fail(ctx, start, deadlineFailure(ctx.Err()))
		default:
		}

		if v := e.policy.Validate(e.state, e.now()); v != nil {
			return e.policyStop(ctx, start, v)
		}

		step := e.state.NextStep()
		resumingOpenStep := e.state.OpenStep != nil

		if !resumingOpenStep {
			if err := e.enterPlan(); err != nil {
				e.logger.Error("lifecycle defect", "error", err)
				return e.fail(ctx, start, &oao.Failure{Kind: oao.FailureInternal, Detail: err.Error()})
			}
			if _, err := e.append(ctx, nil, &event.StateEnterData{State: string(StatePlan)}); err != nil {
				return nil, err
			}
			if _, err := e.append(ctx, &step, &event.StepStartedData{}); err != nil {
				return nil, err
			}
		}

		if err := e.machine.Transition(StateExecute); err != nil {
			return e.fail(ctx, start, &oao.Failure{Kind: oao.FailureInternal, Detail: err.Error()})
		}

		stepStart := e.now()
		stepCtx, stepSpan := e.tracer.StartStep(ctx, e.snapshot.ExecutionID, step)
		result, err := e.invokeWithRetry(stepCtx, step)
		stepSpan.End()
		if err != nil {
			var pv *oao.PolicyViolationError
			if errors.As(err, &pv) {
				return e.policyStop(ctx, start, &policy.Violation{Kind: pv.Kind, Detail: pv.Detail})
			}
			e.logger.Error("step failed", "step", step, "error", err)
			return e.fail(ctx, start, oao.FailureFromError(err))
		}

		cumulative := e.state.TokenUsage + result.Tokens
		if _, err := e.append(ctx, &step, &event.StepCompletedData{
			Output:     result.Output,
			Tokens:     result.Tokens,
			TokenUsage: cumulative,
		}); err != nil {
			return nil, err
		}
		e.metrics.StepObserved(e.now().Sub(stepStart))
		e.logger.Debug("step completed", "step", step, "tokens", result.Tokens, "done", result.Done)

		if err := e.machine.Transition(StateReview); err != nil {
			return e.fail(ctx, start, &oao.Failure{Kind: oao.FailureInternal, Detail: err.Error()})
		}

		if result.Done {
			if err := e.machine.Transition(StateTerminate); err != nil {
				return e.fail(ctx, start, &oao.Failure{Kind: oao.FailureInternal, Detail: err.Error()})
			}
			if _, err := e.append(ctx, nil, &event.StateEnterData{State: string(StateTerminate)}); err != nil {
				return nil, err
			}
			if _, err := e.append(ctx, nil, &event.ExecutionCompletedData{
				FinalOutput: result.Output,
				TokenUsage:  cumulative,
			}); err != nil {
				return nil, err
			}
			e.metrics.ExecutionFinished(string(oao.StatusSuccess))
			e.logger.Info("execution completed", "steps", e.state.Steps, "tokens", e.state.TokenUsage)
			return e.report(start), nil
		}
	}
}

// enterPlan performs the INIT -> PLAN or REVIEW -> PLAN transition that
// begins a step iteration.
func (e *Engine) enterPlan() error {
	switch e.machine.Current() {
	case StateInit, StateReview:
		return e.machine.Transition(StatePlan)
	case StatePlan:
		// Resumed while already positioned at PLAN.
		return nil
	default:
		return &InvalidTransitionError{From: e.machine.Current(), To: StatePlan}
	}
}

// invokeWithRetry calls the adapter for one step, retrying transient errors
// under the retry config with exponential backoff.
func (e *Engine) invokeWithRetry(ctx context.Context, step int) (*oao.StepResult, error) {
	retry := e.policy.Config().Retry

	for attempt := 0; ; attempt++ {
		stepCtx := &oao.StepContext{
			ExecutionID:       e.snapshot.ExecutionID,
			Task:              e.snapshot.Task,
			Step:              step,
			DependencyOutputs: e.deps,
			History:           append([]string(nil), e.state.Outputs...),
			CallTool:          e.toolCaller(ctx, step),
		}

		result, err := e.adapter.Invoke(ctx, stepCtx)
		if err == nil {
			if result == nil {
				return nil, &oao.AdapterError{Err: errors.New("adapter returned a nil step result")}
			}
			return result, nil
		}

		if policy.Classify(err) != policy.ClassRetryable || attempt >= retry.MaxRetries {
			return nil, err
		}

		delay := retry.Backoff(attempt)
		if _, aerr := e.append(ctx, &step, &event.RetryAttemptedData{
			Attempt: attempt + 1,
			Delay:   delay,
			Reason:  err.Error(),
		}); aerr != nil {
			return nil, aerr
		}
		e.metrics.RetryAttempted()
		e.logger.Warn("retrying step", "step", step, "attempt", attempt+1, "delay", delay, "error", err)
		if serr := e.sleep(ctx, delay); serr != nil {
			return nil, err
		}
	}
}

// policyStop is the hard-stop path: POLICY_VIOLATION, then EXECUTION_FAILED,
// then exit. Policy violations are never retried.
func (e *Engine) policyStop(ctx context.Context, start time.Time, v *policy.Violation) (*oao.ExecutionReport, error) {
	e.logger.Warn("policy violation", "kind", v.Kind, "detail", v.Detail)
	if _, err := e.append(ctx, nil, &event.PolicyViolationData{
		Kind:   string(v.Kind),
		Detail: v.Detail,
	}); err != nil {
		return nil, err
	}
	return e.fail(ctx, start, &oao.Failure{Kind: v.Kind, Detail: v.Detail})
}

func (e *Engine) fail(ctx context.Context, start time.Time, failure *oao.Failure) (*oao.ExecutionReport, error) {
	// The terminal event must land even when the failure is the context
	// itself expiring.
	ctx = context.WithoutCancel(ctx)
	if _, err := e.append(ctx, nil, &event.ExecutionFailedData{
		Kind:   failure.Kind,
		Detail: failure.Detail,
	}); err != nil {
		return nil, err
	}
	e.machine.Fail()
	e.metrics.ExecutionFinished(string(oao.StatusFailed))
	e.logger.Info("execution failed", "kind", failure.Kind, "detail", failure.Detail)
	return e.report(start), nil
}

// append writes one event, folds it into the derived state, and publishes it
// to the bus. Nothing mutates engine state except through here.
func (e *Engine) append(ctx context.Context, step *int, data event.PayloadData) (*event.Event, error) {
	ev, err := e.log.Append(ctx, e.snapshot.ExecutionID, event.Draft{
		StepNumber: step,
		Data:       data,
		Trace:      telemetry.TraceContextFrom(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("event log append failed: %w", err)
	}
	e.state.Apply(ev)
	e.bus.Publish(ev)
	return ev, nil
}

func (e *Engine) report(start time.Time) *oao.ExecutionReport {
	status := oao.StatusFailed
	if e.state.Completed() {
		status = oao.StatusSuccess
	}
	return &oao.ExecutionReport{
		ExecutionID:          e.snapshot.ExecutionID,
		Status:               status,
		AgentName:            e.snapshot.AgentName,
		TotalSteps:           e.state.Steps,
		TokenUsage:           e.state.TokenUsage,
		ToolCalls:            e.state.ToolCalls,
		StateHistory:         e.machine.HistoryStrings(),
		ExecutionTimeSeconds: e.now().Sub(start).Seconds(),
		FinalOutput:          e.state.FinalOutput,
		Failure:              e.state.Failure,
		Timestamp:            e.now(),
	}
}

func deadlineFailure(err error) *oao.Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &oao.Failure{Kind: oao.FailureTimedOut, Detail: "execution timeout exceeded"}
	}
	return &oao.Failure{Kind: oao.FailureCancelled, Detail: "context cancelled"}
}
