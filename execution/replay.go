package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/policy"
	"github.com/yashsham/open-agent-orchestrator/slogger"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// Rehydrate reconstructs the derived state of an execution from its event
// log. It invokes no adapters and no tools: it is idempotent and side-effect
// free, and safe to call on a live execution.
func Rehydrate(ctx context.Context, log event.Log, executionID string) (*event.State, error) {
	events, err := log.Read(ctx, executionID, 0)
	if err != nil {
		return nil, err
	}
	if err := event.Verify(events); err != nil {
		return nil, fmt.Errorf("corrupt event history for %s: %w", executionID, err)
	}
	return event.Fold(executionID, events), nil
}

// ResumeOptions configures a resume of an interrupted execution.
type ResumeOptions struct {
	ExecutionID string
	Adapter     oao.AgentAdapter
	Tools       *oao.ToolRegistry
	Log         event.Log
	Snapshots   SnapshotStore

	// Policy optionally overrides the engine used for validation. Its
	// configuration must hash-match the snapshot or the resume is refused.
	Policy *policy.Engine

	DependencyOutputs map[string]string

	Bus     *event.Bus
	Logger  slogger.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	Clock   func() time.Time
}

// Resume continues an execution from its first incomplete step. The stored
// snapshot hash is checked against the current configuration first: any
// drift aborts the resume before a single event is appended. Tool calls that
// already succeeded are answered from the log, so completed side effects are
// not repeated.
func Resume(ctx context.Context, opts ResumeOptions) (*oao.ExecutionReport, error) {
	if opts.ExecutionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	if opts.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if opts.Snapshots == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if opts.Tools == nil {
		var err error
		opts.Tools, err = oao.NewToolRegistry()
		if err != nil {
			return nil, err
		}
	}

	snapshot, err := opts.Snapshots.Get(ctx, opts.ExecutionID)
	if err != nil {
		return nil, err
	}

	// Hash continuity: recompute from the configuration we are about to
	// run with and compare against what was frozen at creation.
	currentPolicy := snapshot.PolicyConfig
	if opts.Policy != nil {
		currentPolicy = opts.Policy.Config()
	}
	if err := snapshot.VerifyAgainst(currentPolicy, opts.Adapter, opts.Tools); err != nil {
		return nil, err
	}

	state, err := Rehydrate(ctx, opts.Log, opts.ExecutionID)
	if err != nil {
		return nil, err
	}
	if state.Terminal != "" {
		// Nothing to resume; report what the log already says.
		return reportFromState(snapshot, state), nil
	}

	eng, err := New(Options{
		Snapshot:          snapshot,
		Adapter:           opts.Adapter,
		Tools:             opts.Tools,
		Log:               opts.Log,
		Snapshots:         opts.Snapshots,
		Policy:            opts.Policy,
		DependencyOutputs: opts.DependencyOutputs,
		Bus:               opts.Bus,
		Logger:            opts.Logger,
		Metrics:           opts.Metrics,
		Tracer:            opts.Tracer,
		Clock:             opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	eng.state = state
	eng.machine = restoreForResume(state)

	return eng.Run(ctx)
}

// restoreForResume positions the state machine to continue a rehydrated,
// non-terminal execution.
func restoreForResume(state *event.State) *StateMachine {
	if state.OpenStep != nil {
		// A step was started but never completed: the PLAN entry and
		// STEP_STARTED are already in the log, so the loop must pick up at
		// PLAN and go straight to EXECUTE.
		m := restoreStateMachine(true, state.Steps)
		m.history = append(m.history, StatePlan)
		m.current = StatePlan
		return m
	}
	return restoreStateMachine(!state.StartedAt.IsZero(), state.Steps)
}

// ReplayOptions configures a replay.
type ReplayOptions struct {
	ExecutionID string
	Log         event.Log
	Snapshots   SnapshotStore

	// Force re-executes completed steps instead of just rehydrating.
	// The newly produced event sequence is compared against the recorded
	// one and any divergence is reported as a DeterminismViolation.
	Force bool

	// AllowSideEffects permits forced re-execution even when the registry
	// contains side-effecting tools. Without it, forced replay of such an
	// execution is refused.
	AllowSideEffects bool

	Adapter oao.AgentAdapter
	Tools   *oao.ToolRegistry
	Policy  *policy.Engine

	Bus     *event.Bus
	Logger  slogger.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	Clock   func() time.Time
}

// Replay inspects or audits a past execution. In the default mode it folds
// the recorded events into a report without invoking anything. In forced
// mode it re-runs the execution against a shadow log and flags any
// divergence between the recorded and replayed histories.
func Replay(ctx context.Context, opts ReplayOptions) (*oao.ExecutionReport, error) {
	if opts.ExecutionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	if opts.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if opts.Snapshots == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}

	snapshot, err := opts.Snapshots.Get(ctx, opts.ExecutionID)
	if err != nil {
		return nil, err
	}

	if !opts.Force {
		state, err := Rehydrate(ctx, opts.Log, opts.ExecutionID)
		if err != nil {
			return nil, err
		}
		return reportFromState(snapshot, state), nil
	}

	if opts.Adapter == nil {
		return nil, fmt.Errorf("adapter is required for forced re-execution")
	}
	if opts.Tools == nil {
		opts.Tools, err = oao.NewToolRegistry()
		if err != nil {
			return nil, err
		}
	}
	if opts.Tools.HasSideEffects() && !opts.AllowSideEffects {
		return nil, fmt.Errorf("forced re-execution refused: registry contains side-effecting tools")
	}
	if err := snapshot.VerifyAgainst(snapshot.PolicyConfig, opts.Adapter, opts.Tools); err != nil {
		return nil, err
	}

	recorded, err := opts.Log.Read(ctx, opts.ExecutionID, 0)
	if err != nil {
		return nil, err
	}

	// Re-run against a shadow log so the recorded history stays untouched.
	shadow := event.NewMemoryLog()
	eng, err := New(Options{
		Snapshot: snapshot,
		Adapter:  opts.Adapter,
		Tools:    opts.Tools,
		Log:      shadow,
		Policy:   opts.Policy,
		Bus:      opts.Bus,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Tracer:   opts.Tracer,
		Clock:    opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	report, err := eng.Run(ctx)
	if err != nil {
		return nil, err
	}

	replayed, err := shadow.Read(ctx, opts.ExecutionID, 0)
	if err != nil {
		return nil, err
	}

	if diff := compareHistories(recorded, replayed); diff != "" {
		report.Status = oao.StatusFailed
		report.Failure = &oao.Failure{
			Kind:   oao.FailureDeterminism,
			Detail: diff,
		}
	}
	return report, nil
}

// compareHistories diffs the deterministic signatures of two event
// histories. Retry events are excluded: how often a transient failure needed
// retrying is an environmental fact, not part of the execution's semantics.
func compareHistories(recorded, replayed []*event.Event) string {
	a := signatures(recorded)
	b := signatures(replayed)

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "recorded",
		ToFile:   "replayed",
		Context:  3,
	})
	if err != nil || diff == "" {
		return ""
	}
	return diff
}

func signatures(events []*event.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == event.TypeRetryAttempted {
			continue
		}
		var sb strings.Builder
		sb.WriteString(string(ev.Type))
		if ev.StepNumber != nil {
			fmt.Fprintf(&sb, " step=%d", *ev.StepNumber)
		}
		if hash, ok := ev.Payload["arg_hash"].(string); ok && hash != "" {
			fmt.Fprintf(&sb, " arg_hash=%s", hash)
		}
		if usage, ok := ev.Payload["token_usage"]; ok {
			fmt.Fprintf(&sb, " token_usage=%v", normalizeValue(usage))
		}
		sb.WriteString("\n")
		out = append(out, sb.String())
	}
	return out
}

// reportFromState builds a report for an execution that is not being driven
// by a live engine, for example after rehydration.
func reportFromState(snapshot *Snapshot, state *event.State) *oao.ExecutionReport {
	status := oao.StatusFailed
	if state.Completed() {
		status = oao.StatusSuccess
	}
	history := []string{string(StateInit)}
	history = append(history, state.StateHistory...)
	return &oao.ExecutionReport{
		ExecutionID:  snapshot.ExecutionID,
		Status:       status,
		AgentName:    snapshot.AgentName,
		TotalSteps:   state.Steps,
		TokenUsage:   state.TokenUsage,
		ToolCalls:    state.ToolCalls,
		StateHistory: history,
		FinalOutput:  state.FinalOutput,
		Failure:      state.Failure,
		Timestamp:    time.Now(),
	}
}
