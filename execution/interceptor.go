package execution

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/policy"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// CanonicalArgHash computes the idempotency key for a tool call: the SHA-256
// digest of the canonical JSON form of the tool name and arguments. Mapping
// keys are sorted by the JSON encoder and all numbers are normalized to
// float64, so representations that differ only in type or key order hash
// identically.
func CanonicalArgHash(toolName string, args map[string]any) (string, error) {
	canonical := map[string]any{
		"tool": toolName,
		"args": normalizeValue(args),
	}
	serialized, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize tool call: %w", err)
	}
	digest := sha256.Sum256(serialized)
	return fmt.Sprintf("%x", digest), nil
}

// normalizeValue recursively normalizes numeric types so that arguments that
// went through JSON (float64) and arguments built in Go (int) hash the same.
func normalizeValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = normalizeValue(item)
		}
		return out
	case int:
		return float64(value)
	case int32:
		return float64(value)
	case int64:
		return float64(value)
	case float32:
		return float64(value)
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return value.String()
		}
		return f
	default:
		return v
	}
}

// toolCaller returns the ToolCaller bound into a step context. Every tool
// invocation the adapter makes goes through here: policy pre-check, hash
// computation, log lookup for deduplication, and the retried real call.
func (e *Engine) toolCaller(ctx context.Context, step int) oao.ToolCaller {
	return func(callCtx context.Context, name string, args map[string]any) (any, error) {
		if callCtx == nil {
			callCtx = ctx
		}
		if e.cancelled.Load() {
			return nil, oao.ErrCancelled
		}
		if v := e.policy.Validate(e.state, e.now()); v != nil {
			return nil, v.Err()
		}
		if v := e.policy.CheckTool(name); v != nil {
			return nil, v.Err()
		}

		hash, err := CanonicalArgHash(name, args)
		if err != nil {
			return nil, &oao.ToolError{Tool: name, Err: err}
		}

		// Replayed calls return the recorded result without appending
		// anything: at-least-once invocation, deduplicated by hash.
		record, found, err := e.log.LookupToolSuccess(callCtx, e.snapshot.ExecutionID, hash)
		if err != nil {
			return nil, fmt.Errorf("tool call lookup failed: %w", err)
		}
		if found {
			e.metrics.ToolCall("deduped")
			e.logger.Debug("tool call deduplicated", "tool", name, "arg_hash", hash)
			return record.Result, nil
		}

		tool, ok := e.tools.Get(name)
		if !ok {
			return nil, &oao.ToolError{Tool: name, Err: fmt.Errorf("tool %q is not registered", name)}
		}

		callCtx, span := e.tracer.StartToolCall(callCtx, name, hash)
		defer span.End()

		if _, err := e.append(callCtx, &step, &event.ToolCallStartedData{
			ToolName: name,
			ArgHash:  hash,
		}); err != nil {
			return nil, err
		}

		result, callErr := e.invokeTool(callCtx, step, tool, name, hash, args)
		if callErr != nil {
			e.metrics.ToolCall("failed")
			if _, aerr := e.append(callCtx, &step, &event.ToolCallFailedData{
				ToolName:  name,
				ArgHash:   hash,
				ErrorKind: string(oao.FailureFromError(callErr).Kind),
				Error:     callErr.Error(),
			}); aerr != nil {
				return nil, aerr
			}
			return nil, callErr
		}

		if _, err := e.append(callCtx, &step, &event.ToolCallSuccessData{
			ToolName: name,
			ArgHash:  hash,
			Result:   result,
		}); err != nil {
			return nil, err
		}
		e.metrics.ToolCall("success")
		return result, nil
	}
}

// invokeTool runs the real tool under the retry policy. Retries emit
// RETRY_ATTEMPTED events; TOOL_CALL_SUCCESS is only ever appended once.
func (e *Engine) invokeTool(ctx context.Context, step int, tool oao.Tool, name, hash string, args map[string]any) (any, error) {
	retry := e.policy.Config().Retry

	for attempt := 0; ; attempt++ {
		result, err := tool.Call(ctx, args)
		if err == nil {
			return result, nil
		}

		if !errors.As(err, new(*oao.ToolError)) {
			err = &oao.ToolError{Tool: name, Retryable: true, Err: err}
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
		e.logger.Warn("retrying tool call", "tool", name, "arg_hash", hash, "attempt", attempt+1, "delay", delay)
		if serr := e.sleep(ctx, delay); serr != nil {
			return nil, err
		}
	}
}
