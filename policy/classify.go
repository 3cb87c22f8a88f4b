package policy

import (
	"context"
	"errors"

	oao "github.com/yashsham/open-agent-orchestrator"
)

// Class is the retry classification of an error.
type Class int

const (
	// ClassFatal errors propagate as execution failure.
	ClassFatal Class = iota

	// ClassRetryable errors are retried under the retry config.
	ClassRetryable
)

// Classify decides whether an error may be retried. Policy violations and
// context cancellation are always fatal. Tool and adapter errors carry their
// own classification. Deadline expiry of a single call is considered
// transient. Anything unrecognized is fatal: retrying unknown failures risks
// duplicating side effects for nothing.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}

	var pv *oao.PolicyViolationError
	if errors.As(err, &pv) {
		return ClassFatal
	}

	var te *oao.ToolError
	if errors.As(err, &te) {
		if te.Retryable {
			return ClassRetryable
		}
		return ClassFatal
	}

	var ae *oao.AdapterError
	if errors.As(err, &ae) {
		if ae.Retryable {
			return ClassRetryable
		}
		return ClassFatal
	}

	if errors.Is(err, oao.ErrCancelled) {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}

	return ClassFatal
}
