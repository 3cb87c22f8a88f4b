// Package policy enforces governance budgets over executions: step, token,
// and tool-call limits, wall-clock timeouts, tool allowlists, and the retry
// classification that decides which failures may be retried.
package policy

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"

	"github.com/yashsham/open-agent-orchestrator/event"
	oao "github.com/yashsham/open-agent-orchestrator"
)

// RetryConfig bounds the retry loop around tool and adapter invocations.
// Delays grow as initial_delay * backoff_multiplier^attempt.
type RetryConfig struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay      time.Duration `json:"initial_delay" yaml:"initial_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// Backoff returns the delay before the given retry attempt (starting at 0).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= c.BackoffMultiplier
	}
	return time.Duration(delay)
}

// Config is the frozen set of governance parameters for one execution. It is
// captured in the execution snapshot, so changing any field changes the
// execution hash. Zero values mean unlimited.
type Config struct {
	MaxSteps         int           `json:"max_steps" yaml:"max_steps"`
	MaxTokens        int           `json:"max_tokens" yaml:"max_tokens"`
	MaxToolCalls     int           `json:"max_tool_calls" yaml:"max_tool_calls"`
	ExecutionTimeout time.Duration `json:"execution_timeout" yaml:"execution_timeout"`

	// AllowedTools lists glob patterns of permitted tool names, for example
	// "search*" or "db:*". An empty list allows every tool unless
	// DenyUnlistedTools is set.
	AllowedTools []string `json:"allowed_tools" yaml:"allowed_tools"`

	// DenyUnlistedTools switches an empty AllowedTools list from allow-all
	// to deny-all.
	DenyUnlistedTools bool `json:"deny_unlisted_tools" yaml:"deny_unlisted_tools"`

	Retry RetryConfig `json:"retry" yaml:"retry"`
}

// WithDefaults fills in the retry defaults without touching set fields.
func (c Config) WithDefaults() Config {
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = time.Second
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = 2.0
	}
	return c
}

// Violation is the outcome of a failed policy check. Violations are
// hard-stops: the engine records POLICY_VIOLATION and EXECUTION_FAILED and
// exits. They are never retried.
type Violation struct {
	Kind   oao.FailureKind
	Detail string
}

// Err converts the violation to the shared error type.
func (v *Violation) Err() error {
	return &oao.PolicyViolationError{Kind: v.Kind, Detail: v.Detail}
}

// Engine validates execution state against a Config. It is stateless beyond
// the compiled allowlist, so one instance may serve many executions with the
// same configuration.
type Engine struct {
	cfg     Config
	allowed []glob.Glob
}

// New compiles the configuration into a policy engine. Invalid allowlist
// patterns are rejected here rather than at call time.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.WithDefaults()
	e := &Engine{cfg: cfg}
	for _, pattern := range cfg.AllowedTools {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed_tools pattern %q: %w", pattern, err)
		}
		e.allowed = append(e.allowed, g)
	}
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Validate checks the observed cumulative state before the next step or tool
// call runs. The token check uses the cumulative usage observed after the
// previous step, so a single step may overshoot the budget before the
// violation fires on the next check.
func (e *Engine) Validate(s *event.State, now time.Time) *Violation {
	if e.cfg.ExecutionTimeout > 0 && !s.StartedAt.IsZero() {
		if elapsed := now.Sub(s.StartedAt); elapsed > e.cfg.ExecutionTimeout {
			return &Violation{
				Kind:   oao.FailureTimedOut,
				Detail: fmt.Sprintf("execution exceeded timeout of %s (elapsed %s)", e.cfg.ExecutionTimeout, elapsed.Round(time.Millisecond)),
			}
		}
	}
	if e.cfg.MaxSteps > 0 && s.Steps >= e.cfg.MaxSteps {
		return &Violation{
			Kind:   oao.FailureMaxSteps,
			Detail: fmt.Sprintf("execution reached the maximum of %d steps", e.cfg.MaxSteps),
		}
	}
	if e.cfg.MaxTokens > 0 && s.TokenUsage > e.cfg.MaxTokens {
		return &Violation{
			Kind:   oao.FailureMaxTokens,
			Detail: fmt.Sprintf("token usage %d exceeds the maximum of %d", s.TokenUsage, e.cfg.MaxTokens),
		}
	}
	if e.cfg.MaxToolCalls > 0 && s.ToolCalls >= e.cfg.MaxToolCalls {
		return &Violation{
			Kind:   oao.FailureMaxToolCalls,
			Detail: fmt.Sprintf("execution reached the maximum of %d tool calls", e.cfg.MaxToolCalls),
		}
	}
	return nil
}

// CheckTool validates a tool name against the allowlist. With no patterns
// configured the default is allow-all; DenyUnlistedTools flips that.
func (e *Engine) CheckTool(name string) *Violation {
	if len(e.allowed) == 0 {
		if e.cfg.DenyUnlistedTools {
			return &Violation{
				Kind:   oao.FailureToolNotAllowed,
				Detail: fmt.Sprintf("tool %q denied: no tools are allowed", name),
			}
		}
		return nil
	}
	for _, g := range e.allowed {
		if g.Match(name) {
			return nil
		}
	}
	return &Violation{
		Kind:   oao.FailureToolNotAllowed,
		Detail: fmt.Sprintf("tool %q is not in the allowed tools list", name),
	}
}
