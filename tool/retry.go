package tool

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/hupe1980/medmesh/core"
)

// RetryConfig controls exponential backoff retry for flaky tools (network
// backed literature search, remote memory).
type RetryConfig struct {
	MaxRetries int           // max retry attempts (0 = no retry)
	BaseDelay  time.Duration // initial backoff delay
	MaxDelay   time.Duration // maximum backoff delay

	// Retryable decides whether err warrants another attempt. Nil retries
	// everything except validation failures, interruptions and cancellation.
	Retryable func(err error) bool
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

type retryTool struct {
	Tool
	cfg RetryConfig
}

// WithRetry wraps t so failed calls are retried with exponential backoff and
// jitter. The wrapper keeps the approval requirement of t.
func WithRetry(t Tool, cfg RetryConfig) Tool {
	return &retryTool{Tool: t, cfg: cfg}
}

// RequiresApproval forwards to the wrapped tool.
func (r *retryTool) RequiresApproval() bool { return NeedsApproval(r.Tool) }

// Kind forwards to the wrapped tool.
func (r *retryTool) Kind() Kind { return KindOf(r.Tool) }

func (r *retryTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	retryable := r.cfg.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}

	var (
		result any
		err    error
	)
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		result, err = r.Tool.Call(toolCtx, args)
		if err == nil || !retryable(err) || attempt == r.cfg.MaxRetries {
			return result, err
		}

		delay := backoffWithJitter(r.cfg.BaseDelay, r.cfg.MaxDelay, attempt)
		toolCtx.Logger().Warn("tool.call.retry", "tool", r.Name(), "attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", err.Error())

		select {
		case <-toolCtx.Context().Done():
			return nil, toolCtx.Context().Err()
		case <-time.After(delay):
		}
	}
	return result, err
}

func defaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var interrupted *core.InterruptedError
	if errors.As(err, &interrupted) {
		return false
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr.Code == CodeValidation {
		return false
	}
	return true
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	quarter := delay / 4
	if quarter > 0 {
		delay += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
	}

	return delay
}
