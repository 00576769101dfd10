// Package llm defines the text-generation capability the engine consumes.
// Actual providers live outside this repository; the engine only depends on
// the TextGenerator interface plus the retry and error-classification
// helpers here.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GenerationParams controls a single generation call.
type GenerationParams struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// GenerationResult is the outcome of a successful generation call.
type GenerationResult struct {
	Text       string  `json:"text"`
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

// TextGenerator is the external text-generation capability. Implementations
// may fail with transient provider errors; callers wrap invocations with
// GenerateWithRetry.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (*GenerationResult, error)
}

// ErrSchemaParse marks structured output that did not match the expected
// shape. It is fatal for the call and is never retried with a different
// interpretation.
var ErrSchemaParse = errors.New("schema parse failure")

// TransientError wraps a provider failure that is worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient generation error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err warrants a retry. Context cancellation and
// schema failures are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrSchemaParse) {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

// RetryConfig defines retry behavior for generation calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries)
	MaxRetries int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries
	MaxDelay time.Duration
	// Multiplier grows the delay after each retry
	Multiplier float64
}

// DefaultRetryConfig returns sensible defaults for generation retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// GenerateWithRetry invokes gen with bounded exponential backoff. Transient
// errors are retried up to cfg.MaxRetries; all other errors return
// immediately. The per-call timeout is enforced by the caller through ctx.
func GenerateWithRetry(
	ctx context.Context,
	gen TextGenerator,
	prompt string,
	params GenerationParams,
	cfg RetryConfig,
) (*GenerationResult, error) {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("generation cancelled before attempt %d: %w", attempt+1, ctx.Err())
		default:
		}

		result, err := gen.Generate(ctx, prompt, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("generation cancelled during backoff: %w", ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return nil, fmt.Errorf("generation failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}
