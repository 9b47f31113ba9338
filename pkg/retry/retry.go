// Package retry provides retry logic with exponential backoff for packfs
// operations.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/packfs/packfs/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial
	// attempt). Zero or negative means retry until the context is done.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds randomness to delay to prevent thundering herd
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors is a list of error codes that should trigger retry
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeLockBusy,
			errors.ErrCodeRemoteIO,
		},
	}
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	// Apply defaults for zero values
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Retryer{config: config}
}

// Do executes the given function with retry logic
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(ctx context.Context) error {
		return fn()
	})
}

// DoWithContext executes the given function with retry logic and context
// support. When MaxAttempts is unbounded the context deadline is the only
// stop condition.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; r.config.MaxAttempts <= 0 || attempt <= r.config.MaxAttempts; attempt++ {
		// Check context before attempting
		select {
		case <-ctx.Done():
			return r.contextError(ctx, lastErr)
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !r.shouldRetry(err) {
			return err
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.contextError(ctx, lastErr)
		case <-timer.C:
		}
	}

	return errors.NewError(errors.ErrCodeInternalError,
		fmt.Sprintf("all %d attempts failed", r.config.MaxAttempts)).WithCause(lastErr)
}

// contextError wraps context termination, preserving the last attempt's
// error as the cause so callers can classify the failure.
func (r *Retryer) contextError(ctx context.Context, lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("retry aborted (%w): last error: %v", ctx.Err(), lastErr)
	}
	return fmt.Errorf("retry aborted: %w", ctx.Err())
}

// shouldRetry determines whether an error warrants another attempt.
func (r *Retryer) shouldRetry(err error) bool {
	var packFSErr *errors.PackFSError
	if stderr.As(err, &packFSErr) {
		if len(r.config.RetryableErrors) > 0 {
			for _, code := range r.config.RetryableErrors {
				if packFSErr.Code == code {
					return true
				}
			}
			return false
		}
		return packFSErr.Retryable
	}

	// Unknown errors are not retried.
	return false
}

// calculateDelay computes the backoff delay for the given attempt number.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		// Up to 25% randomization either way.
		jitter := delay * 0.25 * (2*rand.Float64() - 1)
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}
