// Package retry runs operations with backoff.
//
// WithBackoff is the plain exponential loop used for infrastructure calls
// such as waiting for the database. Do is the kind-aware loop used for
// transport calls: the delay and the retry budget come from a Policy keyed
// by faults.Kind, and hooks let the caller gate and observe every attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"feedrelay/internal/resilience/backoff"
	"feedrelay/internal/resilience/faults"
)

// Config holds the configuration for WithBackoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the multiplier for exponential backoff
	Multiplier float64

	// JitterFraction is the ± fraction of each delay applied as jitter (0.0 to 1.0)
	JitterFraction float64
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   1 * time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// DBConfig returns configuration for database and Redis operations.
// Fast retry for transient connection issues.
func DBConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       1 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// StartupConfig returns configuration for waiting on dependencies at boot.
func StartupConfig() Config {
	return Config{
		MaxAttempts:    30,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     1.5,
		JitterFraction: 0.1,
	}
}

// Strategy converts cfg into the equivalent backoff strategy.
func (cfg Config) Strategy() backoff.Strategy {
	s := backoff.Strategy{
		MaxRetries: cfg.MaxAttempts - 1,
		BaseDelay:  cfg.InitialDelay,
		MaxDelay:   cfg.MaxDelay,
		Multiplier: cfg.Multiplier,
		Jitter:     backoff.JitterNone,
	}
	if cfg.JitterFraction > 0 {
		s.Jitter = backoff.JitterProportional
		s.JitterFraction = min(cfg.JitterFraction, 1.0)
	}
	return s
}

// WithBackoff executes fn with exponential backoff.
// It returns nil if fn succeeds, or the last error if all attempts fail.
func WithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	strategy := cfg.Strategy()
	if err := strategy.Validate(); err != nil {
		return fmt.Errorf("retry config: %w", err)
	}
	calc, err := backoff.NewCalculator(nil)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				slog.Info("operation succeeded after retry",
					slog.Int("attempt", attempt))
			}
			return nil
		}

		if !IsRetryable(lastErr) {
			slog.Warn("non-retryable error, aborting",
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr))
			return lastErr
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := calc.Delay(attempt, strategy)
		slog.Warn("operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.MaxAttempts),
			slog.Duration("delay", delay),
			slog.Any("error", lastErr))

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// IsRetryable determines if an error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *faults.TransportError
	if errors.As(err, &te) {
		return te.Kind != faults.ClientError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// Policy decides the delay before retry number retryCount (1-based) of an
// error of the given kind, or false when the budget is spent.
// *backoff.Calculator implements it.
type Policy interface {
	Next(kind faults.Kind, retryCount int, retryAfter time.Duration) (time.Duration, bool)
}

// Attempt describes one failed call.
type Attempt struct {
	Number     int
	Err        error
	Kind       faults.Kind
	Delay      time.Duration
	RetryAfter time.Duration
	// WillRetry is the policy's verdict before the After hook runs.
	WillRetry bool
}

// Hooks customise Do. All fields are optional.
type Hooks struct {
	// Before runs ahead of every attempt. A non-nil error stops the loop and
	// is reported as Result.Gate.
	Before func(ctx context.Context, attempt int) error
	// After observes every failed attempt. Returning false stops the loop.
	After func(a Attempt) bool
	// Sleep replaces the context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result summarises a Do run. Err is nil on success.
type Result struct {
	Attempts int
	Kind     faults.Kind
	Err      error
	// Gate is set when Before refused an attempt.
	Gate error
}

// Do calls fn until it succeeds, the policy's budget for the failure kind is
// spent, a hook stops it, or ctx is done.
func Do(ctx context.Context, p Policy, h Hooks, fn func(ctx context.Context) error) Result {
	wait := h.Sleep
	if wait == nil {
		wait = sleep
	}

	var res Result
	for attempt := 1; ; attempt++ {
		if h.Before != nil {
			if gate := h.Before(ctx, attempt); gate != nil {
				res.Gate = gate
				if res.Err == nil {
					res.Err = gate
				}
				return res
			}
		}

		err := fn(ctx)
		res.Attempts = attempt
		if err == nil {
			res.Err, res.Kind = nil, ""
			return res
		}
		res.Err = err
		res.Kind = faults.Classify(err)

		a := Attempt{Number: attempt, Err: err, Kind: res.Kind, RetryAfter: faults.RetryAfter(err)}
		a.Delay, a.WillRetry = p.Next(a.Kind, attempt, a.RetryAfter)
		retry := a.WillRetry
		if h.After != nil && !h.After(a) {
			retry = false
		}
		if !retry {
			return res
		}

		if err := wait(ctx, a.Delay); err != nil {
			return res
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
