package retry

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"feedrelay/internal/resilience/backoff"
	"feedrelay/internal/resilience/faults"
)

func TestWithBackoff_Success(t *testing.T) {
	cfg := Config{
		MaxAttempts:    3,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       100 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	attempts := 0
	fn := func() error {
		attempts++
		return nil // Success on first attempt
	}

	err := WithBackoff(context.Background(), cfg, fn)

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestWithBackoff_SuccessAfterRetry(t *testing.T) {
	cfg := Config{
		MaxAttempts:    3,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       100 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return faults.FromStatus(500, "Server Error")
		}
		return nil // Success on 3rd attempt
	}

	err := WithBackoff(context.Background(), cfg, fn)

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithBackoff_MaxAttemptsExceeded(t *testing.T) {
	cfg := Config{
		MaxAttempts:    3,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       100 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	attempts := 0
	testErr := faults.FromStatus(500, "Server Error")
	fn := func() error {
		attempts++
		return testErr // Always fail
	}

	err := WithBackoff(context.Background(), cfg, fn)

	if err == nil {
		t.Error("expected error, got nil")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("expected wrapped error to contain original error")
	}
}

func TestWithBackoff_NonRetryableError(t *testing.T) {
	cfg := Config{
		MaxAttempts:    3,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       100 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	attempts := 0
	testErr := faults.FromStatus(400, "Bad Request")
	fn := func() error {
		attempts++
		return testErr // Non-retryable error
	}

	err := WithBackoff(context.Background(), cfg, fn)

	if err == nil {
		t.Error("expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt (non-retryable), got %d", attempts)
	}
	if err != testErr {
		t.Errorf("expected same error, got different error")
	}
}

func TestWithBackoff_ContextCanceled(t *testing.T) {
	cfg := Config{
		MaxAttempts:    5,
		InitialDelay:   50 * time.Millisecond,
		MaxDelay:       200 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	fn := func() error {
		attempts++
		if attempts == 2 {
			cancel() // Cancel context after 2nd attempt
		}
		return faults.FromStatus(500, "Server Error")
	}

	err := WithBackoff(ctx, cfg, fn)

	if err == nil {
		t.Error("expected error, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled error, got %v", err)
	}
	// Should have attempted at least 2 times before cancel
	if attempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "nil error",
			err:       nil,
			retryable: false,
		},
		{
			name:      "context canceled",
			err:       context.Canceled,
			retryable: false,
		},
		{
			name:      "context deadline exceeded",
			err:       context.DeadlineExceeded,
			retryable: false,
		},
		{
			name:      "HTTP 500 error",
			err:       faults.FromStatus(500, "Internal Server Error"),
			retryable: true,
		},
		{
			name:      "HTTP 502 error",
			err:       faults.FromStatus(502, "Bad Gateway"),
			retryable: true,
		},
		{
			name:      "HTTP 503 error",
			err:       faults.FromStatus(503, "Service Unavailable"),
			retryable: true,
		},
		{
			name:      "HTTP 429 error",
			err:       faults.FromStatus(429, "Too Many Requests"),
			retryable: true,
		},
		{
			name:      "HTTP 408 error",
			err:       faults.FromStatus(408, "Request Timeout"),
			retryable: true,
		},
		{
			name:      "HTTP 400 error",
			err:       faults.FromStatus(400, "Bad Request"),
			retryable: false,
		},
		{
			name:      "HTTP 404 error",
			err:       faults.FromStatus(404, "Not Found"),
			retryable: false,
		},
		{
			name:      "ECONNREFUSED",
			err:       syscall.ECONNREFUSED,
			retryable: true,
		},
		{
			name:      "ECONNRESET",
			err:       syscall.ECONNRESET,
			retryable: true,
		},
		{
			name:      "ETIMEDOUT",
			err:       syscall.ETIMEDOUT,
			retryable: true,
		},
		{
			name:      "ENETUNREACH",
			err:       syscall.ENETUNREACH,
			retryable: true,
		},
		{
			name:      "transport network error",
			err:       &faults.TransportError{Kind: faults.NetworkError, Message: "reset"},
			retryable: true,
		},
		{
			name:      "generic error",
			err:       errors.New("some error"),
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			if result != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", result, tt.retryable)
			}
		})
	}
}

func TestConfig_Strategy(t *testing.T) {
	s := DBConfig().Strategy()

	if s.MaxRetries != 2 {
		t.Errorf("expected MaxRetries=2, got %d", s.MaxRetries)
	}
	if s.BaseDelay != 100*time.Millisecond {
		t.Errorf("expected BaseDelay=100ms, got %v", s.BaseDelay)
	}
	if s.Jitter != backoff.JitterProportional || s.JitterFraction != 0.1 {
		t.Errorf("expected proportional 0.1 jitter, got %s %v", s.Jitter, s.JitterFraction)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("expected valid strategy, got %v", err)
	}

	noJitter := Config{MaxAttempts: 1, Multiplier: 1}.Strategy()
	if noJitter.Jitter != backoff.JitterNone {
		t.Errorf("expected no jitter, got %s", noJitter.Jitter)
	}
}

func TestWithBackoff_InvalidConfig(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), Config{MaxAttempts: 2, Multiplier: 0}, func() error {
		calls++
		return nil
	})
	if err == nil {
		t.Error("expected error for zero multiplier")
	}
	if calls != 0 {
		t.Errorf("expected fn not to run, ran %d times", calls)
	}
}

// fixedPolicy allows up to budget retries with a constant delay.
type fixedPolicy struct {
	budget int
	delay  time.Duration
}

func (p fixedPolicy) Next(kind faults.Kind, retryCount int, retryAfter time.Duration) (time.Duration, bool) {
	if kind == faults.ClientError || retryCount > p.budget {
		return 0, false
	}
	if retryAfter > 0 {
		return retryAfter, true
	}
	return p.delay, true
}

func noSleep(slept *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var slept []time.Duration
	calls := 0
	res := Do(context.Background(), fixedPolicy{budget: 3, delay: time.Second}, Hooks{Sleep: noSleep(&slept)},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return faults.FromStatus(503, "unavailable")
			}
			return nil
		})

	if res.Err != nil {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if len(slept) != 2 || slept[0] != time.Second {
		t.Errorf("expected two 1s sleeps, got %v", slept)
	}
}

func TestDo_BudgetExhausted(t *testing.T) {
	var slept []time.Duration
	res := Do(context.Background(), fixedPolicy{budget: 2, delay: time.Millisecond}, Hooks{Sleep: noSleep(&slept)},
		func(context.Context) error { return faults.FromStatus(500, "boom") })

	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if res.Kind != faults.ServerError {
		t.Errorf("expected server_error, got %s", res.Kind)
	}
	if faults.StatusCode(res.Err) != 500 {
		t.Errorf("expected last error to carry status 500, got %v", res.Err)
	}
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var seen []Attempt
	res := Do(context.Background(), fixedPolicy{budget: 5}, Hooks{
		After: func(a Attempt) bool { seen = append(seen, a); return true },
	}, func(context.Context) error { return faults.FromStatus(404, "gone") })

	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
	if len(seen) != 1 || seen[0].WillRetry {
		t.Errorf("expected one non-retrying attempt, got %+v", seen)
	}
}

func TestDo_RetryAfterPassedToPolicy(t *testing.T) {
	var slept []time.Duration
	calls := 0
	Do(context.Background(), fixedPolicy{budget: 1, delay: time.Second}, Hooks{Sleep: noSleep(&slept)},
		func(context.Context) error {
			calls++
			if calls == 1 {
				return &faults.TransportError{Code: 429, Kind: faults.RateLimited, RetryAfter: 30 * time.Second}
			}
			return nil
		})

	if len(slept) != 1 || slept[0] != 30*time.Second {
		t.Errorf("expected a 30s sleep, got %v", slept)
	}
}

func TestDo_BeforeGateStops(t *testing.T) {
	gateErr := errors.New("breaker open")
	var slept []time.Duration
	calls := 0
	res := Do(context.Background(), fixedPolicy{budget: 5}, Hooks{
		Sleep: noSleep(&slept),
		Before: func(_ context.Context, attempt int) error {
			if attempt == 2 {
				return gateErr
			}
			return nil
		},
	}, func(context.Context) error {
		calls++
		return faults.FromStatus(502, "bad gateway")
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(res.Gate, gateErr) {
		t.Errorf("expected gate error, got %v", res.Gate)
	}
	if faults.StatusCode(res.Err) != 502 {
		t.Errorf("expected Err to keep the transport failure, got %v", res.Err)
	}
}

func TestDo_AfterVeto(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fixedPolicy{budget: 5}, Hooks{
		After: func(Attempt) bool { return false },
	}, func(context.Context) error {
		calls++
		return faults.FromStatus(500, "boom")
	})

	if calls != 1 || res.Attempts != 1 {
		t.Errorf("expected a single attempt, got calls=%d attempts=%d", calls, res.Attempts)
	}
}

func TestDo_ContextCanceledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	res := Do(ctx, fixedPolicy{budget: 5, delay: time.Hour}, Hooks{}, func(context.Context) error {
		calls++
		return faults.FromStatus(500, "boom")
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if res.Err == nil {
		t.Error("expected the transport error to be reported")
	}
}

func TestDo_WithCalculator(t *testing.T) {
	calc, err := backoff.NewCalculator(nil)
	if err != nil {
		t.Fatal(err)
	}
	var slept []time.Duration
	res := Do(context.Background(), calc, Hooks{Sleep: noSleep(&slept)},
		func(context.Context) error { return &faults.TransportError{Kind: faults.Timeout} })

	// Timeout allows two retries.
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if len(slept) != 2 {
		t.Errorf("expected 2 sleeps, got %d", len(slept))
	}
}
