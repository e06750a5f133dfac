// Package backoff turns a retry count and an error kind into a delay.
package backoff

import (
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"feedrelay/internal/resilience/faults"
)

// networkSequence is the fixed delay ladder for generic network failures.
var networkSequence = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
	60 * time.Second,
}

// Calculator computes retry delays. The strategy table can be swapped at
// runtime; lookups are lock-free.
type Calculator struct {
	table atomic.Pointer[Table]
	// rand returns a value in [0, 1).
	rand func() float64
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithRand injects the random source, mainly for tests.
func WithRand(f func() float64) Option {
	return func(c *Calculator) { c.rand = f }
}

// NewCalculator builds a Calculator over table. A nil table selects
// DefaultTable. The table must be valid.
func NewCalculator(table Table, opts ...Option) (*Calculator, error) {
	if table == nil {
		table = DefaultTable()
	}
	c := &Calculator{
		rand: rand.Float64, // #nosec G404 -- jitter does not need a CSPRNG
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.SetStrategies(table); err != nil {
		return nil, err
	}
	return c, nil
}

// SetStrategies validates and installs a new table. On error the previous
// table stays in effect.
func (c *Calculator) SetStrategies(table Table) error {
	if err := table.Validate(); err != nil {
		return err
	}
	t := table.Clone()
	c.table.Store(&t)
	return nil
}

// Strategy returns the strategy for kind.
func (c *Calculator) Strategy(kind faults.Kind) Strategy {
	t := *c.table.Load()
	if s, ok := t[kind]; ok {
		return s
	}
	return t[faults.NetworkError]
}

// Delay returns min(base*mult^(n-1), max) with the strategy's jitter applied.
// retryCount is 1-based; values below 1 are treated as 1.
func (c *Calculator) Delay(retryCount int, s Strategy) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	raw := float64(s.BaseDelay) * math.Pow(s.Multiplier, float64(retryCount-1))
	capped := s.MaxDelay
	if raw < float64(s.MaxDelay) {
		capped = time.Duration(raw)
	}
	return c.jitter(capped, s)
}

// RateLimitedDelay honors an upstream Retry-After hint literally, floored at
// MinDelay and without randomization. Without a hint it falls back to Delay.
func (c *Calculator) RateLimitedDelay(retryCount int, retryAfter time.Duration, s Strategy) time.Duration {
	if retryAfter <= 0 {
		return c.Delay(retryCount, s)
	}
	if retryAfter < s.MinDelay {
		return s.MinDelay
	}
	return retryAfter
}

// NetworkDelay walks the fixed 1s..60s ladder, clamped at its last step, and
// applies the strategy's jitter.
func (c *Calculator) NetworkDelay(retryCount int, s Strategy) time.Duration {
	idx := retryCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(networkSequence) {
		idx = len(networkSequence) - 1
	}
	return c.jitter(networkSequence[idx], s)
}

// Next returns the delay before retry number retryCount for an error of the
// given kind, or false once the kind's retry budget is spent.
func (c *Calculator) Next(kind faults.Kind, retryCount int, retryAfter time.Duration) (time.Duration, bool) {
	s := c.Strategy(kind)
	if retryCount > s.MaxRetries {
		return 0, false
	}
	switch kind {
	case faults.RateLimited:
		return c.RateLimitedDelay(retryCount, retryAfter, s), true
	case faults.NetworkError:
		return c.NetworkDelay(retryCount, s), true
	default:
		return c.Delay(retryCount, s), true
	}
}

func (c *Calculator) jitter(d time.Duration, s Strategy) time.Duration {
	switch s.Jitter {
	case JitterFull:
		return time.Duration(c.rand() * float64(d))
	case JitterProportional:
		spread := float64(d) * s.JitterFraction
		out := time.Duration(float64(d) + (c.rand()*2-1)*spread)
		if s.MaxDelay > 0 && out > s.MaxDelay {
			out = s.MaxDelay
		}
		if out < 0 {
			out = 0
		}
		return out
	default:
		return d
	}
}
