package main

import (
	"fmt"
	"log/slog"
	"time"

	"feedrelay/internal/config"
	"feedrelay/internal/observability/metrics"
	"feedrelay/internal/resilience/backoff"
	"feedrelay/internal/resilience/circuitbreaker"
	"feedrelay/internal/resilience/ratelimit"
	"feedrelay/internal/resilience/recovery"
)

// resilience holds the shared components that fetch and delivery both use.
type resilience struct {
	backoff  *backoff.Calculator
	limiter  *ratelimit.Limiter
	breakers *circuitbreaker.SourceBreakers
	recovery *recovery.Manager
}

func newResilience(res *config.Resilience, logger *slog.Logger) (*resilience, error) {
	calc, err := backoff.NewCalculator(res.Backoff)
	if err != nil {
		return nil, fmt.Errorf("create backoff calculator: %w", err)
	}

	table := res.RateLimits
	limiter, err := ratelimit.New(ratelimit.Config{
		Table:  &table,
		Logger: logger,
		OnDelay: func(_ string, d time.Duration) {
			metrics.RecordRateLimitDelay(d)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	breakers, err := circuitbreaker.NewSourceBreakers(res.Breaker,
		circuitbreaker.WithLogger(logger),
		circuitbreaker.WithStateChange(func(source string, _, to circuitbreaker.State) {
			metrics.RecordBreakerTransition(source, to)
		}))
	if err != nil {
		return nil, fmt.Errorf("create source breakers: %w", err)
	}

	rec, err := recovery.NewManager(res.Recovery, nil)
	if err != nil {
		return nil, fmt.Errorf("create recovery manager: %w", err)
	}

	return &resilience{backoff: calc, limiter: limiter, breakers: breakers, recovery: rec}, nil
}

// apply pushes a reloaded file into the running components.
func (r *resilience) apply(res *config.Resilience) error {
	return res.Apply(config.Targets{
		Backoff:  r.backoff,
		Limiter:  r.limiter,
		Breakers: r.breakers,
		Recovery: r.recovery,
	})
}
