package backoff

import (
	"fmt"
	"time"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/resilience/faults"
)

// JitterMode selects how randomness is applied to a computed delay.
type JitterMode string

const (
	// JitterNone returns the capped delay unchanged.
	JitterNone JitterMode = "none"
	// JitterFull draws uniformly from [0, capped delay].
	JitterFull JitterMode = "full"
	// JitterProportional moves the delay by up to ±JitterFraction of itself,
	// never above MaxDelay.
	JitterProportional JitterMode = "proportional"
)

// Strategy parameterizes retries for one error kind.
type Strategy struct {
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	Jitter         JitterMode    `yaml:"jitter"`
	JitterFraction float64       `yaml:"jitter_fraction"`
	// MinDelay floors an upstream Retry-After hint.
	MinDelay time.Duration `yaml:"min_delay"`
}

// Validate rejects inconsistent strategies. Values are never clamped.
func (s Strategy) Validate() error {
	if s.MaxRetries < 0 {
		return &entity.ValidationError{Field: "max_retries", Message: "must be >= 0"}
	}
	if s.BaseDelay < 0 {
		return &entity.ValidationError{Field: "base_delay", Message: "must be >= 0"}
	}
	if s.MaxDelay < s.BaseDelay {
		return &entity.ValidationError{Field: "max_delay", Message: "must be >= base_delay"}
	}
	if s.Multiplier <= 0 {
		return &entity.ValidationError{Field: "multiplier", Message: "must be > 0"}
	}
	if s.MinDelay < 0 {
		return &entity.ValidationError{Field: "min_delay", Message: "must be >= 0"}
	}
	switch s.Jitter {
	case "", JitterNone, JitterFull:
	case JitterProportional:
		if s.JitterFraction <= 0 || s.JitterFraction > 1 {
			return &entity.ValidationError{Field: "jitter_fraction", Message: "must be in (0, 1] for proportional jitter"}
		}
	default:
		return &entity.ValidationError{Field: "jitter", Message: fmt.Sprintf("unknown mode %q", s.Jitter)}
	}
	return nil
}

// Table maps each error kind to its strategy.
type Table map[faults.Kind]Strategy

// Validate checks every entry and that every kind has a strategy.
func (t Table) Validate() error {
	for _, k := range faults.Kinds {
		s, ok := t[k]
		if !ok {
			return &entity.ValidationError{Field: "backoff." + string(k), Message: "is required"}
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("backoff.%s: %w", k, err)
		}
	}
	for k := range t {
		if !k.Valid() {
			return &entity.ValidationError{Field: "backoff", Message: fmt.Sprintf("unknown error kind %q", k)}
		}
	}
	return nil
}

// Clone returns an independent copy of the table.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// DefaultTable returns the built-in strategies.
func DefaultTable() Table {
	return Table{
		faults.RateLimited: {
			MaxRetries: 5, BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute,
			Multiplier: 2, Jitter: JitterNone, MinDelay: time.Second,
		},
		faults.NetworkError: {
			MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 60 * time.Second,
			Multiplier: 2, Jitter: JitterProportional, JitterFraction: 0.2,
		},
		faults.ConnectionRefused: {
			MaxRetries: 5, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second,
			Multiplier: 2, Jitter: JitterProportional, JitterFraction: 0.2,
		},
		faults.ServerError: {
			MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second,
			Multiplier: 2, Jitter: JitterFull,
		},
		faults.Timeout: {
			MaxRetries: 2, BaseDelay: 2 * time.Second, MaxDelay: 20 * time.Second,
			Multiplier: 2, Jitter: JitterFull,
		},
		faults.ClientError: {
			MaxRetries: 0, Multiplier: 1, Jitter: JitterNone,
		},
	}
}
