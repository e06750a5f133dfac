package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/resilience/backoff"
	"feedrelay/internal/resilience/circuitbreaker"
	"feedrelay/internal/resilience/ratelimit"
	"feedrelay/internal/resilience/recovery"
)

// Resilience is the hot-reloadable tuning of the polling and delivery engine.
//
// A file overlays the built-in defaults. Keys absent from the file keep their
// default. A kind listed under backoff, or a domain listed under
// rate_limits.domains, replaces that entry as a whole.
type Resilience struct {
	Backoff    backoff.Table               `yaml:"backoff"`
	RateLimits ratelimit.DomainTable       `yaml:"rate_limits"`
	Breaker    circuitbreaker.SourceConfig `yaml:"breaker"`
	Recovery   recovery.Config             `yaml:"recovery"`
}

// DefaultResilience returns the built-in tuning.
func DefaultResilience() *Resilience {
	return &Resilience{
		Backoff:    backoff.DefaultTable(),
		RateLimits: ratelimit.DefaultDomainTable(),
		Breaker:    circuitbreaker.DefaultSourceConfig(),
		Recovery:   recovery.DefaultConfig(),
	}
}

// Validate checks every section. Failures are *entity.ValidationError,
// possibly wrapped.
func (r *Resilience) Validate() error {
	if err := r.Backoff.Validate(); err != nil {
		return err
	}
	if err := r.RateLimits.Validate(); err != nil {
		return err
	}
	if err := r.Breaker.Validate(); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}
	if err := r.Recovery.Validate(); err != nil {
		return err
	}
	return nil
}

// ParseResilience decodes YAML over the defaults and validates the result.
// Malformed YAML is reported as a *entity.ValidationError.
func ParseResilience(data []byte) (*Resilience, error) {
	r := DefaultResilience()
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, &entity.ValidationError{Field: "resilience", Message: err.Error()}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadResilience reads and validates the file at path. An empty path yields
// the defaults.
func LoadResilience(path string) (*Resilience, error) {
	if path == "" {
		return DefaultResilience(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resilience config: %w", err)
	}
	r, err := ParseResilience(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// IsValidationError reports whether err rejects the content of a config, as
// opposed to failing to read it.
func IsValidationError(err error) bool {
	var ve *entity.ValidationError
	return errors.As(err, &ve)
}

// Targets are the components a Resilience config is applied to. Nil targets
// are skipped.
type Targets struct {
	Backoff  interface{ SetStrategies(backoff.Table) error }
	Limiter  interface{ SetTable(ratelimit.DomainTable) error }
	Breakers interface {
		SetConfig(circuitbreaker.SourceConfig) error
	}
	Recovery interface{ SetConfig(recovery.Config) error }
}

// Apply pushes r into every target. r must already be valid; each setter
// validates again and the first failure is returned.
func (r *Resilience) Apply(t Targets) error {
	if t.Backoff != nil {
		if err := t.Backoff.SetStrategies(r.Backoff.Clone()); err != nil {
			return fmt.Errorf("apply backoff: %w", err)
		}
	}
	if t.Limiter != nil {
		if err := t.Limiter.SetTable(r.RateLimits); err != nil {
			return fmt.Errorf("apply rate limits: %w", err)
		}
	}
	if t.Breakers != nil {
		if err := t.Breakers.SetConfig(r.Breaker); err != nil {
			return fmt.Errorf("apply breaker: %w", err)
		}
	}
	if t.Recovery != nil {
		if err := t.Recovery.SetConfig(r.Recovery); err != nil {
			return fmt.Errorf("apply recovery: %w", err)
		}
	}
	return nil
}
