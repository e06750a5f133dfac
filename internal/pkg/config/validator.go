package config

import (
	"errors"
	"fmt"
	"time"
)

// ValidateTimezone accepts IANA zone names.
func ValidateTimezone(name string) error {
	if name == "" {
		return errors.New("timezone must not be empty")
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return nil
}

// ValidateDuration accepts d in [min, max].
func ValidateDuration(d, min, max time.Duration) error {
	if d < min || d > max {
		return fmt.Errorf("duration %v out of range [%v, %v]", d, min, max)
	}
	return nil
}

// ValidateIntRange accepts v in [min, max].
func ValidateIntRange(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("value %d out of range [%d, %d]", v, min, max)
	}
	return nil
}

// ValidateFloatRange accepts v in (min, max].
func ValidateFloatRange(v, min, max float64) error {
	if v <= min || v > max {
		return fmt.Errorf("value %g out of range (%g, %g]", v, min, max)
	}
	return nil
}

// IntRange returns a validator for ValidateIntRange.
func IntRange(min, max int) func(int) error {
	return func(v int) error { return ValidateIntRange(v, min, max) }
}

// DurationRange returns a validator for ValidateDuration.
func DurationRange(min, max time.Duration) func(time.Duration) error {
	return func(d time.Duration) error { return ValidateDuration(d, min, max) }
}
