// Package config provides fail-open environment loaders. A missing variable
// yields the default silently; an unparsable or invalid one yields the
// default together with a warning the caller logs and counts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Result is the outcome of loading one variable.
type Result[T any] struct {
	Value T
	// Set reports whether the variable was present and non-empty.
	Set bool
	// FallbackApplied reports that Value is the default because the raw
	// value was rejected. Warning says why.
	FallbackApplied bool
	Warning         string
}

// Load reads key, parses it and validates it. validate may be nil.
func Load[T any](key string, def T, parse func(string) (T, error), validate func(T) error) Result[T] {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return Result[T]{Value: def}
	}

	v, err := parse(raw)
	if err != nil {
		return Result[T]{
			Value:           def,
			Set:             true,
			FallbackApplied: true,
			Warning:         fmt.Sprintf("%s=%q cannot be parsed, using default %v: %v", key, raw, def, err),
		}
	}
	if validate != nil {
		if err := validate(v); err != nil {
			return Result[T]{
				Value:           def,
				Set:             true,
				FallbackApplied: true,
				Warning:         fmt.Sprintf("%s=%q is invalid, using default %v: %v", key, raw, def, err),
			}
		}
	}
	return Result[T]{Value: v, Set: true}
}

// String loads a string variable.
func String(key, def string, validate func(string) error) Result[string] {
	return Load(key, def, func(s string) (string, error) { return s, nil }, validate)
}

// Int loads a base-10 integer variable.
func Int(key string, def int, validate func(int) error) Result[int] {
	return Load(key, def, strconv.Atoi, validate)
}

// Float loads a floating point variable.
func Float(key string, def float64, validate func(float64) error) Result[float64] {
	return Load(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }, validate)
}

// Duration loads a variable in time.ParseDuration syntax.
func Duration(key string, def time.Duration, validate func(time.Duration) error) Result[time.Duration] {
	return Load(key, def, time.ParseDuration, validate)
}

// Bool loads a variable in strconv.ParseBool syntax.
func Bool(key string, def bool) Result[bool] {
	return Load(key, def, strconv.ParseBool, nil)
}
