package recovery

import (
	"time"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/resilience/faults"
)

// Config holds the recovery heuristics. The defaults are empirical and
// meant to be tuned, not derived.
type Config struct {
	// Gaps is the minimum spacing between recovery attempts, indexed by
	// consecutive failures minus one and clamped at the last entry.
	Gaps []time.Duration `yaml:"gaps"`

	MinAttemptsForRate     int     `yaml:"min_attempts_for_rate"`
	MinSuccessRate         float64 `yaml:"min_success_rate"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`

	ErrorRetention time.Duration `yaml:"error_retention"`
	StatsRetention time.Duration `yaml:"stats_retention"`

	BaseProbability float64                 `yaml:"base_probability"`
	BurstWindow     time.Duration           `yaml:"burst_window"`
	BurstThreshold  int                     `yaml:"burst_threshold"`
	BurstPenalty    float64                 `yaml:"burst_penalty"`
	KindWindow      time.Duration           `yaml:"kind_window"`
	KindWeights     map[faults.Kind]float64 `yaml:"kind_weights"`
	IdleHorizon     time.Duration           `yaml:"idle_horizon"`
	IdleBonus       float64                 `yaml:"idle_bonus"`
	MinProbability  float64                 `yaml:"min_probability"`
	MaxProbability  float64                 `yaml:"max_probability"`

	LowRateThreshold     float64       `yaml:"low_rate_threshold"`
	LowRateMinSamples    int           `yaml:"low_rate_min_samples"`
	LowRateFactor        float64       `yaml:"low_rate_factor"`
	RecentErrorWindow    time.Duration `yaml:"recent_error_window"`
	RecentErrorThreshold int           `yaml:"recent_error_threshold"`
	RecentErrorFactor    float64       `yaml:"recent_error_factor"`
	NetworkFactor        float64       `yaml:"network_factor"`
	MaxDelay             time.Duration `yaml:"max_delay"`
}

// DefaultConfig returns the built-in heuristics.
func DefaultConfig() Config {
	return Config{
		Gaps: []time.Duration{
			30 * time.Second,
			60 * time.Second,
			120 * time.Second,
			300 * time.Second,
			600 * time.Second,
		},
		MinAttemptsForRate:     5,
		MinSuccessRate:         0.2,
		MaxConsecutiveFailures: 10,

		ErrorRetention: time.Hour,
		StatsRetention: 24 * time.Hour,

		BaseProbability: 0.5,
		BurstWindow:     time.Minute,
		BurstThreshold:  3,
		BurstPenalty:    0.3,
		KindWindow:      5 * time.Minute,
		KindWeights: map[faults.Kind]float64{
			faults.NetworkError:      0.7,
			faults.ConnectionRefused: 0.6,
			faults.ServerError:       0.8,
			faults.Timeout:           0.85,
			faults.RateLimited:       0.9,
			faults.ClientError:       0.1,
		},
		IdleHorizon:    10 * time.Minute,
		IdleBonus:      0.3,
		MinProbability: 0.1,
		MaxProbability: 0.9,

		LowRateThreshold:     0.5,
		LowRateMinSamples:    2,
		LowRateFactor:        2,
		RecentErrorWindow:    2 * time.Minute,
		RecentErrorThreshold: 2,
		RecentErrorFactor:    1.5,
		NetworkFactor:        1.3,
		MaxDelay:             5 * time.Minute,
	}
}

// Validate rejects configurations that would make the heuristics undefined.
func (c Config) Validate() error {
	if len(c.Gaps) == 0 {
		return &entity.ValidationError{Field: "recovery.gaps", Message: "must not be empty"}
	}
	for _, g := range c.Gaps {
		if g < 0 {
			return &entity.ValidationError{Field: "recovery.gaps", Message: "must be >= 0"}
		}
	}
	if c.MinProbability < 0 || c.MaxProbability > 1 || c.MinProbability > c.MaxProbability {
		return &entity.ValidationError{Field: "recovery.probability", Message: "bounds must satisfy 0 <= min <= max <= 1"}
	}
	if c.ErrorRetention <= 0 || c.StatsRetention <= 0 {
		return &entity.ValidationError{Field: "recovery.retention", Message: "must be positive"}
	}
	if c.IdleHorizon <= 0 {
		return &entity.ValidationError{Field: "recovery.idle_horizon", Message: "must be positive"}
	}
	if c.MaxDelay <= 0 {
		return &entity.ValidationError{Field: "recovery.max_delay", Message: "must be positive"}
	}
	for k, w := range c.KindWeights {
		if !k.Valid() {
			return &entity.ValidationError{Field: "recovery.kind_weights", Message: "unknown error kind " + string(k)}
		}
		if w < 0 || w > 1 {
			return &entity.ValidationError{Field: "recovery.kind_weights", Message: "weights must be in [0, 1]"}
		}
	}
	return nil
}
