// Package recovery decides when a source that has been failing may be probed
// again and how long to wait before doing so.
package recovery

import (
	"math"
	"sync"
	"time"

	"feedrelay/internal/pkg/clock"
	"feedrelay/internal/resilience/faults"
)

// Stats is a snapshot of one source's recovery history.
type Stats struct {
	Source          string        `json:"source"`
	Attempts        int           `json:"attempts"`
	Successes       int           `json:"successes"`
	SuccessRate     float64       `json:"success_rate"`
	AvgRecoveryTime time.Duration `json:"avg_recovery_time"`
	LastAttempt     time.Time     `json:"last_attempt,omitempty"`
	RecentErrors    int           `json:"recent_errors"`
	LastError       time.Time     `json:"last_error,omitempty"`
	Probability     float64       `json:"probability"`
}

type errorEvent struct {
	at   time.Time
	kind faults.Kind
}

type sourceStats struct {
	mu sync.Mutex

	attempts     int
	successes    int
	successRate  float64
	avgRecovery  time.Duration
	lastAttempt  time.Time
	lastActivity time.Time
	errors       []errorEvent
}

// Manager tracks recovery attempts and recent errors per source.
type Manager struct {
	cfgMu sync.RWMutex
	cfg   Config
	clock clock.Clock

	mu      sync.RWMutex
	sources map[string]*sourceStats
}

// NewManager returns a Manager. A nil clock selects the system clock.
func NewManager(cfg Config, clk clock.Clock) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     cfg,
		clock:   clock.OrSystem(clk),
		sources: make(map[string]*sourceStats),
	}, nil
}

// SetConfig swaps the weights and gaps. Collected history is kept.
func (m *Manager) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
	return nil
}

func (m *Manager) config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// ShouldAttemptRecovery reports whether source may be probed now, given the
// breaker's consecutive failure count.
func (m *Manager) ShouldAttemptRecovery(source string, consecutiveFailures int) bool {
	cfg := m.config()
	if consecutiveFailures > cfg.MaxConsecutiveFailures {
		return false
	}
	s := m.get(source, false)
	if s == nil {
		return true
	}
	now := m.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < gap(cfg.Gaps, consecutiveFailures) {
		return false
	}
	if s.attempts >= cfg.MinAttemptsForRate && s.successRate < cfg.MinSuccessRate {
		return false
	}
	return true
}

func gap(gaps []time.Duration, failures int) time.Duration {
	idx := failures - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(gaps) {
		idx = len(gaps) - 1
	}
	return gaps[idx]
}

// RecordRecoveryAttempt folds one probe outcome into the success rate and,
// for successes, the running average recovery time.
func (m *Manager) RecordRecoveryAttempt(source string, success bool, took time.Duration) {
	s := m.get(source, true)
	now := m.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if success {
		s.successes++
		s.avgRecovery += (took - s.avgRecovery) / time.Duration(s.successes)
	}
	s.successRate = float64(s.successes) / float64(s.attempts)
	s.lastAttempt = now
	s.lastActivity = now
}

// RecordError appends an error event for source.
func (m *Manager) RecordError(source string, kind faults.Kind) {
	s := m.get(source, true)
	now := m.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trim(now.Add(-m.config().ErrorRetention))
	s.errors = append(s.errors, errorEvent{at: now, kind: kind})
	s.lastActivity = now
}

// CalculateRecoveryProbability estimates the chance that a probe of source
// succeeds. It is advisory only.
func (m *Manager) CalculateRecoveryProbability(source string) float64 {
	s := m.get(source, false)
	now := m.clock.Now()
	if s == nil {
		cfg := m.config()
		return clamp(cfg, cfg.BaseProbability+cfg.IdleBonus)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.probability(s, now)
}

func (m *Manager) probability(s *sourceStats, now time.Time) float64 {
	cfg := m.config()
	p := cfg.BaseProbability

	if s.attempts > 0 {
		p *= s.successRate
	}
	if s.countSince(now.Add(-cfg.BurstWindow)) > cfg.BurstThreshold {
		p *= cfg.BurstPenalty
	}

	var sum float64
	var n int
	cutoff := now.Add(-cfg.KindWindow)
	for _, e := range s.errors {
		if e.at.Before(cutoff) {
			continue
		}
		w, ok := cfg.KindWeights[e.kind]
		if !ok {
			w = 1
		}
		sum += w
		n++
	}
	if n > 0 {
		p *= sum / float64(n)
	}

	idle := cfg.IdleHorizon
	if len(s.errors) > 0 {
		idle = now.Sub(s.errors[len(s.errors)-1].at)
	}
	p += cfg.IdleBonus * math.Min(float64(idle)/float64(cfg.IdleHorizon), 1)

	return clamp(cfg, p)
}

func clamp(cfg Config, p float64) float64 {
	return math.Max(cfg.MinProbability, math.Min(cfg.MaxProbability, p))
}

// AdaptiveRecoveryDelay stretches base according to the source's recent
// history, capped at MaxDelay.
func (m *Manager) AdaptiveRecoveryDelay(source string, base time.Duration) time.Duration {
	cfg := m.config()
	s := m.get(source, false)
	if s == nil {
		return min(base, cfg.MaxDelay)
	}
	now := m.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	d := float64(base)
	if s.attempts > cfg.LowRateMinSamples && s.successRate < cfg.LowRateThreshold {
		d *= cfg.LowRateFactor
	}
	cutoff := now.Add(-cfg.RecentErrorWindow)
	if s.countSince(cutoff) > cfg.RecentErrorThreshold {
		d *= cfg.RecentErrorFactor
	}
	for _, e := range s.errors {
		if !e.at.Before(cutoff) && e.kind.NetworkClass() {
			d *= cfg.NetworkFactor
			break
		}
	}
	if d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

// Reset forgets everything known about source.
func (m *Manager) Reset(source string) {
	m.mu.Lock()
	delete(m.sources, source)
	m.mu.Unlock()
}

// Prune drops expired error events and forgets sources idle for longer than
// StatsRetention. It returns the number of sources removed.
func (m *Manager) Prune() int {
	cfg := m.config()
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for source, s := range m.sources {
		s.mu.Lock()
		s.trim(now.Add(-cfg.ErrorRetention))
		stale := now.Sub(s.lastActivity) > cfg.StatsRetention
		s.mu.Unlock()
		if stale {
			delete(m.sources, source)
			removed++
		}
	}
	return removed
}

// Snapshot returns stats for every tracked source.
func (m *Manager) Snapshot() map[string]Stats {
	cfg := m.config()
	now := m.clock.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.sources))
	for source, s := range m.sources {
		s.mu.Lock()
		s.trim(now.Add(-cfg.ErrorRetention))
		st := Stats{
			Source:          source,
			Attempts:        s.attempts,
			Successes:       s.successes,
			SuccessRate:     s.successRate,
			AvgRecoveryTime: s.avgRecovery,
			LastAttempt:     s.lastAttempt,
			RecentErrors:    len(s.errors),
			Probability:     m.probability(s, now),
		}
		if n := len(s.errors); n > 0 {
			st.LastError = s.errors[n-1].at
		}
		s.mu.Unlock()
		out[source] = st
	}
	return out
}

func (m *Manager) get(source string, create bool) *sourceStats {
	m.mu.RLock()
	s, ok := m.sources[source]
	m.mu.RUnlock()
	if ok || !create {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.sources[source]; ok {
		return s
	}
	s = &sourceStats{lastActivity: m.clock.Now()}
	m.sources[source] = s
	return s
}

// trim drops events before cutoff. Events are appended in time order.
func (s *sourceStats) trim(cutoff time.Time) {
	i := 0
	for i < len(s.errors) && s.errors[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.errors = append(s.errors[:0], s.errors[i:]...)
	}
}

func (s *sourceStats) countSince(cutoff time.Time) int {
	n := 0
	for i := len(s.errors) - 1; i >= 0 && !s.errors[i].at.Before(cutoff); i-- {
		n++
	}
	return n
}
