package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/pkg/clock"
)

// State reuses gobreaker's states so both breaker flavours report alike.
type State = gobreaker.State

// SourceConfig configures SourceBreakers.
type SourceConfig struct {
	// FailureThreshold is the number of consecutive failures that opens a source.
	FailureThreshold int `yaml:"failure_threshold"`
	// ResetTimeout is how long a source stays open before a probe is allowed.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	// MonitoringWindow bounds how far apart failures may be and still count as
	// consecutive. Prune uses twice this value.
	MonitoringWindow time.Duration `yaml:"monitoring_window"`
}

// DefaultSourceConfig returns threshold 5, reset 5m, window 10m.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		FailureThreshold: 5,
		ResetTimeout:     5 * time.Minute,
		MonitoringWindow: 10 * time.Minute,
	}
}

// Validate rejects non-positive settings.
func (c SourceConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return &entity.ValidationError{Field: "circuit_breaker.failure_threshold", Message: "must be >= 1"}
	}
	if c.ResetTimeout <= 0 {
		return &entity.ValidationError{Field: "circuit_breaker.reset_timeout", Message: "must be positive"}
	}
	if c.MonitoringWindow <= 0 {
		return &entity.ValidationError{Field: "circuit_breaker.monitoring_window", Message: "must be positive"}
	}
	return nil
}

// SourceStatus is a snapshot of one source's breaker.
type SourceStatus struct {
	Source              string    `json:"source"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	NextAttemptAt       time.Time `json:"next_attempt_at,omitempty"`
}

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(source string, from, to State)

type breakerState struct {
	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	openedAt      time.Time
	nextAttemptAt time.Time
}

// SourceBreakers keeps one circuit breaker per source. Transitions out of
// OPEN are evaluated passively when a caller asks; there are no timers.
type SourceBreakers struct {
	clock    clock.Clock
	logger   *slog.Logger
	onChange StateChangeFunc

	cfgMu sync.RWMutex
	cfg   SourceConfig

	mu      sync.RWMutex
	sources map[string]*breakerState
}

// SourceOption customises SourceBreakers.
type SourceOption func(*SourceBreakers)

// WithClock sets the time source.
func WithClock(c clock.Clock) SourceOption {
	return func(b *SourceBreakers) { b.clock = clock.OrSystem(c) }
}

// WithLogger sets the logger used for transitions.
func WithLogger(l *slog.Logger) SourceOption {
	return func(b *SourceBreakers) { b.logger = l }
}

// WithStateChange registers a transition hook. It runs outside any lock.
func WithStateChange(fn StateChangeFunc) SourceOption {
	return func(b *SourceBreakers) { b.onChange = fn }
}

// NewSourceBreakers returns an empty set of breakers.
func NewSourceBreakers(cfg SourceConfig, opts ...SourceOption) (*SourceBreakers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &SourceBreakers{
		clock:   clock.System{},
		logger:  slog.Default(),
		cfg:     cfg,
		sources: make(map[string]*breakerState),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// SetConfig swaps the thresholds. Open sources keep their nextAttemptAt.
func (b *SourceBreakers) SetConfig(cfg SourceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.cfgMu.Lock()
	b.cfg = cfg
	b.cfgMu.Unlock()
	return nil
}

func (b *SourceBreakers) config() SourceConfig {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg
}

// CanExecute reports whether a request to source may proceed. An open
// breaker whose reset timeout has elapsed moves to half-open here.
func (b *SourceBreakers) CanExecute(source string) bool {
	s := b.get(source, false)
	if s == nil {
		return true
	}
	now := b.clock.Now()

	s.mu.Lock()
	from := s.state
	switch s.state {
	case gobreaker.StateClosed, gobreaker.StateHalfOpen:
		s.mu.Unlock()
		return true
	}
	if now.Before(s.nextAttemptAt) {
		s.mu.Unlock()
		return false
	}
	s.state = gobreaker.StateHalfOpen
	s.mu.Unlock()

	b.changed(source, from, gobreaker.StateHalfOpen)
	return true
}

// RecordSuccess closes a half-open breaker and clears the failure streak.
func (b *SourceBreakers) RecordSuccess(source string) {
	s := b.get(source, false)
	if s == nil {
		return
	}

	s.mu.Lock()
	from := s.state
	switch s.state {
	case gobreaker.StateClosed:
		s.failures = 0
		s.mu.Unlock()
		return
	case gobreaker.StateHalfOpen:
		s.state = gobreaker.StateClosed
		s.failures = 0
		s.openedAt, s.nextAttemptAt = time.Time{}, time.Time{}
		s.mu.Unlock()
		b.changed(source, from, gobreaker.StateClosed)
		return
	}
	// A success while open means the caller bypassed CanExecute; ignore it.
	s.mu.Unlock()
}

// RecordFailure extends the failure streak and opens the breaker once the
// threshold is reached. A half-open breaker reopens immediately.
func (b *SourceBreakers) RecordFailure(source string) {
	s := b.get(source, true)
	cfg := b.config()
	now := b.clock.Now()

	s.mu.Lock()
	from := s.state
	opened := false
	switch s.state {
	case gobreaker.StateClosed:
		if !s.lastFailureAt.IsZero() && now.Sub(s.lastFailureAt) > cfg.MonitoringWindow {
			s.failures = 0
		}
		s.failures++
		s.lastFailureAt = now
		if s.failures >= cfg.FailureThreshold {
			s.open(now, cfg.ResetTimeout)
			opened = true
		}
	case gobreaker.StateHalfOpen:
		s.failures++
		s.lastFailureAt = now
		s.open(now, cfg.ResetTimeout)
		opened = true
	default:
		s.failures++
		s.lastFailureAt = now
	}
	s.mu.Unlock()

	if opened {
		b.changed(source, from, gobreaker.StateOpen)
	}
}

func (s *breakerState) open(now time.Time, reset time.Duration) {
	s.state = gobreaker.StateOpen
	s.openedAt = now
	s.nextAttemptAt = now.Add(reset)
}

// State returns the stored state of source. It does not perform the passive
// OPEN to HALF_OPEN transition; unknown sources are closed.
func (b *SourceBreakers) State(source string) State {
	s := b.get(source, false)
	if s == nil {
		return gobreaker.StateClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of a single source.
func (b *SourceBreakers) Status(source string) SourceStatus {
	s := b.get(source, false)
	if s == nil {
		return SourceStatus{Source: source, State: gobreaker.StateClosed.String()}
	}
	return s.status(source)
}

// Snapshot returns the status of every tracked source.
func (b *SourceBreakers) Snapshot() map[string]SourceStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]SourceStatus, len(b.sources))
	for source, s := range b.sources {
		out[source] = s.status(source)
	}
	return out
}

// Reset forgets source entirely, closing its breaker.
func (b *SourceBreakers) Reset(source string) {
	b.mu.Lock()
	s, ok := b.sources[source]
	delete(b.sources, source)
	b.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	from := s.state
	s.mu.Unlock()
	if from != gobreaker.StateClosed {
		b.changed(source, from, gobreaker.StateClosed)
	}
}

// Prune drops closed sources with no failure within twice the monitoring
// window and returns how many were removed.
func (b *SourceBreakers) Prune() int {
	cutoff := b.clock.Now().Add(-2 * b.config().MonitoringWindow)
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for source, s := range b.sources {
		s.mu.Lock()
		idle := s.state == gobreaker.StateClosed && s.lastFailureAt.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(b.sources, source)
			removed++
		}
	}
	return removed
}

func (s *breakerState) status(source string) SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SourceStatus{
		Source:              source,
		State:               s.state.String(),
		ConsecutiveFailures: s.failures,
		LastFailureAt:       s.lastFailureAt,
		OpenedAt:            s.openedAt,
		NextAttemptAt:       s.nextAttemptAt,
	}
}

func (b *SourceBreakers) get(source string, create bool) *breakerState {
	b.mu.RLock()
	s, ok := b.sources[source]
	b.mu.RUnlock()
	if ok || !create {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.sources[source]; ok {
		return s
	}
	s = &breakerState{state: gobreaker.StateClosed}
	b.sources[source] = s
	return s
}

func (b *SourceBreakers) changed(source string, from, to State) {
	level := slog.LevelWarn
	if to == gobreaker.StateClosed {
		level = slog.LevelInfo
	}
	b.logger.Log(context.Background(), level, "source circuit breaker state changed",
		slog.String("source", source),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	if b.onChange != nil {
		b.onChange(source, from, to)
	}
}
