// Package ratelimit provides per-source admission control for feed fetches
// and deliveries.
//
// Each source (a hostname) gets a sliding window of request timestamps plus a
// minimum inter-request spacing. Both parameters adapt to the source's
// observed success ratio. The limiter only computes delays; callers wait
// themselves (or use Wait).
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"feedrelay/internal/pkg/clock"
)

// Tuning holds the adaptive multipliers. The defaults are empirical.
type Tuning struct {
	MinSamples       int
	SuccessThreshold float64

	LoosenDelay     float64
	LoosenRequests  float64
	TightenDelay    float64
	TightenRequests float64

	// Bounds relative to the source's base parameters.
	DelayFloor    float64
	DelayCap      float64
	RequestsFloor float64
	RequestsCap   float64

	ResetInterval time.Duration
	// Jitter is the ± fraction applied to the spacing wait.
	Jitter float64
}

// DefaultTuning returns the built-in tuning.
func DefaultTuning() Tuning {
	return Tuning{
		MinSamples:       10,
		SuccessThreshold: 0.8,
		LoosenDelay:      0.8,
		LoosenRequests:   1.2,
		TightenDelay:     1.5,
		TightenRequests:  0.8,
		DelayFloor:       0.5,
		DelayCap:         2.0,
		RequestsFloor:    0.5,
		RequestsCap:      2.0,
		ResetInterval:    time.Hour,
		Jitter:           0.3,
	}
}

// Config configures a Limiter. Zero values select defaults.
type Config struct {
	Table  *DomainTable
	Tuning *Tuning
	Clock  clock.Clock
	// Rand returns a value in [0, 1).
	Rand   func() float64
	Logger *slog.Logger
	// OnDelay is called with every non-zero reservation delay.
	OnDelay func(source string, d time.Duration)
	// Sleep replaces the context-aware timer in Wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// SourceStats is a point-in-time view of one source's window.
type SourceStats struct {
	Source          string        `json:"source"`
	MinDelay        time.Duration `json:"min_delay"`
	MaxRequests     int           `json:"max_requests"`
	BaseMinDelay    time.Duration `json:"base_min_delay"`
	BaseMaxRequests int           `json:"base_max_requests"`
	Window          time.Duration `json:"window"`
	InWindow        int           `json:"in_window"`
	Samples         int           `json:"samples"`
	SuccessRatio    float64       `json:"success_ratio"`
	LastRequest     time.Time     `json:"last_request"`
}

// Limiter is the per-source admission controller.
type Limiter struct {
	tuning  Tuning
	clock   clock.Clock
	rand    func() float64
	logger  *slog.Logger
	onDelay func(string, time.Duration)
	sleep   func(context.Context, time.Duration) error

	table atomic.Pointer[DomainTable]

	mu      sync.RWMutex
	sources map[string]*window
}

// window is the RateWindow of one source. Its own mutex guards every
// read-modify-write; the limiter's map lock is only held for lookup.
type window struct {
	mu sync.Mutex

	base        Params
	minDelay    time.Duration
	maxRequests int

	stamps     []time.Time
	last       time.Time
	lastActive time.Time
	successes  int
	failures   int
	ratio      float64
	countersAt time.Time
}

// New returns a Limiter. It fails only when cfg.Table is invalid.
func New(cfg Config) (*Limiter, error) {
	l := &Limiter{
		tuning:  DefaultTuning(),
		clock:   clock.OrSystem(cfg.Clock),
		rand:    cfg.Rand,
		logger:  cfg.Logger,
		onDelay: cfg.OnDelay,
		sleep:   cfg.Sleep,
		sources: make(map[string]*window),
	}
	if cfg.Tuning != nil {
		l.tuning = *cfg.Tuning
	}
	if l.rand == nil {
		l.rand = rand.Float64 // #nosec G404 -- jitter does not need a CSPRNG
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	table := DefaultDomainTable()
	if cfg.Table != nil {
		table = *cfg.Table
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	l.table.Store(&table)
	return l, nil
}

// SetTable validates and installs a new domain table. Known sources are
// re-based on their new defaults, which discards their adaptive state. On
// error the previous table stays in effect.
func (l *Limiter) SetTable(t DomainTable) error {
	if err := t.Validate(); err != nil {
		return err
	}
	l.table.Store(&t)

	l.mu.RLock()
	defer l.mu.RUnlock()
	for source, w := range l.sources {
		p := t.Lookup(source)
		w.mu.Lock()
		if p != w.base {
			w.base, w.minDelay, w.maxRequests = p, p.MinDelay, p.MaxRequests
		}
		w.mu.Unlock()
	}
	return nil
}

// Admit returns how long the caller should wait before requesting source.
// It does not record anything.
func (l *Limiter) Admit(source string) time.Duration {
	w := l.window(source)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delay(l.clock.Now(), l.tuning.Jitter, l.rand)
}

// Record appends the current time to source's window.
func (l *Limiter) Record(source string) {
	w := l.window(source)
	now := l.clock.Now()
	w.mu.Lock()
	w.push(now)
	w.mu.Unlock()
}

// Reserve computes the delay and records now+delay as the request time in a
// single critical section, so concurrent callers for one source still respect
// the spacing.
func (l *Limiter) Reserve(source string) time.Duration {
	w := l.window(source)
	now := l.clock.Now()
	w.mu.Lock()
	d := w.delay(now, l.tuning.Jitter, l.rand)
	w.push(now.Add(d))
	w.mu.Unlock()

	if d > 0 && l.onDelay != nil {
		l.onDelay(source, d)
	}
	return d
}

// Wait reserves a slot for source and sleeps until it is due.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	d := l.Reserve(source)
	if l.sleep != nil {
		return l.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordSuccess feeds a successful request into the adaptive ratio.
func (l *Limiter) RecordSuccess(source string) {
	l.observe(source, true)
}

// RecordFailure feeds a failed request into the adaptive ratio.
func (l *Limiter) RecordFailure(source string) {
	l.observe(source, false)
}

// Stats returns the current view of source, if it is known.
func (l *Limiter) Stats(source string) (SourceStats, bool) {
	l.mu.RLock()
	w, ok := l.sources[source]
	l.mu.RUnlock()
	if !ok {
		return SourceStats{}, false
	}
	return w.stats(source, l.clock.Now()), true
}

// Snapshot returns stats for every known source.
func (l *Limiter) Snapshot() map[string]SourceStats {
	now := l.clock.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]SourceStats, len(l.sources))
	for source, w := range l.sources {
		out[source] = w.stats(source, now)
	}
	return out
}

// Prune forgets sources with no activity for longer than idle.
func (l *Limiter) Prune(idle time.Duration) int {
	cutoff := l.clock.Now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for source, w := range l.sources {
		w.mu.Lock()
		stale := w.lastActive.Before(cutoff)
		w.mu.Unlock()
		if stale {
			delete(l.sources, source)
			removed++
		}
	}
	return removed
}

func (l *Limiter) window(source string) *window {
	l.mu.RLock()
	w, ok := l.sources[source]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.sources[source]; ok {
		return w
	}
	p := l.table.Load().Lookup(source)
	w = &window{
		base:        p,
		minDelay:    p.MinDelay,
		maxRequests: p.MaxRequests,
		countersAt:  l.clock.Now(),
		lastActive:  l.clock.Now(),
	}
	l.sources[source] = w
	return w
}

func (l *Limiter) observe(source string, success bool) {
	w := l.window(source)
	now := l.clock.Now()
	t := l.tuning

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastActive = now
	if now.Sub(w.countersAt) >= t.ResetInterval {
		w.successes, w.failures = 0, 0
		w.countersAt = now
	}
	if success {
		w.successes++
	} else {
		w.failures++
	}
	total := w.successes + w.failures
	w.ratio = float64(w.successes) / float64(total)
	if total < t.MinSamples {
		return
	}

	prevDelay, prevMax := w.minDelay, w.maxRequests
	if w.ratio >= t.SuccessThreshold {
		w.minDelay = maxDuration(scale(w.minDelay, t.LoosenDelay), scale(w.base.MinDelay, t.DelayFloor))
		capReq := int(math.Floor(float64(w.base.MaxRequests) * t.RequestsCap))
		w.maxRequests = min(int(math.Ceil(float64(w.maxRequests)*t.LoosenRequests)), capReq)
	} else {
		w.minDelay = minDuration(scale(w.minDelay, t.TightenDelay), scale(w.base.MinDelay, t.DelayCap))
		floorReq := max(1, int(math.Floor(float64(w.base.MaxRequests)*t.RequestsFloor)))
		w.maxRequests = max(int(math.Floor(float64(w.maxRequests)*t.TightenRequests)), floorReq)
	}

	if w.minDelay != prevDelay || w.maxRequests != prevMax {
		l.logger.Debug("rate limit adapted",
			slog.String("source", source),
			slog.Float64("success_ratio", w.ratio),
			slog.Duration("min_delay", w.minDelay),
			slog.Int("max_requests", w.maxRequests))
	}
}

// delay computes the admission wait at now. Callers hold w.mu.
func (w *window) delay(now time.Time, jitter float64, rnd func() float64) time.Duration {
	w.trim(now)

	var d time.Duration
	if !w.last.IsZero() {
		if wait := w.minDelay - now.Sub(w.last); wait > 0 {
			// Jitter spreads callers out but never shortens the spacing.
			jittered := time.Duration(float64(wait) * (1 + (rnd()*2-1)*jitter))
			d = maxDuration(jittered, wait)
		}
	}

	// Reserved slots may lie in the future, so the new request waits for the
	// maxRequests-th most recent slot to leave the window, not the oldest.
	if n := len(w.stamps); n >= w.maxRequests {
		until := w.stamps[n-w.maxRequests].Add(w.base.Window).Sub(now)
		d = maxDuration(d, maxDuration(until, w.minDelay))
	}
	return d
}

// push inserts at, keeping stamps ordered.
func (w *window) push(at time.Time) {
	i := len(w.stamps)
	for i > 0 && w.stamps[i-1].After(at) {
		i--
	}
	w.stamps = slices.Insert(w.stamps, i, at)
	if at.After(w.last) {
		w.last = at
	}
	if at.After(w.lastActive) {
		w.lastActive = at
	}
}

// trim drops timestamps that left the window.
func (w *window) trim(now time.Time) {
	cut := 0
	for cut < len(w.stamps) && now.Sub(w.stamps[cut]) >= w.base.Window {
		cut++
	}
	if cut > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[cut:]...)
	}
}

func (w *window) stats(source string, now time.Time) SourceStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim(now)
	return SourceStats{
		Source:          source,
		MinDelay:        w.minDelay,
		MaxRequests:     w.maxRequests,
		BaseMinDelay:    w.base.MinDelay,
		BaseMaxRequests: w.base.MaxRequests,
		Window:          w.base.Window,
		InWindow:        len(w.stamps),
		Samples:         w.successes + w.failures,
		SuccessRatio:    w.ratio,
		LastRequest:     w.last,
	}
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
