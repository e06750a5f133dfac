package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"feedrelay/internal/observability/metrics"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a resilience file when it changes and hands each valid
// version to apply. An invalid version is rejected and the previous one
// stays in force.
type Watcher struct {
	path     string
	apply    func(*Resilience) error
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current *Resilience
}

// NewWatcher returns a Watcher for path with initial as the config in force.
func NewWatcher(path string, initial *Resilience, apply func(*Resilience) error, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		apply:    apply,
		logger:   logger,
		debounce: DefaultDebounce,
		current:  initial,
	}
}

// Current returns the config in force.
func (w *Watcher) Current() *Resilience {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload reads the file and applies it. On any error the current config is
// kept; validation failures are also counted.
func (w *Watcher) Reload() error {
	r, err := LoadResilience(w.path)
	if err != nil {
		if IsValidationError(err) {
			metrics.RecordResilienceConfigRejected()
		}
		w.logger.Warn("resilience config rejected, keeping previous",
			slog.String("path", w.path),
			slog.Any("error", err))
		return err
	}
	if err := w.apply(r); err != nil {
		metrics.RecordResilienceConfigRejected()
		w.logger.Warn("resilience config not applied, keeping previous",
			slog.String("path", w.path),
			slog.Any("error", err))
		return err
	}

	w.mu.Lock()
	w.current = r
	w.mu.Unlock()
	w.logger.Info("resilience config reloaded", slog.String("path", w.path))
	return nil
}

// Run watches the file's directory until ctx is done. Watching the directory
// catches editors and config managers that replace the file by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	target := filepath.Clean(w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			_ = w.Reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("resilience config watcher error", slog.Any("error", err))
		}
	}
}
