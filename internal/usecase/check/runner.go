// Package check runs one scheduled feed check end to end: admission, fetch,
// conditional caching, deduplication and delivery.
package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/infra/feedcache"
	"feedrelay/internal/observability/logging"
	"feedrelay/internal/observability/metrics"
	"feedrelay/internal/observability/tracing"
	"feedrelay/internal/pkg/clock"
	"feedrelay/internal/repository"
	"feedrelay/internal/resilience/circuitbreaker"
	"feedrelay/internal/resilience/faults"
	"feedrelay/internal/resilience/ratelimit"
	"feedrelay/internal/resilience/recovery"
	"feedrelay/internal/usecase/dedupe"
	"feedrelay/internal/usecase/deliver"
	"feedrelay/internal/usecase/schedule"
)

// Defaults for Config.
const (
	DefaultFailureThreshold = 10
	DefaultMaxItemsPerCheck = 10
	DefaultFetchTimeout     = 30 * time.Second
)

// FetchResult is the raw outcome of one HTTP fetch.
type FetchResult struct {
	StatusCode   int
	Body         []byte
	ETag         string
	LastModified string
}

// NotModified reports a 304 response.
func (r *FetchResult) NotModified() bool {
	return r.StatusCode == http.StatusNotModified
}

// FeedFetcher performs the HTTP request. Non-2xx, non-304 responses are
// returned as *faults.TransportError.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) (*FetchResult, error)
}

// Decoder turns a feed document into items.
type Decoder interface {
	Decode(body []byte) ([]entity.Item, error)
}

// Delivery sends one message. *deliver.Handler implements it.
type Delivery interface {
	Deliver(ctx context.Context, msg deliver.Message) deliver.Result
}

// Config configures a Runner. Zero values select defaults.
type Config struct {
	FailureThreshold int
	MaxItemsPerCheck int
	FetchTimeout     time.Duration
	DedupeTTL        time.Duration
	// Format renders an item as chat text.
	Format func(item entity.Item) string
	Clock  clock.Clock
}

// Deps are the Runner's collaborators. All are required.
type Deps struct {
	Feeds    repository.FeedRepository
	Fetcher  FeedFetcher
	Decoder  Decoder
	Cache    *feedcache.Cache
	Dedupe   *dedupe.Deduplicator
	Delivery Delivery
	Breakers *circuitbreaker.SourceBreakers
	Recovery *recovery.Manager
	Limiter  *ratelimit.Limiter
}

// Runner executes scheduled checks. Check has the schedule.CheckFunc
// signature.
type Runner struct {
	deps     Deps
	cfg      Config
	clock    clock.Clock
	policies deliver.Policies
}

var _ schedule.CheckFunc = (*Runner)(nil).Check

// NewRunner returns a Runner.
func NewRunner(deps Deps, cfg Config) *Runner {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.MaxItemsPerCheck <= 0 {
		cfg.MaxItemsPerCheck = DefaultMaxItemsPerCheck
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Format == nil {
		cfg.Format = FormatItem
	}
	return &Runner{deps: deps, cfg: cfg, clock: clock.OrSystem(cfg.Clock), policies: deliver.DefaultPolicies()}
}

// Check runs one feed check. A fetch failure is returned after it has been
// counted; every later failure is absorbed.
func (r *Runner) Check(ctx context.Context, run *schedule.Run) (err error) {
	c := run.Check
	source := entity.SourceKey(c.FeedURL)
	logger := logging.FromContext(ctx)
	start := r.clock.Now()
	result := "success"

	ctx, span := tracing.StartSpan(ctx, "feed.check",
		attribute.String("feed.id", c.FeedID),
		attribute.String("feed.source", source),
		attribute.String("run.id", run.ID),
	)
	defer func() {
		span.SetAttributes(attribute.String("check.result", result))
		tracing.EndSpan(span, err)
		metrics.RecordFeedCheck(result, r.clock.Now().Sub(start))
	}()

	// Admission.
	if !r.deps.Breakers.CanExecute(source) {
		result = "skipped"
		metrics.RecordCheckSkipped("breaker_open")
		logger.Debug("check skipped, source breaker open")
		return nil
	}
	probing := false
	if r.deps.Breakers.State(source) == gobreaker.StateHalfOpen {
		status := r.deps.Breakers.Status(source)
		if !r.deps.Recovery.ShouldAttemptRecovery(source, status.ConsecutiveFailures) {
			result = "skipped"
			metrics.RecordCheckSkipped("recovery_deferred")
			logger.Debug("check skipped, recovery probe not due")
			return nil
		}
		probing = true
	}
	if err := r.deps.Limiter.Wait(ctx, source); err != nil {
		result = "cancelled"
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// Fetch and record the outcome against the source.
	fetchStart := r.clock.Now()
	items, err := r.fetch(ctx, source, c.FeedURL)
	took := r.clock.Now().Sub(fetchStart)
	if err != nil && errors.Is(err, context.Canceled) {
		result = "cancelled"
		return fmt.Errorf("fetch %s: %w", c.FeedURL, err)
	}
	if err != nil {
		kind := faults.Classify(err)
		r.recordFetch(source, kind, false, probing, took)
		result = "failure"
		logger.Warn("feed fetch failed",
			slog.String("kind", string(kind)),
			slog.Int("status", faults.StatusCode(err)),
			slog.Any("error", err))
		if run.Alive() {
			r.countFailure(ctx, run, logger)
		}
		return fmt.Errorf("fetch %s: %w", c.FeedURL, err)
	}
	r.recordFetch(source, "", true, probing, took)

	if !run.Alive() {
		result = "discarded"
		return nil
	}

	feed, err := r.deps.Feeds.Get(ctx, c.FeedID)
	if err != nil {
		result = "failure"
		logger.Error("feed lookup failed", slog.Any("error", err))
		return nil
	}
	if feed == nil || !feed.Enabled {
		result = "discarded"
		return nil
	}

	items = append([]entity.Item(nil), items...)
	sortNewestFirst(items)
	var fresh []entity.Item
	var freshIDs []string
	for _, it := range items {
		id := dedupe.Identity(it)
		if r.deps.Dedupe.IsNew(c.FeedID, id) {
			fresh = append(fresh, it)
			freshIDs = append(freshIDs, id)
		}
	}
	metrics.RecordDedupe(len(fresh), len(items)-len(fresh))

	// A new subscription starts from the feed's current state.
	if feed.LastCheckedAt == nil && feed.LastItemID == "" {
		for _, id := range freshIDs {
			r.deps.Dedupe.MarkSeen(ctx, c.FeedID, id, r.cfg.DedupeTTL)
		}
		last := ""
		if len(items) > 0 {
			last = dedupe.Identity(items[0])
		}
		result = "seeded"
		logger.Info("subscription seeded", slog.Int("items", len(freshIDs)))
		return r.finish(ctx, run, last, logger)
	}

	// Only the newest MaxItemsPerCheck are delivered; the backlog is skipped.
	if len(fresh) > r.cfg.MaxItemsPerCheck {
		for _, id := range freshIDs[r.cfg.MaxItemsPerCheck:] {
			r.deps.Dedupe.MarkSeen(ctx, c.FeedID, id, r.cfg.DedupeTTL)
		}
		logger.Info("backlog skipped", slog.Int("skipped", len(fresh)-r.cfg.MaxItemsPerCheck))
		fresh, freshIDs = fresh[:r.cfg.MaxItemsPerCheck], freshIDs[:r.cfg.MaxItemsPerCheck]
	}

	last, dropped := "", 0
	for i := len(fresh) - 1; i >= 0; i-- {
		if !run.Alive() {
			result = "discarded"
			logger.Info("feed unscheduled mid-check, remaining items discarded", slog.Int("remaining", i+1))
			return nil
		}
		res := r.deps.Delivery.Deliver(ctx, deliver.Message{
			FeedID: c.FeedID,
			ItemID: freshIDs[i],
			ChatID: c.ChatID,
			Text:   r.cfg.Format(fresh[i]),
		})
		if !res.Accepted() {
			dropped++
			continue
		}
		r.deps.Dedupe.MarkSeen(ctx, c.FeedID, freshIDs[i], r.cfg.DedupeTTL)
		last = freshIDs[i]
	}

	if dropped > 0 {
		result = "partial"
		logger.Warn("deliveries dropped", slog.Int("dropped", dropped), slog.Int("delivered", len(fresh)-dropped))
		if last != "" {
			if err := run.UpdateLastItem(ctx, last); err != nil {
				logger.Warn("last item not persisted", slog.Any("error", err))
			}
		}
		r.countFailure(ctx, run, logger)
		return nil
	}
	return r.finish(ctx, run, last, logger)
}

func (r *Runner) finish(ctx context.Context, run *schedule.Run, last string, logger *slog.Logger) error {
	if !run.Alive() {
		return nil
	}
	if last != "" {
		if err := run.UpdateLastItem(ctx, last); err != nil {
			logger.Warn("last item not persisted", slog.Any("error", err))
		}
	}
	if err := r.deps.Feeds.RecordCheck(ctx, run.Check.FeedID, last, r.clock.Now()); err != nil {
		logger.Error("check result not persisted", slog.Any("error", err))
	}
	return nil
}

// fetch returns the feed's items, using the conditional cache. A 304 for
// which the cache lost its snapshot is refetched unconditionally, in a slot
// of its own.
func (r *Runner) fetch(ctx context.Context, source, url string) ([]entity.Item, error) {
	res, err := r.get(ctx, url, r.deps.Cache.ConditionalHeaders(url))
	if err != nil {
		return nil, err
	}
	if res.NotModified() {
		items, err := r.deps.Cache.Handle304(url)
		if !errors.Is(err, feedcache.ErrNoSnapshot) {
			return items, err
		}
		if err := r.deps.Limiter.Wait(ctx, source); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		res, err = r.get(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		if res.NotModified() {
			return nil, &faults.TransportError{Code: res.StatusCode, Kind: faults.ServerError, Message: "304 to an unconditional request"}
		}
	}

	items, err := r.deps.Decoder.Decode(res.Body)
	if err != nil {
		return nil, &faults.TransportError{Code: res.StatusCode, Kind: faults.ClientError, Message: "undecodable feed", Err: err}
	}
	r.deps.Cache.Set(url, items, res.ETag, res.LastModified)
	return items, nil
}

func (r *Runner) get(ctx context.Context, url string, header http.Header) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	return r.deps.Fetcher.Fetch(ctx, url, header)
}

func (r *Runner) recordFetch(source string, kind faults.Kind, success, probing bool, took time.Duration) {
	if success {
		r.deps.Breakers.RecordSuccess(source)
		r.deps.Limiter.RecordSuccess(source)
	} else {
		if r.policies.For(kind).UsesBreaker {
			r.deps.Breakers.RecordFailure(source)
		}
		r.deps.Limiter.RecordFailure(source)
		r.deps.Recovery.RecordError(source, kind)
	}
	if probing {
		r.deps.Recovery.RecordRecoveryAttempt(source, success, took)
	}
}

// countFailure bumps the feed's failure counter and disables the feed once
// it exceeds the threshold.
func (r *Runner) countFailure(ctx context.Context, run *schedule.Run, logger *slog.Logger) {
	feedID := run.Check.FeedID
	n, err := r.deps.Feeds.IncrementFailure(ctx, feedID)
	if err != nil {
		logger.Error("failure count not persisted", slog.Any("error", err))
		return
	}
	if n <= r.cfg.FailureThreshold {
		return
	}

	if err := r.deps.Feeds.SetEnabled(ctx, feedID, false); err != nil {
		logger.Error("feed could not be disabled", slog.Int("failures", n), slog.Any("error", err))
		return
	}
	if err := run.Unschedule(ctx); err != nil {
		logger.Error("disabled feed not unscheduled", slog.Any("error", err))
	}
	metrics.RecordFeedDisabled()
	logger.Error("feed disabled after repeated failures", slog.Int("failures", n))
}

// sortNewestFirst orders items by publish time, newest first. Items without
// a publish time keep their document order after the dated ones.
func sortNewestFirst(items []entity.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].PublishedAt, items[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

// FormatItem renders an item as its title followed by its link.
func FormatItem(item entity.Item) string {
	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	switch {
	case title == "":
		return link
	case link == "":
		return title
	default:
		return title + "\n" + link
	}
}
