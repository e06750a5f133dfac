// Package deliver sends chat messages through the resilience stack.
//
// Handler wraps a Sender with classification, per-kind retry budgets, the
// delivery endpoint's circuit breaker and recovery gate. Messages that
// exhaust their retries on a transient failure are handed to a ReplayQueue,
// which redelivers them on a fixed cadence.
package deliver

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"feedrelay/internal/observability/metrics"
	"feedrelay/internal/observability/tracing"
	"feedrelay/internal/pkg/clock"
	"feedrelay/internal/resilience/circuitbreaker"
	"feedrelay/internal/resilience/faults"
	"feedrelay/internal/resilience/ratelimit"
	"feedrelay/internal/resilience/recovery"
	"feedrelay/internal/resilience/retry"
)

const (
	// DefaultEndpoint keys the delivery transport in the breaker, limiter
	// and recovery maps.
	DefaultEndpoint = "chat"
	// DefaultTimeout bounds a single send attempt.
	DefaultTimeout = 15 * time.Second
)

// Sender is the delivery transport. Failures should carry a
// *faults.TransportError so they classify precisely.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Config configures a Handler. Zero values select defaults.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Policies Policies
	Clock    clock.Clock
	Logger   *slog.Logger
	// Sleep replaces the context-aware wait between retries.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Deps are the shared resilience components. Limiter and Queue may be nil.
type Deps struct {
	Backoff  retry.Policy
	Breakers *circuitbreaker.SourceBreakers
	Recovery *recovery.Manager
	Limiter  *ratelimit.Limiter
	Queue    *ReplayQueue
}

// Handler delivers messages. Deliver never returns an error; every failure
// ends as Queued or Dropped.
type Handler struct {
	sender   Sender
	deps     Deps
	endpoint string
	timeout  time.Duration
	policies Policies
	clock    clock.Clock
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewHandler returns a Handler. Backoff, Breakers and Recovery are required.
func NewHandler(sender Sender, deps Deps, cfg Config) *Handler {
	h := &Handler{
		sender:   sender,
		deps:     deps,
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		policies: cfg.Policies,
		clock:    clock.OrSystem(cfg.Clock),
		logger:   cfg.Logger,
		sleep:    cfg.Sleep,
	}
	if h.endpoint == "" {
		h.endpoint = DefaultEndpoint
	}
	if h.timeout <= 0 {
		h.timeout = DefaultTimeout
	}
	if h.policies == nil {
		h.policies = DefaultPolicies()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Endpoint returns the key the handler records resilience state under.
func (h *Handler) Endpoint() string {
	return h.endpoint
}

// Queue returns the replay queue, or nil.
func (h *Handler) Queue() *ReplayQueue {
	return h.deps.Queue
}

// Deliver sends msg, retrying within the kind's budget. Transient failures
// that exhaust the budget are queued for replay; the rest are dropped.
func (h *Handler) Deliver(ctx context.Context, msg Message) Result {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return h.run(ctx, msg, 0, false)
}

// Redeliver makes a single attempt for a message taken off the replay
// queue. A transient failure is reported as Queued without enqueuing; the
// replay queue puts the message back at its head.
func (h *Handler) Redeliver(ctx context.Context, msg Message) Result {
	return h.run(ctx, msg, 1, true)
}

func (h *Handler) run(ctx context.Context, msg Message, maxAttempts int, replay bool) Result {
	ctx, span := tracing.StartSpan(ctx, "deliver.send",
		attribute.String("message.id", msg.ID),
		attribute.String("feed.id", msg.FeedID),
		attribute.Int64("chat.id", msg.ChatID),
		attribute.Int("message.replays", msg.Replays),
	)
	logger := h.logger.With(
		slog.String("message_id", msg.ID),
		slog.String("feed_id", msg.FeedID),
		slog.String("chat_id", strconv.FormatInt(msg.ChatID, 10)),
	)

	var (
		probing bool
		started time.Time
	)
	hooks := retry.Hooks{
		Sleep: h.sleep,
		Before: func(ctx context.Context, attempt int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var err error
			probing, err = h.gate()
			started = h.clock.Now()
			return err
		},
		After: func(a retry.Attempt) bool {
			// A cancelled send says nothing about the endpoint's health.
			if errors.Is(a.Err, context.Canceled) {
				logger.Debug("delivery attempt cancelled", slog.Int("attempt", a.Number))
				return false
			}
			h.recordFailure(a.Kind, probing, h.clock.Now().Sub(started))
			logger.Debug("delivery attempt failed",
				slog.Int("attempt", a.Number),
				slog.String("kind", string(a.Kind)),
				slog.Duration("next_delay", a.Delay),
				slog.Bool("will_retry", a.WillRetry),
				slog.Any("error", a.Err))
			if maxAttempts > 0 && a.Number >= maxAttempts {
				return false
			}
			return true
		},
	}

	res := retry.Do(ctx, h.policy(), hooks, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if err := h.sender.Send(actx, msg.ChatID, msg.Text); err != nil {
			return err
		}
		h.recordSuccess(probing, h.clock.Now().Sub(started))
		return nil
	})

	out := h.settle(ctx, msg, res, replay, logger)
	span.SetAttributes(
		attribute.String("deliver.outcome", string(out.Outcome)),
		attribute.Int("deliver.attempts", out.Attempts),
	)
	if out.Outcome == Dropped {
		tracing.EndSpan(span, out.Err)
	} else {
		tracing.EndSpan(span, nil)
	}
	metrics.RecordDelivery(string(out.Outcome), string(out.Kind))
	return out
}

// gate admits a send. It reports whether the send is a half-open recovery
// probe.
func (h *Handler) gate() (bool, error) {
	if !h.deps.Breakers.CanExecute(h.endpoint) {
		return false, ErrBreakerOpen
	}
	if h.deps.Breakers.State(h.endpoint) != gobreaker.StateHalfOpen {
		return false, nil
	}
	status := h.deps.Breakers.Status(h.endpoint)
	if !h.deps.Recovery.ShouldAttemptRecovery(h.endpoint, status.ConsecutiveFailures) {
		return false, ErrRecoveryDeferred
	}
	return true, nil
}

func (h *Handler) recordSuccess(probing bool, took time.Duration) {
	h.deps.Breakers.RecordSuccess(h.endpoint)
	if probing {
		h.deps.Recovery.RecordRecoveryAttempt(h.endpoint, true, took)
	}
	if h.deps.Limiter != nil {
		h.deps.Limiter.RecordSuccess(h.endpoint)
	}
}

func (h *Handler) recordFailure(kind faults.Kind, probing bool, took time.Duration) {
	h.deps.Recovery.RecordError(h.endpoint, kind)
	if probing {
		h.deps.Recovery.RecordRecoveryAttempt(h.endpoint, false, took)
	}
	if h.policies.For(kind).UsesBreaker {
		h.deps.Breakers.RecordFailure(h.endpoint)
	}
	if h.deps.Limiter != nil {
		h.deps.Limiter.RecordFailure(h.endpoint)
	}
}

// settle turns a retry result into a terminal outcome.
func (h *Handler) settle(ctx context.Context, msg Message, res retry.Result, replay bool, logger *slog.Logger) Result {
	out := Result{Kind: res.Kind, Attempts: res.Attempts, Err: res.Err}
	if res.Err == nil {
		out.Outcome = Delivered
		return out
	}

	// A gate refusal before any send says nothing about the message itself.
	queueable := res.Attempts == 0 && res.Gate != nil
	if res.Attempts > 0 {
		queueable = h.policies.For(res.Kind).Queueable
	}
	if queueable && replay {
		out.Outcome = Queued
		logger.Debug("replayed delivery still failing",
			slog.String("kind", string(res.Kind)),
			slog.Int("replays", msg.Replays),
			slog.Any("cause", res.Err))
		return out
	}
	if queueable {
		err := h.enqueue(ctx, msg)
		if err == nil {
			out.Outcome = Queued
			logger.Info("delivery queued for replay",
				slog.String("kind", string(res.Kind)),
				slog.Int("attempts", res.Attempts),
				slog.Any("cause", res.Err))
			return out
		}
		if !errors.Is(err, ErrNoQueue) {
			logger.Warn("replay enqueue failed", slog.Any("error", err))
		}
	}

	out.Outcome = Dropped
	logger.Error("delivery dropped",
		slog.String("kind", string(res.Kind)),
		slog.Int("attempts", res.Attempts),
		slog.Int("replays", msg.Replays),
		slog.Any("error", res.Err))
	return out
}

func (h *Handler) enqueue(ctx context.Context, msg Message) error {
	if h.deps.Queue == nil {
		return ErrNoQueue
	}
	// Shutdown cancels ctx; the entry must still reach the store.
	return h.deps.Queue.Enqueue(context.WithoutCancel(ctx), msg)
}

func (h *Handler) policy() retry.Policy {
	return adaptivePolicy{next: h.deps.Backoff, recovery: h.deps.Recovery, endpoint: h.endpoint}
}

// adaptivePolicy stretches backoff delays by the endpoint's recent recovery
// history. Rate-limit delays are left alone so Retry-After is honoured.
type adaptivePolicy struct {
	next     retry.Policy
	recovery *recovery.Manager
	endpoint string
}

func (p adaptivePolicy) Next(kind faults.Kind, retryCount int, retryAfter time.Duration) (time.Duration, bool) {
	d, ok := p.next.Next(kind, retryCount, retryAfter)
	if !ok || kind == faults.RateLimited {
		return d, ok
	}
	return p.recovery.AdaptiveRecoveryDelay(p.endpoint, d), true
}
