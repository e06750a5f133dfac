package admin

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"feedrelay/internal/handler/http/respond"
	"feedrelay/internal/resilience/circuitbreaker"
	"feedrelay/internal/resilience/ratelimit"
	"feedrelay/internal/resilience/recovery"
)

// StatsHandler serves GET /admin/stats. Nil components report empty.
type StatsHandler struct {
	Breakers Breakers
	Limiter  Limiter
	Recovery Recovery
	Queue    Queue
	Now      func() time.Time
}

func (h StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	out := StatsDTO{
		GeneratedAt: now().UTC(),
		Breakers:    map[string]circuitbreaker.SourceStatus{},
		RateLimits:  map[string]ratelimit.SourceStats{},
		Recovery:    map[string]recovery.Stats{},
	}
	if h.Breakers != nil {
		out.Breakers = h.Breakers.Snapshot()
	}
	if h.Limiter != nil {
		out.RateLimits = h.Limiter.Snapshot()
	}
	if h.Recovery != nil {
		out.Recovery = h.Recovery.Snapshot()
	}
	if h.Queue != nil {
		out.ReplayDepth = h.Queue.Len(r.Context())
	}
	respond.JSON(w, http.StatusOK, out)
}

// ResetSourceHandler serves POST /admin/sources/{source}/reset. It closes
// the source's breaker and forgets its recovery history.
type ResetSourceHandler struct {
	Breakers Breakers
	Recovery Recovery
}

func (h ResetSourceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := strings.ToLower(strings.TrimSpace(r.PathValue("source")))
	if source == "" {
		respond.SafeError(w, http.StatusBadRequest, errors.New("source is required"))
		return
	}
	if h.Breakers != nil {
		h.Breakers.Reset(source)
	}
	if h.Recovery != nil {
		h.Recovery.Reset(source)
	}
	w.WriteHeader(http.StatusNoContent)
}
