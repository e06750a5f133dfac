package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	httpx "feedrelay/internal/handler/http"
	"feedrelay/internal/handler/http/admin"
	"feedrelay/internal/handler/http/requestid"
)

const adminMaxBodyBytes = 64 << 10

type adminDeps struct {
	feeds    admin.FeedService
	sched    admin.Scheduler
	res      *resilience
	queue    admin.Queue
	logger   *slog.Logger
	maxBytes int64
}

// newAdminServer serves /metrics and the /admin API. A manual check runs
// synchronously, so the write timeout covers a whole check.
func newAdminServer(addr string, d adminDeps) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	admin.Register(mux, admin.Deps{
		Feeds:    d.feeds,
		Sched:    d.sched,
		Breakers: d.res.breakers,
		Limiter:  d.res.limiter,
		Recovery: d.res.recovery,
		Queue:    d.queue,
	})

	handler := httpx.Chain(mux,
		requestid.Middleware,
		httpx.Tracing(otel.GetTracerProvider()),
		httpx.Logging(d.logger),
		httpx.Recover(d.logger),
		httpx.LimitRequestBody(d.maxBytes),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
}
