package admin

import (
	"net/http"
	"time"
)

// Deps are the components the admin API reads and drives. Breakers,
// Limiter, Recovery and Queue may be nil.
type Deps struct {
	Feeds    FeedService
	Sched    Scheduler
	Breakers Breakers
	Limiter  Limiter
	Recovery Recovery
	Queue    Queue
	Now      func() time.Time
}

// Register mounts the admin routes on mux.
func Register(mux *http.ServeMux, d Deps) {
	mux.Handle("GET /admin/feeds", ListFeedsHandler{Svc: d.Feeds, Sched: d.Sched})
	mux.Handle("POST /admin/feeds", CreateFeedHandler{Svc: d.Feeds, Sched: d.Sched})
	mux.Handle("GET /admin/feeds/{id}", GetFeedHandler{Svc: d.Feeds, Sched: d.Sched})
	mux.Handle("DELETE /admin/feeds/{id}", DeleteHandler{Svc: d.Feeds})
	mux.Handle("POST /admin/feeds/{id}/disable", DisableHandler{Svc: d.Feeds})
	mux.Handle("POST /admin/feeds/{id}/enable", EnableHandler{Svc: d.Feeds})
	mux.Handle("POST /admin/feeds/{id}/check", CheckHandler{Svc: d.Feeds})

	mux.Handle("GET /admin/schedule", ScheduleHandler{Sched: d.Sched})
	mux.Handle("POST /admin/schedule/reconcile", ReconcileHandler{Sched: d.Sched})

	mux.Handle("GET /admin/stats", StatsHandler{
		Breakers: d.Breakers, Limiter: d.Limiter, Recovery: d.Recovery, Queue: d.Queue, Now: d.Now,
	})
	mux.Handle("POST /admin/sources/{source}/reset", ResetSourceHandler{Breakers: d.Breakers, Recovery: d.Recovery})
}
