package admin

import (
	"errors"
	"net/http"
	"strconv"

	"feedrelay/internal/handler/http/respond"
)

// ScheduleHandler serves GET /admin/schedule.
type ScheduleHandler struct{ Sched Scheduler }

func (h ScheduleHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	entries := h.Sched.Entries()
	out := ScheduleDTO{
		Entries:         make([]EntryDTO, 0, len(entries)),
		InFlight:        h.Sched.InFlight(),
		Inconsistencies: h.Sched.Inconsistencies(),
	}
	for _, e := range entries {
		out.Entries = append(out.Entries, toEntryDTO(e))
	}
	respond.JSON(w, http.StatusOK, out)
}

// ReconcileHandler serves POST /admin/schedule/reconcile?thorough=true.
type ReconcileHandler struct{ Sched Scheduler }

func (h ReconcileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	thorough := false
	if raw := r.URL.Query().Get("thorough"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respond.SafeError(w, http.StatusBadRequest, errors.New("thorough must be a boolean"))
			return
		}
		thorough = v
	}

	report, err := h.Sched.Reconcile(r.Context(), thorough)
	if err != nil {
		writeError(w, err)
		return
	}
	out := ReconcileDTO{Report: report}
	for _, inc := range report.Inconsistencies {
		out.Inconsistencies = append(out.Inconsistencies, inc.Error())
	}
	respond.JSON(w, http.StatusOK, out)
}
