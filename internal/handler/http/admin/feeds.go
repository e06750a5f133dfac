package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/handler/http/respond"
	"feedrelay/internal/usecase/feed"
)

// ListFeedsHandler serves GET /admin/feeds. ?chat_id= narrows to one chat.
type ListFeedsHandler struct {
	Svc   FeedService
	Sched Scheduler
}

func (h ListFeedsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		list []*entity.Feed
		err  error
	)
	if raw := r.URL.Query().Get("chat_id"); raw != "" {
		chatID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			respond.SafeError(w, http.StatusBadRequest, errors.New("chat_id must be an integer"))
			return
		}
		list, err = h.Svc.List(r.Context(), chatID)
	} else {
		list, err = h.Svc.ListAll(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]FeedDTO, 0, len(list))
	for _, f := range list {
		out = append(out, toFeedDTO(f, h.Sched.IsScheduled(f.ID)))
	}
	respond.JSON(w, http.StatusOK, out)
}

// CreateFeedHandler serves POST /admin/feeds.
type CreateFeedHandler struct {
	Svc   FeedService
	Sched Scheduler
}

func (h CreateFeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CreateFeedRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respond.SafeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	f, err := h.Svc.Subscribe(r.Context(), feed.SubscribeInput{
		ChatID:          req.ChatID,
		URL:             req.URL,
		Title:           req.Title,
		IntervalMinutes: req.IntervalMinutes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/admin/feeds/"+f.ID)
	respond.JSON(w, http.StatusCreated, toFeedDTO(f, h.Sched.IsScheduled(f.ID)))
}

// GetFeedHandler serves GET /admin/feeds/{id}.
type GetFeedHandler struct {
	Svc   FeedService
	Sched Scheduler
}

func (h GetFeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f, err := h.Svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toFeedDTO(f, h.Sched.IsScheduled(f.ID)))
}

// DisableHandler serves POST /admin/feeds/{id}/disable.
type DisableHandler struct{ Svc FeedService }

func (h DisableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Disable(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnableHandler serves POST /admin/feeds/{id}/enable.
type EnableHandler struct{ Svc FeedService }

func (h EnableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Enable(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteHandler serves DELETE /admin/feeds/{id}.
type DeleteHandler struct{ Svc FeedService }

func (h DeleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckHandler serves POST /admin/feeds/{id}/check. It runs the check
// synchronously and reports a failed fetch as 502.
type CheckHandler struct{ Svc FeedService }

func (h CheckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Svc.CheckNow(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"feed_id": id, "status": "checked"})
}
