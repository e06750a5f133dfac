package admin

import (
	"context"
	"errors"
	"net/http"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/handler/http/respond"
	"feedrelay/internal/resilience/faults"
	"feedrelay/internal/usecase/feed"
	"feedrelay/internal/usecase/schedule"
)

// writeError maps use case errors to statuses.
func writeError(w http.ResponseWriter, err error) {
	var te *faults.TransportError
	switch {
	case errors.Is(err, feed.ErrFeedNotFound):
		respond.SafeError(w, http.StatusNotFound, feed.ErrFeedNotFound)
	case errors.Is(err, feed.ErrAlreadySubscribed):
		respond.SafeError(w, http.StatusConflict, feed.ErrAlreadySubscribed)
	case errors.Is(err, entity.ErrInvalidInput):
		respond.SafeError(w, http.StatusBadRequest, err)
	case errors.Is(err, entity.ErrScheduleInconsistent):
		respond.SafeError(w, http.StatusConflict, respond.NewAppError(http.StatusConflict,
			"schedule removal could not be verified, feed kept", err))
	case errors.Is(err, schedule.ErrNotScheduled):
		respond.SafeError(w, http.StatusConflict, schedule.ErrNotScheduled)
	case errors.Is(err, schedule.ErrInFlight):
		respond.SafeError(w, http.StatusConflict, schedule.ErrInFlight)
	case errors.As(err, &te):
		respond.SafeError(w, http.StatusBadGateway, respond.NewAppError(http.StatusBadGateway,
			"feed fetch failed: "+string(te.Kind), err))
	case errors.Is(err, context.DeadlineExceeded):
		respond.SafeError(w, http.StatusGatewayTimeout, respond.NewAppError(http.StatusGatewayTimeout,
			"operation timed out", err))
	default:
		respond.SafeError(w, http.StatusInternalServerError, err)
	}
}
