package deliver

import "errors"

var (
	// ErrBreakerOpen is returned by the send gate while the delivery
	// endpoint's breaker is open.
	ErrBreakerOpen = errors.New("delivery breaker open")

	// ErrRecoveryDeferred is returned by the send gate when a half-open
	// endpoint is not due for a recovery probe yet.
	ErrRecoveryDeferred = errors.New("recovery probe deferred")

	// ErrNoQueue is the drop cause when a queueable failure has nowhere to go.
	ErrNoQueue = errors.New("replay queue not configured")
)
