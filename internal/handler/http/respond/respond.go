// Package respond writes JSON responses and maps errors to safe client
// messages.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// JSON writes v as the response body with the given status. A nil v writes
// headers only.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode JSON response",
			slog.Int("status_code", code),
			slog.Any("error", err))
	}
}

// errorBody is the shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// AppError carries a status and a message that is safe to show, separate
// from the internal cause.
type AppError struct {
	Code    int
	UserMsg string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.UserMsg
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError returns an AppError.
func NewAppError(code int, userMsg string, err error) *AppError {
	return &AppError{Code: code, UserMsg: userMsg, Err: err}
}

// SafeError writes err. An *AppError supplies its own status and message.
// Otherwise 4xx errors are shown as-is and 5xx errors are logged and
// replaced by a generic message. Logged errors are sanitized.
func SafeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		return
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil && appErr.Code >= 500 {
			logServerError(appErr.Code, appErr.Err)
		}
		JSON(w, appErr.Code, errorBody{Error: appErr.UserMsg})
		return
	}

	if code < 500 {
		JSON(w, code, errorBody{Error: SanitizeError(err)})
		return
	}
	logServerError(code, err)
	JSON(w, code, errorBody{Error: "internal server error"})
}

func logServerError(code int, err error) {
	slog.Default().Error("internal server error",
		slog.String("status", http.StatusText(code)),
		slog.Int("code", code),
		slog.String("error", SanitizeError(err)))
}
