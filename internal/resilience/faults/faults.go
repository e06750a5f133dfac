// Package faults defines the transport error taxonomy shared by fetching,
// delivery, backoff and recovery.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Kind classifies a transport failure.
type Kind string

const (
	NetworkError      Kind = "network_error"
	RateLimited       Kind = "rate_limited"
	ClientError       Kind = "client_error"
	ServerError       Kind = "server_error"
	Timeout           Kind = "timeout"
	ConnectionRefused Kind = "connection_refused"
)

// Kinds lists every Kind in a stable order.
var Kinds = []Kind{NetworkError, RateLimited, ClientError, ServerError, Timeout, ConnectionRefused}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// NetworkClass reports whether the kind stems from the network path rather
// than from a response.
func (k Kind) NetworkClass() bool {
	return k == NetworkError || k == ConnectionRefused
}

// TransportError is returned by fetch and delivery adapters. Code is the HTTP
// status when a response was received, 0 otherwise. RetryAfter is only set
// for RateLimited errors that carried an upstream hint.
type TransportError struct {
	Code       int
	Kind       Kind
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FromStatus builds a TransportError for a non-success HTTP status.
func FromStatus(code int, message string) *TransportError {
	return &TransportError{Code: code, Kind: KindForStatus(code), Message: message}
}

// FromResponse builds a TransportError for a non-success response. A
// Retry-After header is honoured on 429 and 503 responses.
func FromResponse(resp *http.Response, message string) *TransportError {
	te := FromStatus(resp.StatusCode, message)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		te.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return te
}

// ParseRetryAfter reads a Retry-After value given as delta seconds or as an
// HTTP date. Unparseable or past values yield 0.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// KindForStatus maps an HTTP status to a Kind. It must only be called for
// non-2xx, non-304 statuses.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return RateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return Timeout
	case code >= 400 && code < 500:
		return ClientError
	case code >= 500:
		return ServerError
	default:
		return NetworkError
	}
}

// Classify maps any error to a Kind. A deadline is always Timeout, never
// NetworkError.
func Classify(err error) Kind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ConnectionRefused
	}
	return NetworkError
}

// RetryAfter extracts an upstream Retry-After hint from err, if any.
func RetryAfter(err error) time.Duration {
	var te *TransportError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// StatusCode extracts the HTTP status carried by err, if any.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code
	}
	return 0
}
