package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrBadEndpoint is returned when the request URL cannot be built.
var ErrBadEndpoint = errors.New("catalog: bad endpoint")

// Transport status sentinels. A *StatusError matches exactly one of them.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrClientError  = errors.New("client error")
	ErrServerError  = errors.New("server error")
)

// StatusKind classifies a non-success HTTP status.
type StatusKind string

// Status kinds.
const (
	KindUnauthorized StatusKind = "unauthorized"
	KindForbidden    StatusKind = "forbidden"
	KindNotFound     StatusKind = "not-found"
	KindRateLimited  StatusKind = "rate-limited"
	KindClientError  StatusKind = "client-error"
	KindServerError  StatusKind = "server-error"
)

// KindForStatus maps an HTTP status code onto a StatusKind.
func KindForStatus(code int) StatusKind {
	switch {
	case code == http.StatusUnauthorized:
		return KindUnauthorized
	case code == http.StatusForbidden:
		return KindForbidden
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 400 && code < 500:
		return KindClientError
	default:
		return KindServerError
	}
}

// StatusError is returned when the catalog answers with a non-2xx status.
type StatusError struct {
	Endpoint Endpoint
	Code     int
	Kind     StatusKind
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog %s: HTTP %d (%s)", e.Endpoint, e.Code, e.Kind)
}

// Is matches the sentinel for the error's kind.
func (e *StatusError) Is(target error) bool {
	switch e.Kind {
	case KindUnauthorized:
		return target == ErrUnauthorized
	case KindForbidden:
		return target == ErrForbidden
	case KindNotFound:
		return target == ErrNotFound
	case KindRateLimited:
		return target == ErrRateLimited
	case KindClientError:
		return target == ErrClientError
	default:
		return target == ErrServerError
	}
}

// DecodeError is returned when the body is not a JSON array of the expected records.
type DecodeError struct {
	Endpoint Endpoint
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("catalog %s: decode: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NetworkError wraps connectivity failures (DNS, timeout, reset, ...).
type NetworkError struct {
	Endpoint Endpoint
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("catalog %s: network: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt of the same fetch may succeed.
func Retryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError)
}
