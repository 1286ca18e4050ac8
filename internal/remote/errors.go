package remote

import (
	"context"
	"errors"
	"net"

	"google.golang.org/api/googleapi"
)

// ErrCursorExpired means the change-log cursor is older than the remote
// retention window. It is not a failure: callers fall back to reconciliation.
var ErrCursorExpired = errors.New("change-log cursor expired")

// ErrNotFound means the requested remote object does not exist. Per-item
// callers skip and record it rather than retry.
var ErrNotFound = errors.New("remote object not found")

// ErrUnauthenticated means the bearer token was rejected and a refresh did not
// help; the user must reauthenticate.
var ErrUnauthenticated = errors.New("unauthenticated")

// IsTransient reports whether err is worth retrying with backoff: timeouts,
// rate limits and server-side failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return false
}

// classifyAPIError maps a googleapi error to the package sentinels, leaving
// transient and unknown errors untouched.
func classifyAPIError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case 401:
		return ErrUnauthenticated
	case 404:
		return ErrNotFound
	}
	return err
}
