package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by the services. Wrap them with fmt.Errorf("...: %w", ...)
// and classify with errors.Is.
var (
	ErrUnauthenticated  = errors.New("invalid or expired token")
	ErrNotParticipant   = errors.New("not an active participant")
	ErrBanned           = errors.New("banned in this space")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnavailable      = errors.New("temporarily unavailable, retry later")
)

type class struct {
	err    error
	code   string
	status int
}

var classes = []class{
	{ErrUnauthenticated, "unauthenticated", http.StatusUnauthorized},
	{ErrNotParticipant, "not_participant", http.StatusForbidden},
	{ErrBanned, "banned", http.StatusForbidden},
	{ErrPermissionDenied, "permission_denied", http.StatusForbidden},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrInvalidInput, "invalid_input", http.StatusBadRequest},
	{ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
	{ErrUnavailable, "unavailable", http.StatusServiceUnavailable},
}

func lookup(err error) (class, bool) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return class{}, false
}

// Code returns the machine-readable code sent in websocket error events.
func Code(err error) string {
	if c, ok := lookup(err); ok {
		return c.code
	}
	return "internal"
}

// HTTPStatus maps an error to the REST status code.
func HTTPStatus(err error) int {
	if c, ok := lookup(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// PublicMessage returns text that is safe to show to the requesting client.
// Unclassified errors and persistence failures never leak their details.
func PublicMessage(err error) string {
	c, ok := lookup(err)
	if !ok {
		return "internal error"
	}
	if c.err == ErrUnavailable {
		return ErrUnavailable.Error()
	}
	return err.Error()
}

// Classified reports whether err wraps one of the sentinels.
func Classified(err error) bool {
	_, ok := lookup(err)
	return ok
}

// Store wraps a persistence failure. Classified errors pass through, anything
// else becomes ErrUnavailable with the cause kept for logs.
func Store(op string, err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
