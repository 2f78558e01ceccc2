package ci

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("ci: unauthorized")
	ErrNotFound     = errors.New("ci: not found")
	ErrUnavailable  = errors.New("ci: unavailable")

	ErrInvalidServerURL = errors.New("ci: invalid server url")
)

// StatusError is a non-2xx response. Summary is the condensed body, safe to log.
type StatusError struct {
	Code    int
	Summary string
	kind    error
}

func (e *StatusError) Error() string {
	if e.Summary == "" {
		return fmt.Sprintf("jenkins returned %d", e.Code)
	}
	return fmt.Sprintf("jenkins returned %d: %s", e.Code, e.Summary)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

func newStatusError(code int, body []byte) *StatusError {
	var kind error
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = ErrUnauthorized
	case code == http.StatusNotFound:
		kind = ErrNotFound
	case code >= http.StatusInternalServerError:
		kind = ErrUnavailable
	}
	return &StatusError{Code: code, Summary: SummarizeBody(string(body)), kind: kind}
}

// Describe maps a client error to text that can be shown in a chat. It never
// includes the upstream body.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "Jenkins rejected your credentials. Please /login again."
	case errors.Is(err, ErrNotFound):
		return "The job or folder was not found on Jenkins."
	case errors.Is(err, ErrUnavailable):
		return "Jenkins is unreachable right now. Please try again later."
	default:
		return "An unexpected error occurred while talking to Jenkins."
	}
}
