package watermark

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransient marks failures that are safe to retry: timeouts,
	// connection errors, 5xx and 429 responses.
	ErrTransient = errors.New("transient network error")
	// ErrRejected marks requests the service refused (4xx, malformed reply).
	// Retrying them cannot succeed.
	ErrRejected = errors.New("rejected by watermarking service")
	// ErrFetch marks a download attempted before the job was done or
	// refused by the service.
	ErrFetch = errors.New("fetch failed")
)

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Op   string
	Code int
	Body string
	kind error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: %s (HTTP %d)", e.Op, e.kind, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap lets errors.Is match the error class.
func (e *StatusError) Unwrap() error { return e.kind }

// classify maps a non-2xx status to ErrTransient or the given client-error class.
func classify(op string, code int, body string, clientErr error) error {
	kind := clientErr
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		kind = ErrTransient
	}
	return &StatusError{Op: op, Code: code, Body: body, kind: kind}
}

// IsRetryable reports whether err belongs to the transient class.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
