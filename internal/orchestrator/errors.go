package orchestrator

import "errors"

var (
	// ErrExhaustedRetries is returned when a phase kept failing with transient
	// errors until the retry budget ran out.
	ErrExhaustedRetries = errors.New("retries exhausted")
	// ErrRunTimeout marks documents abandoned or never submitted because the
	// run-level timeout expired.
	ErrRunTimeout = errors.New("run timeout exceeded")
	// ErrPollTimeout marks a job that was still processing after the maximum
	// poll wait.
	ErrPollTimeout = errors.New("gave up waiting for remote processing")
	// ErrCanceled marks documents abandoned because the run was interrupted.
	ErrCanceled = errors.New("run canceled")
	// ErrRemoteFailed marks a job the service reported as failed.
	ErrRemoteFailed = errors.New("remote processing failed")
)
