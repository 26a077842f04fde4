// Package transcode runs the asynchronous pipeline that turns raw uploads
// into HLS renditions, a master manifest, and a poster frame.
package transcode

import (
	"context"
	"errors"
)

// Terminal failures must not be retried: retrying cannot change the outcome.
// They mark the video failed immediately.
var (
	ErrEmptySource  = errors.New("transcode: source object is empty")
	ErrNoRenditions = errors.New("transcode: source below minimum ladder height")
)

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// markTerminal wraps err so the worker fails the job without retrying.
func markTerminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// isTerminal reports whether err is a failure retries cannot fix. Cancellation
// and timeouts are never terminal: the input may be fine.
func isTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptySource) || errors.Is(err, ErrNoRenditions) {
		return true
	}
	var terminal *terminalError
	return errors.As(err, &terminal)
}
