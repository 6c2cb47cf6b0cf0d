package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sony/gobreaker/v2"
)

// Error implements repositories.RepositoryError for the REST backend.
type Error struct {
	op          string
	status      int
	code        string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.err.Error()
	if e.status > 0 {
		msg = fmt.Sprintf("backend error (%d): %s", e.status, msg)
	}
	if e.op != "" {
		return e.op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Status returns the HTTP status returned by the backend, or zero for transport failures.
func (e *Error) Status() int {
	if e == nil {
		return 0
	}
	return e.status
}

// Code returns the backend error code when the response carried one.
func (e *Error) Code() string {
	if e == nil {
		return ""
	}
	return e.code
}

// IsNotFound reports whether the backend answered 404.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the backend rejected the write as conflicting.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the failure is transient.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

func newStatusError(op string, status int, code, message string) *Error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = http.StatusText(status)
	}
	e := &Error{op: op, status: status, code: strings.TrimSpace(code), err: errors.New(message)}
	switch {
	case status == http.StatusNotFound:
		e.notFound = true
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		e.conflict = true
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		e.unavailable = true
	}
	return e
}

// wrapTransportError classifies failures that never produced a usable response. Context
// cancellations are passed through.
func wrapTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		if repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{op: op, err: err, unavailable: true}
	}
	return &Error{op: op, err: fmt.Errorf("request failed: %w", err), unavailable: true}
}
