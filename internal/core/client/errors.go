package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/searchlens/searchlens/internal/core"
)

// Kind is the terminal failure category of a call.
type Kind string

const (
	KindBackpressureExhausted Kind = "backpressure_exhausted"
	KindTransportFailure      Kind = "transport_failure"
	KindRequestRejected       Kind = "request_rejected"
	KindTimeout               Kind = "timeout"
)

// Sentinels matched by errors.Is against *Error.
var (
	ErrBackpressureExhausted = errors.New("backpressure retries exhausted")
	ErrTransportFailure      = errors.New("transport failure")
	ErrRequestRejected       = errors.New("request rejected")
	ErrTimeout               = errors.New("call timed out")
)

// Error is the only error type returned by Client.Execute.
type Error struct {
	Kind       Kind
	Attempts   int
	Elapsed    time.Duration
	LastStatus int
	Endpoint   core.Endpoint
	// Body holds the backend's response body for rejected requests.
	Body []byte
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s after %d attempt(s) in %s", e.sentinel().Error(), e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.LastStatus != 0 {
		msg += fmt.Sprintf(" (last status %d from %s)", e.LastStatus, e.Endpoint.Address())
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTimeout) and friends match on Kind.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindBackpressureExhausted:
		return ErrBackpressureExhausted
	case KindTransportFailure:
		return ErrTransportFailure
	case KindRequestRejected:
		return ErrRequestRejected
	case KindTimeout:
		return ErrTimeout
	default:
		return errors.New(string(e.Kind))
	}
}

// KindOf returns the Kind of err, or "" when err is not a client error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
