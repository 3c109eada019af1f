package relay

import (
	"context"
	"errors"
)

// Kind classifies why a turn ended early.
type Kind string

const (
	// KindUpstreamUnavailable means the upstream call could not be started.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindUpstreamStream means the upstream failed after the stream began.
	KindUpstreamStream Kind = "upstream_stream_error"

	// KindTimeout means the upstream deadline passed.
	KindTimeout Kind = "timeout"

	// KindCanceled means the caller went away before the turn finished.
	KindCanceled Kind = "canceled"
)

// Error is the terminal error of a turn.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or the empty Kind when err is not a relay error.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ""
}

// classify picks the kind for err given the caller context and the upstream
// context derived from it. Caller cancellation wins over upstream deadlines.
func classify(callerCtx, upstreamCtx context.Context, fallback Kind, err error) *Error {
	switch {
	case callerCtx.Err() != nil:
		return &Error{Kind: KindCanceled, Err: callerCtx.Err()}
	case upstreamCtx != nil && errors.Is(upstreamCtx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	default:
		return &Error{Kind: fallback, Err: err}
	}
}
