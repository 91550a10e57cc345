package runtime

import "errors"

var (
	// ErrAlreadyOpen is returned by a second Open.
	ErrAlreadyOpen = errors.New("runtime: host already open")

	// ErrClosed is returned by Open after Close.
	ErrClosed = errors.New("runtime: host closed")

	// ErrSessionUnsupported is returned when a session-bound host is opened
	// on an endpoint that cannot deliver by session.
	ErrSessionUnsupported = errors.New("runtime: endpoint does not support sessions")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("runtime: handler panicked")
)
