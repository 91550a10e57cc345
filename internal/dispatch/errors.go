package dispatch

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the base error for handler types that cannot be turned
// into a dispatch table. It is fatal and never retried.
var ErrConfiguration = errors.New("dispatch: invalid handler configuration")

var (
	// ErrNoHandlers is returned when a handler exposes no usable operation.
	ErrNoHandlers = fmt.Errorf("%w: no methods found to handle messages", ErrConfiguration)

	// ErrDuplicateAction is returned when two operations declare one action.
	ErrDuplicateAction = fmt.Errorf("%w: duplicate action", ErrConfiguration)

	// ErrDuplicateOperation is returned when an operation name is listed twice.
	ErrDuplicateOperation = fmt.Errorf("%w: duplicate operation", ErrConfiguration)

	// ErrUnroutable is returned when a message's action matches no binding
	// and no wildcard is bound.
	ErrUnroutable = errors.New("dispatch: unroutable message")
)
