package broker

import "errors"

var (
	// ErrNotLocked is returned when settling a message that has no lock.
	ErrNotLocked = errors.New("broker: message is not locked")

	// ErrAlreadySettled is returned when settling a message twice.
	ErrAlreadySettled = errors.New("broker: message already settled")

	// ErrClosed is returned by endpoints used after Close.
	ErrClosed = errors.New("broker: endpoint closed")
)
