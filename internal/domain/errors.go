package domain

import "errors"

var (
	ErrTooManyClients    = errors.New("too many websocket connections")
	ErrBroadcasterClosed = errors.New("broadcaster stopped")
	ErrCommandTimeout    = errors.New("broadcaster command timed out")
)
