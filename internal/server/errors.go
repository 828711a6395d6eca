package server

import "errors"

var (
	// ErrListenerClosed is returned when binding a listener that was already torn down.
	ErrListenerClosed = errors.New("listener closed")
	// ErrAlreadyBound is returned when Start binds the same listener twice.
	ErrAlreadyBound = errors.New("listener already bound")
	// ErrNotBound is returned when serving a listener that has no socket.
	ErrNotBound = errors.New("listener not bound")
	// ErrServing is returned when routes change after the listener was bound.
	ErrServing = errors.New("listener already serving, routes are frozen")
	// ErrNoListener is returned when the pool has nothing to start.
	ErrNoListener = errors.New("no listener configured")
)
