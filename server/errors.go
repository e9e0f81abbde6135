package server

import "errors"

// ErrServerAlreadyStarted is returned by Start when called more than once.
var ErrServerAlreadyStarted = errors.New("server: already started")

// ErrNotConnected is returned by Connection.Send once the connection has
// moved past the connected state.
var ErrNotConnected = errors.New("server: connection is not connected")
