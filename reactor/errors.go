package reactor

import "errors"

// ErrLoopAlreadyRunning is returned by Run when called on a loop that is
// already looping.
var ErrLoopAlreadyRunning = errors.New("reactor: loop already running")

// ErrWrongGoroutine is logged via logx.L.Fatal, which exits the process,
// when a loop-confined method is invoked from a goroutine other than the
// one that called Run.
var ErrWrongGoroutine = errors.New("reactor: method called from a goroutine that does not own this loop")
