package reactor

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// event flags, independent of the underlying demultiplexer's native
// representation (epoll/kqueue/poll each translate to/from these).
const (
	EventRead  uint32 = 1 << 0 // readable, including urgent/priority data
	EventWrite uint32 = 1 << 1
)

// registration state, mirroring EPollPoller's kNew/kAdded/kDeleted so the
// demultiplexer knows whether a Dispatcher's fd needs EPOLL_CTL_ADD, _MOD
// or is already absent from the kernel's interest list.
type registrationState int8

const (
	dispatcherNew registrationState = iota - 1
	dispatcherAdded
	dispatcherDeleted
)

// TieGuard is a liveness token a Dispatcher's owner (a Connection) hands
// it when the connection is established. handleEvent refuses to run callbacks once the
// guard reports dead, which protects against the owner tearing itself
// down from under a still-pending event. This is the Go stand-in for
// std::weak_ptr<void>::lock() in the original channel implementation.
type TieGuard struct {
	alive atomic.Bool
}

func NewTieGuard() *TieGuard {
	g := &TieGuard{}
	g.alive.Store(true)
	return g
}

// Kill marks the guard dead; any event the owning Dispatcher handles after
// this point is silently dropped.
func (g *TieGuard) Kill() { g.alive.Store(false) }

func (g *TieGuard) isAlive() bool { return g == nil || g.alive.Load() }

// Dispatcher binds one fd to its interest set and callbacks, and reports
// readiness changes to whichever EventLoop owns it. It is the Go
// realization of a Channel: it owns no fd lifecycle itself (the owner
// closes the fd), it only tracks interest/readiness and dispatches.
type Dispatcher struct {
	loop    *EventLoop
	fd      int
	events  uint32 // interest set
	revents uint32 // last demultiplexer-reported events
	state   registrationState

	tie *TieGuard

	OnRead  func(t time.Time)
	OnWrite func()
	OnClose func()
	OnError func()
}

// NewDispatcher creates a Dispatcher for fd, initially registered with no
// interest and no registration state (dispatcherNew).
func NewDispatcher(loop *EventLoop, fd int) *Dispatcher {
	return &Dispatcher{
		loop:  loop,
		fd:    fd,
		state: dispatcherNew,
	}
}

func (d *Dispatcher) Fd() int { return d.fd }

// Tie binds the dispatcher to a liveness guard; see TieGuard.
func (d *Dispatcher) Tie(g *TieGuard) { d.tie = g }

func (d *Dispatcher) Events() uint32 { return d.events }

// setRevents is called by the demultiplexer after polling, reporting
// which of the dispatcher's interests fired.
func (d *Dispatcher) setRevents(r uint32) { d.revents = r }

func (d *Dispatcher) EnableRead() {
	d.events |= EventRead
	d.update()
}

func (d *Dispatcher) DisableRead() {
	d.events &^= EventRead
	d.update()
}

func (d *Dispatcher) EnableWrite() {
	d.events |= EventWrite
	d.update()
}

func (d *Dispatcher) DisableWrite() {
	d.events &^= EventWrite
	d.update()
}

func (d *Dispatcher) DisableAll() {
	d.events = 0
	d.update()
}

func (d *Dispatcher) IsWriting() bool { return d.events&EventWrite != 0 }
func (d *Dispatcher) IsReading() bool { return d.events&EventRead != 0 }
func (d *Dispatcher) IsNoneEvent() bool { return d.events == 0 }

func (d *Dispatcher) update() {
	d.loop.updateDispatcher(d)
}

// Remove takes the dispatcher out of its loop's demultiplexer entirely.
// Must only be called once no events are of interest.
func (d *Dispatcher) Remove() {
	d.loop.removeDispatcher(d)
}

// handleEvent runs the callbacks implied by the last reported revents, in
// the fixed order: hangup-without-readable, error, read, write. A dead tie
// guard short-circuits all of it.
func (d *Dispatcher) handleEvent(t time.Time) {
	if !d.tie.isAlive() {
		return
	}

	if d.revents&unix.POLLHUP != 0 && d.revents&unix.POLLIN == 0 {
		if d.OnClose != nil {
			d.OnClose()
		}
		return
	}

	if d.revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		if d.OnError != nil {
			d.OnError()
		}
	}

	if d.revents&(unix.POLLIN|unix.POLLPRI) != 0 {
		if d.OnRead != nil {
			d.OnRead(t)
		}
	}

	if d.revents&unix.POLLOUT != 0 {
		if d.OnWrite != nil {
			d.OnWrite()
		}
	}
}
