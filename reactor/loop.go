// Package reactor implements the readiness-based event loop this module is
// built around: one loop, one goroutine, any number of Dispatchers.
package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/liangruuu/muduo-learn/logx"
	"github.com/liangruuu/muduo-learn/util"
)

// pollTimeout bounds how long a single poll() call blocks when nothing is
// ready, so a loop with no registered dispatchers still wakes periodically
// to check for deferred work and the quit flag. Matches the original
// library's kPollTimeMs.
const pollTimeout = 10 * time.Second

// loopOwners enforces "at most one EventLoop per goroutine": a goroutine
// that calls Run while already owning a loop is a programming error,
// exactly like muduo's t_loopInThisThread thread-local collision check.
var loopOwners sync.Map // goroutineID(uint64) -> *EventLoop

// EventLoop polls a demultiplexer for readiness, dispatches the resulting
// Dispatcher callbacks, and drains a cross-goroutine deferred task queue,
// all on the single goroutine that calls Run.
type EventLoop struct {
	Name string

	demux    demultiplexer
	wakeup   *wakeupDescriptor
	wakeupD  *Dispatcher
	active   []*Dispatcher

	goroutineID atomic.Uint64
	pinned      atomic.Bool // true once Run has claimed an owning goroutine
	looping     atomic.Bool
	quitFlag    atomic.Bool

	pending                *util.Queue[func()]
	callingPendingFunctors atomic.Bool
}

// New constructs an EventLoop. Construction itself isn't goroutine-bound —
// only Run pins the loop to the goroutine that calls it, the same way a
// muduo EventLoop can be built in one place and handed to the thread that
// will actually run it. Dispatcher setup performed before the first Run
// (like the wakeup descriptor below) is safe because nothing concurrent
// can be touching the loop yet.
func New(name string) (*EventLoop, error) {
	demux, err := selectDemultiplexer()
	if err != nil {
		return nil, err
	}
	wk, err := newWakeupDescriptor()
	if err != nil {
		_ = demux.close()
		return nil, err
	}

	loop := &EventLoop{
		Name:    name,
		demux:   demux,
		wakeup:  wk,
		active:  make([]*Dispatcher, 0, 16),
		pending: util.NewQueue[func()](),
	}

	loop.wakeupD = NewDispatcher(loop, wk.readFd())
	loop.wakeupD.OnRead = func(time.Time) { wk.drain() }
	loop.wakeupD.EnableRead()

	return loop, nil
}

// IsInLoopGoroutine reports whether the calling goroutine is the one
// running this loop. Before Run has pinned an owner, any goroutine counts
// as "in the loop goroutine" — there's only ever one caller at that point
// by construction.
func (l *EventLoop) IsInLoopGoroutine() bool {
	return !l.pinned.Load() || goroutineID() == l.goroutineID.Load()
}

// assertInLoopGoroutine fatals the process if called from any goroutine
// other than the loop's own, matching the original's hard assertion
// instead of silently producing a data race.
func (l *EventLoop) assertInLoopGoroutine() {
	if !l.IsInLoopGoroutine() {
		logx.L.WithField("loop", l.Name).Fatal(ErrWrongGoroutine)
	}
}

// Run takes over the calling goroutine and blocks until Stop is called (or
// the loop is otherwise told to quit). Returns ErrLoopAlreadyRunning if
// this loop is already looping.
func (l *EventLoop) Run() error {
	if !l.looping.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	defer l.looping.Store(false)

	gid := goroutineID()
	if _, collided := loopOwners.LoadOrStore(gid, l); collided {
		logx.L.WithField("goroutine", gid).Fatal("goroutine already owns an event loop")
	}
	l.goroutineID.Store(gid)
	l.pinned.Store(true)
	defer func() {
		l.pinned.Store(false)
		loopOwners.Delete(gid)
	}()

	l.quitFlag.Store(false)

	for !l.quitFlag.Load() {
		var err error
		l.active, err = l.demux.poll(pollTimeout, l.active[:0])
		if err != nil {
			logx.L.WithField("loop", l.Name).WithError(err).Error("poll error")
			continue
		}

		now := time.Now()
		for _, d := range l.active {
			d.handleEvent(now)
		}

		l.doPendingFunctors()
	}

	return nil
}

// Stop requests the loop to exit at the next iteration. Safe to call from
// any goroutine; if called from elsewhere it wakes the loop so the quit
// takes effect promptly rather than waiting out pollTimeout.
func (l *EventLoop) Stop() {
	l.quitFlag.Store(true)
	if !l.IsInLoopGoroutine() {
		l.wakeup.notify()
	}
}

// RunInLoop runs fn on the loop's goroutine, either immediately (if
// already called from it) or by queueing it.
func (l *EventLoop) RunInLoop(fn func()) {
	if l.IsInLoopGoroutine() {
		fn()
		return
	}
	l.QueueInLoop(fn)
}

// QueueInLoop always defers fn to the next doPendingFunctors pass (a pass
// already in progress has swapped out its batch, so fn waits for the next
// one), waking the loop if the caller isn't on it or the loop is currently
// draining the queue.
func (l *EventLoop) QueueInLoop(fn func()) {
	l.pending.Push(fn)
	if !l.IsInLoopGoroutine() || l.callingPendingFunctors.Load() {
		l.wakeup.notify()
	}
}

// doPendingFunctors drains and runs every deferred task queued since the
// last pass. The queue is swapped out under its own lock and run outside
// it, so a functor that itself calls QueueInLoop doesn't deadlock and
// doesn't grow the vector currently being iterated.
func (l *EventLoop) doPendingFunctors() {
	l.callingPendingFunctors.Store(true)
	defer l.callingPendingFunctors.Store(false)

	for _, fn := range l.pending.Drain() {
		fn()
	}
}

// updateDispatcher and removeDispatcher are called by Dispatcher and must
// only ever run on this loop's own goroutine.
func (l *EventLoop) updateDispatcher(d *Dispatcher) {
	l.assertInLoopGoroutine()
	if err := l.demux.updateDispatcher(d); err != nil {
		logx.L.WithField("loop", l.Name).WithError(err).Error("updateDispatcher failed")
	}
}

func (l *EventLoop) removeDispatcher(d *Dispatcher) {
	l.assertInLoopGoroutine()
	if err := l.demux.removeDispatcher(d); err != nil {
		logx.L.WithField("loop", l.Name).WithError(err).Error("removeDispatcher failed")
	}
}

// Close releases the loop's demultiplexer and wakeup descriptor. Call only
// after Run has returned.
func (l *EventLoop) Close() error {
	_ = l.wakeup.close()
	return l.demux.close()
}
