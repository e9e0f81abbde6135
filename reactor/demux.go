package reactor

import "time"

// demultiplexer is the readiness-notification backend an EventLoop polls
// each iteration. epollDemux, kqueueDemux and pollDemux all implement it;
// selectDemultiplexer picks one based on platform and the MUDUO_USE_POLL
// escape hatch.
type demultiplexer interface {
	// poll blocks for up to timeout waiting for readiness, then reports
	// the dispatchers with pending events appended to active (passed in
	// to reuse its backing array across calls).
	poll(timeout time.Duration, active []*Dispatcher) ([]*Dispatcher, error)
	// updateDispatcher registers, re-arms or disarms fd interest for d,
	// based on d.Events() and its current registration state.
	updateDispatcher(d *Dispatcher) error
	// removeDispatcher takes d out of the interest set entirely.
	removeDispatcher(d *Dispatcher) error
	close() error
}
