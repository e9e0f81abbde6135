//go:build linux || darwin || freebsd || dragonfly

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollDemux is the O(n)-per-call fallback demultiplexer, selected when
// MUDUO_USE_POLL is set. It exists for interface parity with the
// original library's compile-time EPOLL/POLL switch, not for production
// scale: every poll() call re-scans every registered fd.
type pollDemux struct {
	fds        []unix.PollFd
	dispatcher map[int]*Dispatcher
}

func newPollDemultiplexer() demultiplexer {
	return &pollDemux{
		dispatcher: make(map[int]*Dispatcher),
	}
}

func (p *pollDemux) poll(timeout time.Duration, active []*Dispatcher) ([]*Dispatcher, error) {
	ms := int(timeout / time.Millisecond)
	n, err := unix.Poll(p.fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return active, nil
		}
		return active, err
	}
	if n == 0 {
		return active, nil
	}

	for _, pfd := range p.fds {
		if pfd.Revents == 0 {
			continue
		}
		d, ok := p.dispatcher[int(pfd.Fd)]
		if !ok {
			continue
		}
		d.setRevents(uint32(pfd.Revents))
		active = append(active, d)
	}
	return active, nil
}

func (p *pollDemux) updateDispatcher(d *Dispatcher) error {
	p.dispatcher[d.fd] = d

	idx := p.indexOf(d.fd)
	var events int16
	if d.events&EventRead != 0 {
		events |= unix.POLLIN
	}
	if d.events&EventWrite != 0 {
		events |= unix.POLLOUT
	}

	if d.IsNoneEvent() {
		if idx >= 0 {
			p.fds = append(p.fds[:idx], p.fds[idx+1:]...)
		}
		d.state = dispatcherDeleted
		delete(p.dispatcher, d.fd)
		return nil
	}

	if idx >= 0 {
		p.fds[idx].Events = events
	} else {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(d.fd), Events: events})
	}
	d.state = dispatcherAdded
	return nil
}

func (p *pollDemux) removeDispatcher(d *Dispatcher) error {
	delete(p.dispatcher, d.fd)
	if idx := p.indexOf(d.fd); idx >= 0 {
		p.fds = append(p.fds[:idx], p.fds[idx+1:]...)
	}
	return nil
}

func (p *pollDemux) indexOf(fd int) int {
	for i, pfd := range p.fds {
		if int(pfd.Fd) == fd {
			return i
		}
	}
	return -1
}

func (p *pollDemux) close() error { return nil }
