//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollDemux is the Linux demultiplexer, grounded on epoll_linux.go's
// Poller and muduo's EPollPoller.cc: a single epoll fd, an fd->Dispatcher
// map for lookup (looked up by the native event's Fd field rather than a
// packed Pad value), and a scratch event slice that doubles when a poll
// comes back full.
type epollDemux struct {
	epfd       int
	events     []unix.EpollEvent
	dispatcher map[int]*Dispatcher
}

func newDemultiplexer() (demultiplexer, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollDemux{
		epfd:       fd,
		events:     make([]unix.EpollEvent, 16),
		dispatcher: make(map[int]*Dispatcher),
	}, nil
}

func toEpollEvents(events uint32) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpollEvents(events uint32) uint32 {
	var r uint32
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		r |= unix.POLLIN | unix.POLLPRI
	}
	if events&unix.EPOLLOUT != 0 {
		r |= unix.POLLOUT
	}
	if events&unix.EPOLLHUP != 0 {
		r |= unix.POLLHUP
	}
	if events&unix.EPOLLERR != 0 {
		r |= unix.POLLERR
	}
	return r
}

func (p *epollDemux) poll(timeout time.Duration, active []*Dispatcher) ([]*Dispatcher, error) {
	ms := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(p.epfd, p.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return active, nil
		}
		return active, err
	}

	for i := 0; i < n; i++ {
		ev := p.events[i]
		d, ok := p.dispatcher[int(ev.Fd)]
		if !ok {
			continue
		}
		d.setRevents(fromEpollEvents(ev.Events))
		active = append(active, d)
	}

	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}

	return active, nil
}

func (p *epollDemux) updateDispatcher(d *Dispatcher) error {
	switch d.state {
	case dispatcherNew, dispatcherDeleted:
		// both a brand new dispatcher and one the kernel previously
		// forgot about (EPOLL_CTL_DEL'd) need a fresh _ADD.
		p.dispatcher[d.fd] = d
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, d.fd, &unix.EpollEvent{
			Events: toEpollEvents(d.events),
			Fd:     int32(d.fd),
		}); err != nil {
			return err
		}
		d.state = dispatcherAdded
	default:
		if d.IsNoneEvent() {
			if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, d.fd, nil); err != nil {
				return err
			}
			d.state = dispatcherDeleted
			delete(p.dispatcher, d.fd)
			return nil
		}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, d.fd, &unix.EpollEvent{
			Events: toEpollEvents(d.events),
			Fd:     int32(d.fd),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *epollDemux) removeDispatcher(d *Dispatcher) error {
	delete(p.dispatcher, d.fd)
	if d.state == dispatcherAdded {
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, d.fd, nil)
	}
	return nil
}

func (p *epollDemux) close() error {
	return unix.Close(p.epfd)
}
