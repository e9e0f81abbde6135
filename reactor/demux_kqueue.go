//go:build darwin || freebsd || dragonfly

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueueDemux is the BSD/Darwin demultiplexer, grounded on
// eventloop/kqueue.go's Poller: kqueue has independent read and write
// filters rather than epoll's single combined event mask, so enabling or
// disabling one side means adding/deleting just that filter.
type kqueueDemux struct {
	kqfd       int
	events     []unix.Kevent_t
	dispatcher map[int]*Dispatcher
}

func newDemultiplexer() (demultiplexer, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueDemux{
		kqfd:       fd,
		events:     make([]unix.Kevent_t, 16),
		dispatcher: make(map[int]*Dispatcher),
	}, nil
}

func (p *kqueueDemux) poll(timeout time.Duration, active []*Dispatcher) ([]*Dispatcher, error) {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	n, err := unix.Kevent(p.kqfd, nil, p.events, &ts)
	if err != nil {
		if err == unix.EINTR {
			return active, nil
		}
		return active, err
	}

	seen := make(map[int]uint32, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		var r uint32
		switch ev.Filter {
		case unix.EVFILT_READ:
			r |= unix.POLLIN
		case unix.EVFILT_WRITE:
			r |= unix.POLLOUT
		}
		if ev.Flags&unix.EV_EOF != 0 {
			r |= unix.POLLHUP
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			r |= unix.POLLERR
		}
		seen[fd] |= r
	}

	for fd, r := range seen {
		d, ok := p.dispatcher[fd]
		if !ok {
			continue
		}
		d.setRevents(r)
		active = append(active, d)
	}

	if n == len(p.events) {
		p.events = make([]unix.Kevent_t, len(p.events)*2)
	}

	return active, nil
}

func (p *kqueueDemux) updateDispatcher(d *Dispatcher) error {
	p.dispatcher[d.fd] = d

	wantRead := d.events&EventRead != 0
	wantWrite := d.events&EventWrite != 0

	if err := applyFilter(p.kqfd, d.fd, unix.EVFILT_READ, flagFor(wantRead)); err != nil {
		return err
	}
	if err := applyFilter(p.kqfd, d.fd, unix.EVFILT_WRITE, flagFor(wantWrite)); err != nil {
		return err
	}

	if d.IsNoneEvent() {
		d.state = dispatcherDeleted
		delete(p.dispatcher, d.fd)
	} else {
		d.state = dispatcherAdded
	}
	return nil
}

// applyFilter issues a single-entry kevent change, ignoring ENOENT when
// disabling a filter that was never armed (same story as EPOLL_CTL_DEL on
// an fd the kernel already dropped).
func applyFilter(kqfd, fd int, filter int16, flags uint16) error {
	_, err := unix.Kevent(kqfd, []unix.Kevent_t{kevent(fd, filter, flags)}, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func flagFor(want bool) uint16 {
	if want {
		return unix.EV_ADD | unix.EV_ENABLE
	}
	return unix.EV_DELETE
}

func kevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}
}

func (p *kqueueDemux) removeDispatcher(d *Dispatcher) error {
	delete(p.dispatcher, d.fd)
	if err := applyFilter(p.kqfd, d.fd, unix.EVFILT_READ, unix.EV_DELETE); err != nil {
		return err
	}
	return applyFilter(p.kqfd, d.fd, unix.EVFILT_WRITE, unix.EV_DELETE)
}

func (p *kqueueDemux) close() error {
	return unix.Close(p.kqfd)
}
