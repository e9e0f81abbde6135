//go:build linux

package reactor

import "golang.org/x/sys/unix"

// wakeupDescriptor is the self-notification fd an EventLoop polls
// alongside real sockets, so queueInLoop from another goroutine can break
// a blocked poll() early. Linux gets eventfd, grounded on acceptor_linux.go's
// identical use of unix.Eventfd to interrupt its own dedicated epoll wait.
type wakeupDescriptor struct {
	fd int
}

func newWakeupDescriptor() (*wakeupDescriptor, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &wakeupDescriptor{fd: fd}, nil
}

func (w *wakeupDescriptor) readFd() int  { return w.fd }
func (w *wakeupDescriptor) writeFd() int { return w.fd }

// notify wakes the loop blocked in poll(). Mirrors EventLoop::wakeup()
// writing a uint64 value of 1.
func (w *wakeupDescriptor) notify() {
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, _ = unix.Write(w.fd, one)
}

// drain consumes the pending notification counter after poll reports the
// wakeup fd readable.
func (w *wakeupDescriptor) drain() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
}

func (w *wakeupDescriptor) close() error {
	return unix.Close(w.fd)
}
