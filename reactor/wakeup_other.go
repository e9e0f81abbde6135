//go:build darwin || freebsd || dragonfly

package reactor

import "golang.org/x/sys/unix"

// wakeupDescriptor on kqueue platforms: there is no eventfd equivalent, so
// this uses a self-pipe (the same trick the original library falls back to
// wherever eventfd isn't available).
type wakeupDescriptor struct {
	r, w int
}

func newWakeupDescriptor() (*wakeupDescriptor, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &wakeupDescriptor{r: fds[0], w: fds[1]}, nil
}

func (w *wakeupDescriptor) readFd() int  { return w.r }
func (w *wakeupDescriptor) writeFd() int { return w.w }

func (w *wakeupDescriptor) notify() {
	_, _ = unix.Write(w.w, []byte{1})
}

func (w *wakeupDescriptor) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (w *wakeupDescriptor) close() error {
	_ = unix.Close(w.w)
	return unix.Close(w.r)
}
