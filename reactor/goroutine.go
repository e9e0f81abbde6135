package reactor

import "runtime"

// goroutineID returns the current goroutine's numeric id, parsed out of
// runtime.Stack's "goroutine NNN [running]:" header. Go exposes no public
// goroutine-id API; this is the standard workaround, used here in place of
// muduo's pthread_self() to stamp an EventLoop, here with the goroutine
// that calls Run rather than the one that constructed it.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
