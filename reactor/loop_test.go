package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newLoopOnGoroutine(t *testing.T) (*EventLoop, chan struct{}) {
	t.Helper()
	loopCh := make(chan *EventLoop, 1)
	started := make(chan struct{})
	go func() {
		loop, err := New(t.Name())
		require.NoError(t, err)
		loopCh <- loop
		close(started)
		_ = loop.Run()
	}()
	loop := <-loopCh
	<-started
	// started is closed just before Run; wait until Run has pinned its
	// owning goroutine so callers really are off the loop goroutine.
	require.Eventually(t, loop.pinned.Load, 2*time.Second, time.Millisecond)
	return loop, started
}

func TestRunInLoopExecutesImmediatelyWhenAlreadyOnLoop(t *testing.T) {
	loop, err := New(t.Name())
	require.NoError(t, err)
	defer loop.Close()

	var ran bool
	loop.RunInLoop(func() { ran = true })
	assert.True(t, ran)
}

func TestQueueInLoopRunsOnLoopGoroutine(t *testing.T) {
	loop, _ := newLoopOnGoroutine(t)
	defer func() {
		loop.Stop()
		loop.Close()
	}()

	done := make(chan uint64, 1)
	loop.QueueInLoop(func() {
		done <- goroutineID()
	})

	select {
	case gid := <-done:
		assert.Equal(t, loop.goroutineID.Load(), gid)
	case <-time.After(2 * time.Second):
		t.Fatal("queued functor never ran")
	}
}

func TestStopFromAnotherGoroutineUnblocksRun(t *testing.T) {
	loop, err := New(t.Name())
	require.NoError(t, err)
	defer loop.Close()

	runDone := make(chan struct{})
	go func() {
		_ = loop.Run()
		close(runDone)
	}()

	// give Run a moment to enter poll()
	time.Sleep(20 * time.Millisecond)
	loop.Stop()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop from another goroutine did not unblock Run")
	}
}

func TestRunTwiceReturnsError(t *testing.T) {
	loop, err := New(t.Name())
	require.NoError(t, err)
	defer loop.Close()

	go func() { _ = loop.Run() }()
	time.Sleep(20 * time.Millisecond)

	err = loop.Run()
	assert.Equal(t, ErrLoopAlreadyRunning, err)
	loop.Stop()
}

func TestDispatcherFiresOnPipeReadable(t *testing.T) {
	loop, err := New(t.Name())
	require.NoError(t, err)
	defer loop.Close()

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK))
	r, w := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(w)

	var fired atomic.Bool
	d := NewDispatcher(loop, r)
	d.OnRead = func(time.Time) { fired.Store(true) }
	d.EnableRead()

	go func() { _ = loop.Run() }()
	defer loop.Stop()

	_, _ = unix.Write(w, []byte("x"))

	require.Eventually(t, fired.Load, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentQueueInLoopAllRun(t *testing.T) {
	loop, _ := newLoopOnGoroutine(t)
	defer func() {
		loop.Stop()
		loop.Close()
	}()

	const n = 200
	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.QueueInLoop(func() { count.Add(1) })
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return count.Load() == n }, 2*time.Second, 5*time.Millisecond)
}
