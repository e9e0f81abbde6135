package reactor

import (
	"fmt"
	"sync"

	"github.com/liangruuu/muduo-learn/logx"
)

// ThreadInitFunc runs on a pool loop's own goroutine right before it
// starts polling, the same hook muduo's EventLoopThread offers for
// per-thread setup (TLS caches, metrics registration, etc).
type ThreadInitFunc func(*EventLoop)

// LoopPool is the Go analogue of EventLoopThreadPool: a fixed-size ring of
// EventLoops, each running on its own goroutine, handed out round-robin.
// With zero threads, NextLoop degenerates to returning the base loop, so a
// single-threaded server needs no special-casing at the call site.
type LoopPool struct {
	base *EventLoop
	name string

	mu       sync.Mutex
	started  bool
	next     int
	loops    []*EventLoop
	numLoops int

	wg sync.WaitGroup
}

// NewLoopPool creates a pool fronted by base. base itself always runs the
// Acceptor; numLoops worker loops (set via SetNumLoops) handle accepted
// connections.
func NewLoopPool(base *EventLoop, name string) *LoopPool {
	return &LoopPool{base: base, name: name}
}

// SetNumLoops configures the pool size. Must be called before Start.
func (p *LoopPool) SetNumLoops(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.numLoops = n
}

// Start spawns numLoops goroutines, each constructing and running its own
// EventLoop, and blocks until every one of them has published its loop
// (the Go stand-in for EventLoopThread's condition-variable handshake).
// initCB, if non-nil, runs on each worker goroutine before it starts
// polling.
func (p *LoopPool) Start(initCB ThreadInitFunc) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrLoopAlreadyRunning
	}
	p.started = true
	n := p.numLoops
	p.mu.Unlock()

	p.loops = make([]*EventLoop, n)

	for i := 0; i < n; i++ {
		i := i
		p.wg.Add(1)
		readyOne := make(chan *EventLoop, 1)
		go func() {
			defer p.wg.Done()
			loop, err := New(fmt.Sprintf("%s-%d", p.name, i))
			if err != nil {
				logx.L.WithError(err).Error("loop pool: failed to construct worker loop")
				readyOne <- nil
				return
			}
			if initCB != nil {
				initCB(loop)
			}
			readyOne <- loop
			_ = loop.Run()
		}()
		p.loops[i] = <-readyOne
	}
	return nil
}

// NextLoop returns the next loop in round-robin order, or the base loop
// if the pool has zero worker loops.
func (p *LoopPool) NextLoop() *EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.loops) == 0 {
		return p.base
	}

	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// AllLoops returns every worker loop, or just the base loop if the pool
// has no workers.
func (p *LoopPool) AllLoops() []*EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return []*EventLoop{p.base}
	}
	out := make([]*EventLoop, len(p.loops))
	copy(out, p.loops)
	return out
}

// Stop tells every worker loop to quit, waits for their Run goroutines to
// return, then releases each loop's demultiplexer and wakeup descriptor.
// The base loop is left untouched; its owner is responsible for it.
func (p *LoopPool) Stop() {
	loops := p.AllLoops()
	for _, loop := range loops {
		if loop != p.base {
			loop.Stop()
		}
	}
	p.wg.Wait()

	for _, loop := range loops {
		if loop != p.base {
			_ = loop.Close()
		}
	}
}
