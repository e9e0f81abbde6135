// Package server assembles the reactor package's EventLoop, Dispatcher and
// LoopPool into a TCP server: one Acceptor on a base loop handing
// accepted connections round-robin to a pool of worker loops.
package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/liangruuu/muduo-learn/buffer"
	"github.com/liangruuu/muduo-learn/logx"
	"github.com/liangruuu/muduo-learn/reactor"
)

// Server is the facade applications construct: give it an address and a
// set of callbacks, call Start, and it owns the base loop, the acceptor
// and the worker loop pool for the rest of the process's life.
type Server struct {
	name    string
	address string
	opts    *Options

	baseLoop *reactor.EventLoop
	acceptor *Acceptor
	pool     *reactor.LoopPool

	mu         sync.Mutex
	conns      map[string]*Connection
	nextConnID int

	started atomic.Bool

	// OnConnect, OnMessage, OnWriteComplete and OnHighWaterMark are copied
	// onto every Connection this server accepts; OnClose is called on the
	// base loop after a closed connection leaves the name table. Set them
	// before calling Start.
	OnConnect       func(*Connection)
	OnMessage       func(conn *Connection, input *buffer.Buffer, t time.Time)
	OnClose         func(*Connection)
	OnWriteComplete func(*Connection)
	OnHighWaterMark func(conn *Connection, outstanding int)
}

// New constructs a Server bound to address (host:port), applying opts.
// The listening socket is created here, so New itself can fail with a
// bind/listen error; nothing is accepted until Start is called.
func New(name, address string, opts ...Option) (*Server, error) {
	o := parseOptions(opts...)

	baseLoop, err := reactor.New(name + "-base")
	if err != nil {
		return nil, err
	}

	acceptor, err := NewAcceptor(baseLoop, address, o.ReusePort, o.KeepAlive)
	if err != nil {
		_ = baseLoop.Close()
		return nil, err
	}

	pool := reactor.NewLoopPool(baseLoop, name)
	pool.SetNumLoops(o.ThreadNum)

	s := &Server{
		name:     name,
		address:  address,
		opts:     o,
		baseLoop: baseLoop,
		acceptor: acceptor,
		pool:     pool,
		conns:    make(map[string]*Connection),
	}
	acceptor.newConnection = s.newConnection

	return s, nil
}

// Start spins up the worker loop pool, begins accepting, and blocks
// running the base loop until Stop is called from elsewhere. Returns
// ErrServerAlreadyStarted if called more than once.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerAlreadyStarted
	}

	if err := s.pool.Start(nil); err != nil {
		_ = s.baseLoop.Close()
		return err
	}

	s.acceptor.Listen()
	s.opts.Logger.WithField("address", s.address).Info("server started")

	err := s.baseLoop.Run()
	_ = s.baseLoop.Close()
	return err
}

// Stop tears down every remaining connection, stops every worker loop and
// the base loop, and closes the listening socket. Safe to call from any
// goroutine.
//
// Live connections are destroyed first, each marshaled onto its own
// owning loop, while every loop is still running to process it. Only then
// are the worker loops stopped (which also releases their demultiplexer
// and wakeup descriptor) and the acceptor closed on the base loop, which
// itself is released once Start's call to Run returns.
func (s *Server) Stop() {
	for _, conn := range s.Connections() {
		conn.Loop().RunInLoop(conn.destroyed)
	}

	s.pool.Stop()

	s.baseLoop.RunInLoop(func() {
		if err := s.acceptor.Close(); err != nil {
			logx.L.WithError(err).Error("acceptor close failed")
		}
	})
	s.baseLoop.Stop()
}

// newConnection runs on the base loop's goroutine (it is only ever called
// from the Acceptor's OnRead, which is itself a base-loop dispatcher
// callback). It hands the accepted fd to the next worker loop and arms
// the connection there.
func (s *Server) newConnection(fd int, peer *net.TCPAddr) {
	loop := s.pool.NextLoop()

	s.nextConnID++
	name := fmt.Sprintf("%s-%s#%d", s.name, peer.String(), s.nextConnID)

	local := localAddr(fd)

	conn := newConnection(loop, name, fd, local, peer, s.opts.HighWaterMark, s.opts.IdleBufferSize)
	conn.OnConnect = s.OnConnect
	conn.OnMessage = s.OnMessage
	conn.OnWriteComplete = s.OnWriteComplete
	conn.OnHighWaterMark = s.OnHighWaterMark
	conn.OnClose = s.connectionClosed

	s.mu.Lock()
	s.conns[name] = conn
	s.mu.Unlock()

	loop.RunInLoop(conn.connectEstablished)
}

// connectionClosed runs on the connection's own loop (handleClose calls it
// directly); the name-table mutation is marshaled back onto the base loop
// to honor the "conns map touched only on the base loop" invariant.
func (s *Server) connectionClosed(conn *Connection) {
	s.baseLoop.RunInLoop(func() {
		s.mu.Lock()
		delete(s.conns, conn.name)
		s.mu.Unlock()
		if s.OnClose != nil {
			s.OnClose(conn)
		}
	})
}

// Connections returns a snapshot of the currently tracked connections.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func localAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		logx.L.WithError(err).Error("getsockname failed")
		return &net.TCPAddr{}
	}
	return sockaddrToTCPAddr(sa)
}
