package server

import (
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/liangruuu/muduo-learn/buffer"
	"github.com/liangruuu/muduo-learn/logx"
	"github.com/liangruuu/muduo-learn/reactor"
)

// Connection is one established TCP connection, pinned to a single
// EventLoop for its entire lifetime. Every method documented as
// loop-confined below must only be called from that loop's own goroutine;
// Send, Shutdown and ForceClose are safe to call from anywhere.
type Connection struct {
	loop       *reactor.EventLoop
	name       string
	fd         int
	dispatcher *reactor.Dispatcher
	tie        *reactor.TieGuard

	state atomic.Int32

	inputBuffer  *buffer.Buffer
	outputBuffer *buffer.Buffer

	localAddr, peerAddr *net.TCPAddr
	highWaterMark       int

	// OnConnect fires twice over a connection's life, both times on its
	// owning loop: once right after it transitions to connected, and once
	// more during teardown (Connected() reports false the second time),
	// signalling that the connection is going away.
	OnConnect func(*Connection)
	// OnMessage fires whenever ReadFd returns new bytes; inputBuffer is
	// shared across calls, so handlers that need to retain bytes past the
	// callback must copy them out (RetrieveAsString does this).
	OnMessage func(conn *Connection, input *buffer.Buffer, t time.Time)
	// OnWriteComplete is queued on the owning loop whenever a Send's bytes
	// have all been written: right away if the inline write took them all,
	// otherwise once the output buffer fully drains.
	OnWriteComplete func(*Connection)
	// OnHighWaterMark is queued on the owning loop when a Send makes
	// outputBuffer's length cross highWaterMark from below, once per
	// crossing.
	OnHighWaterMark func(conn *Connection, outstanding int)
	// OnClose fires once, after the connection is fully torn down
	// (dispatcher removed, fd closed). Server uses this to remove the
	// connection from its name table before chaining to any user-level
	// close hook.
	OnClose func(*Connection)
}

func newConnection(loop *reactor.EventLoop, name string, fd int, local, peer *net.TCPAddr, highWaterMark, idleBufferSize int) *Connection {
	c := &Connection{
		loop:          loop,
		name:          name,
		fd:            fd,
		localAddr:     local,
		peerAddr:      peer,
		highWaterMark: highWaterMark,
		inputBuffer:   buffer.New(idleBufferSize),
		outputBuffer:  buffer.New(idleBufferSize),
	}
	c.state.Store(int32(stateConnecting))
	c.dispatcher = reactor.NewDispatcher(loop, fd)
	c.dispatcher.OnRead = c.handleRead
	c.dispatcher.OnWrite = c.handleWrite
	c.dispatcher.OnClose = c.handleClose
	c.dispatcher.OnError = c.handleError
	return c
}

func (c *Connection) Name() string             { return c.name }
func (c *Connection) Fd() int                  { return c.fd }
func (c *Connection) LocalAddr() net.Addr      { return c.localAddr }
func (c *Connection) PeerAddr() net.Addr       { return c.peerAddr }
func (c *Connection) Loop() *reactor.EventLoop { return c.loop }

func (c *Connection) state0() connState { return connState(c.state.Load()) }

// Connected is an advisory read of the connection's state: by the time
// the caller acts on it, the connection may already have moved on,
// exactly the way muduo documents TcpConnection::connected(). Callers on
// the owning loop that need an authoritative answer should instead check
// state from inside a loop-confined callback.
func (c *Connection) Connected() bool { return c.state0() == stateConnected }

func (c *Connection) setState(s connState) { c.state.Store(int32(s)) }

// connectEstablished must run on the owning loop. It arms the read
// interest and fires OnConnect exactly once.
func (c *Connection) connectEstablished() {
	c.setState(stateConnected)
	c.tie = reactor.NewTieGuard()
	c.dispatcher.Tie(c.tie)
	c.dispatcher.EnableRead()
	if c.OnConnect != nil {
		c.OnConnect(c)
	}
}

func (c *Connection) handleRead(t time.Time) {
	n, err := c.inputBuffer.ReadFd(c.fd)
	switch {
	case n > 0:
		if c.OnMessage != nil {
			c.OnMessage(c, c.inputBuffer, t)
		}
	case n == 0:
		c.handleClose()
	default:
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		logx.L.WithField("conn", c.name).WithError(err).Error("handleRead failed")
	}
}

func (c *Connection) handleWrite() {
	if !c.dispatcher.IsWriting() {
		logx.L.WithField("conn", c.name).Debug("handleWrite called with nothing queued")
		return
	}

	n, err := unix.Write(c.fd, c.outputBuffer.Peek())
	if n < 0 {
		logx.L.WithField("conn", c.name).WithError(err).Error("handleWrite failed")
		return
	}

	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() > 0 {
		return
	}

	c.dispatcher.DisableWrite()
	if c.OnWriteComplete != nil {
		cb := c.OnWriteComplete
		c.loop.QueueInLoop(func() { cb(c) })
	}
	if c.state0() == stateDisconnecting {
		c.shutdownInLoop()
	}
}

// handleClose tears the connection down: disarms the dispatcher, fires
// OnConnect a second time to signal teardown (Connected() now reports
// false), removes the dispatcher, closes the fd, kills the tie guard so
// any event still in flight for this fd is a no-op, then notifies
// OnClose.
func (c *Connection) handleClose() {
	if c.state0() == stateDisconnected {
		return
	}
	c.setState(stateDisconnected)
	c.dispatcher.DisableAll()
	if c.OnConnect != nil {
		c.OnConnect(c)
	}
	c.dispatcher.Remove()
	_ = unix.Close(c.fd)
	if c.tie != nil {
		c.tie.Kill()
	}
	if c.OnClose != nil {
		c.OnClose(c)
	}
}

func (c *Connection) handleError() {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		logx.L.WithField("conn", c.name).WithError(err).Error("handleError: getsockopt failed")
		return
	}
	logx.L.WithField("conn", c.name).WithField("errno", errno).Error("connection error")
}

// Send queues data for delivery, marshaling onto the owning loop if
// called from elsewhere. Returns ErrNotConnected without sending if the
// connection has already moved past connected.
func (c *Connection) Send(data []byte) error {
	if c.state0() != stateConnected {
		logx.L.WithField("conn", c.name).Warn("Send called on a non-connected connection, dropping")
		return ErrNotConnected
	}

	if c.loop.IsInLoopGoroutine() {
		c.sendInLoop(data)
		return nil
	}

	buf := append([]byte(nil), data...)
	c.loop.QueueInLoop(func() { c.sendInLoop(buf) })
	return nil
}

func (c *Connection) sendInLoop(data []byte) {
	if c.state0() == stateDisconnected {
		logx.L.WithField("conn", c.name).Warn("sendInLoop: connection already disconnected, dropping")
		return
	}

	var written int
	fault := false

	if !c.dispatcher.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		switch {
		case n >= 0:
			written = n
			if written == len(data) && c.OnWriteComplete != nil {
				cb := c.OnWriteComplete
				c.loop.QueueInLoop(func() { cb(c) })
			}
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			written = 0
		default:
			written = 0
			if err == unix.EPIPE || err == unix.ECONNRESET {
				fault = true
			}
			logx.L.WithField("conn", c.name).WithError(err).Error("sendInLoop: direct write failed")
		}
	}

	if fault {
		return
	}

	remaining := data[written:]
	if len(remaining) == 0 {
		return
	}

	oldLen := c.outputBuffer.ReadableBytes()
	newLen := oldLen + len(remaining)
	if newLen >= c.highWaterMark && oldLen < c.highWaterMark && c.OnHighWaterMark != nil {
		cb := c.OnHighWaterMark
		c.loop.QueueInLoop(func() { cb(c, newLen) })
	}

	c.outputBuffer.Append(remaining)
	if !c.dispatcher.IsWriting() {
		c.dispatcher.EnableWrite()
	}
}

// Shutdown half-closes the connection for writing once any buffered
// output has drained; the peer's own half of the stream is left open until
// it closes too. Once the owning loop has moved the connection to
// disconnecting, further Sends are rejected; called from another
// goroutine, that state change is queued onto the loop.
func (c *Connection) Shutdown() {
	if c.loop.IsInLoopGoroutine() {
		c.shutdownLoopEntry()
		return
	}
	c.loop.QueueInLoop(c.shutdownLoopEntry)
}

func (c *Connection) shutdownLoopEntry() {
	if c.state0() != stateConnected {
		return
	}
	c.setState(stateDisconnecting)
	c.shutdownInLoop()
}

func (c *Connection) shutdownInLoop() {
	if !c.dispatcher.IsWriting() {
		_ = unix.Shutdown(c.fd, unix.SHUT_WR)
	}
}

// ForceClose tears the connection down immediately, discarding any
// unsent buffered output, instead of waiting for a graceful drain.
// Supplements the graceful Shutdown path with the original library's
// forceClose, for callers that need to abandon a connection outright
// (e.g. a protocol violation).
func (c *Connection) ForceClose() {
	if c.loop.IsInLoopGoroutine() {
		c.forceCloseInLoop()
		return
	}
	c.loop.QueueInLoop(c.forceCloseInLoop)
}

func (c *Connection) forceCloseInLoop() {
	if c.state0() == stateConnected || c.state0() == stateDisconnecting {
		c.handleClose()
	}
}

// destroyed unconditionally tears the connection down if it isn't already.
// The server calls this, marshaled onto the connection's own loop, for
// every connection still live at shutdown, so no accepted fd or dispatcher
// outlives the server that owned it.
func (c *Connection) destroyed() {
	if c.state0() != stateDisconnected {
		c.handleClose()
	}
}
