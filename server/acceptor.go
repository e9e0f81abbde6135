package server

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/liangruuu/muduo-learn/logx"
	"github.com/liangruuu/muduo-learn/reactor"
)

// Acceptor owns the listening socket and the Dispatcher bound to it. It
// always runs on the server's base loop, exactly like the original
// library's Acceptor being owned by TcpServer's single base loop rather
// than any worker loop.
type Acceptor struct {
	loop       *reactor.EventLoop
	listenFd   int
	dispatcher *reactor.Dispatcher
	keepAlive  time.Duration

	// newConnection is invoked on the base loop's goroutine for every
	// accepted socket; the Server wires this to its own newConnection.
	newConnection func(fd int, peer *net.TCPAddr)
}

// NewAcceptor creates a listening socket at address and binds it to loop.
// keepAlive, if non-zero, is applied to every accepted socket via
// setKeepAlive; zero leaves keepalive disabled.
func NewAcceptor(loop *reactor.EventLoop, address string, reusePort bool, keepAlive time.Duration) (*Acceptor, error) {
	fd, err := createListener(address, reusePort)
	if err != nil {
		return nil, err
	}

	a := &Acceptor{
		loop:      loop,
		listenFd:  fd,
		keepAlive: keepAlive,
	}
	a.dispatcher = reactor.NewDispatcher(loop, fd)
	a.dispatcher.OnRead = a.handleRead
	return a, nil
}

// Listen arms the read interest; call once the server is ready to accept.
func (a *Acceptor) Listen() {
	a.dispatcher.EnableRead()
}

// handleRead drains every pending connection the kernel has ready. A
// listening socket reporting readable can mean several queued
// connections at once under level-triggered epoll, so this loops rather
// than accepting just one.
func (a *Acceptor) handleRead(_ time.Time) {
	for {
		connFd, sa, err := unix.Accept(a.listenFd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EMFILE || err == unix.ENFILE {
				logx.L.WithError(err).Error("acceptor: fd table exhausted, dropping next accept")
				return
			}
			logx.L.WithError(err).Error("acceptor: accept failed")
			return
		}

		if err := unix.SetNonblock(connFd, true); err != nil {
			_ = unix.Close(connFd)
			continue
		}
		unix.CloseOnExec(connFd)
		if err := setTCPNoDelay(connFd); err != nil {
			_ = unix.Close(connFd)
			continue
		}
		if a.keepAlive > 0 {
			if err := setKeepAlive(connFd, a.keepAlive); err != nil {
				logx.L.WithError(err).Warn("acceptor: setKeepAlive failed")
			}
		}

		if a.newConnection != nil {
			a.newConnection(connFd, sockaddrToTCPAddr(sa))
		} else {
			_ = unix.Close(connFd)
		}
	}
}

// Close disarms and removes the listening Dispatcher, then closes the
// listening socket. It must run on the owning loop's goroutine, since the
// Dispatcher calls are loop-confined.
func (a *Acceptor) Close() error {
	a.dispatcher.DisableAll()
	a.dispatcher.Remove()
	return unix.Close(a.listenFd)
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}
	default:
		return &net.TCPAddr{}
	}
}
