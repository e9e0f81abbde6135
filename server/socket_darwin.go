//go:build darwin || freebsd || dragonfly

package server

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/liangruuu/muduo-learn/util"
)

// createListener mirrors socket_linux.go's createListener; kqueue
// platforms lack SOCK_NONBLOCK/SOCK_CLOEXEC on the socket() call itself,
// so those are applied with separate fcntl-equivalent calls after
// creation (same accommodation the teacher's own Darwin socket code
// makes).
func createListener(address string, reusePort bool) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	if err := unix.Listen(fd, util.MaxListenerBacklog()); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

func setKeepAlive(fd int, d time.Duration) error {
	secs := int(d / time.Second)
	if secs <= 0 {
		return nil
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	// Darwin has no TCP_KEEPIDLE/TCP_KEEPINTVL; TCP_KEEPALIVE plays both
	// roles, same substitution the teacher's Darwin socket code makes.
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, secs)
}

func setTCPNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}
