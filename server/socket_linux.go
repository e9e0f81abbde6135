//go:build linux

package server

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/liangruuu/muduo-learn/util"
)

// createListener builds a non-blocking, close-on-exec listening socket
// bound to address, with SO_REUSEADDR always on and SO_REUSEPORT optional.
func createListener(address string, reusePort bool) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}

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
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
}

func setTCPNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}
