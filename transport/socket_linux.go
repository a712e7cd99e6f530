//go:build linux

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// SocketTransport implements Transport directly on Linux socket system calls.
type SocketTransport struct{}

// NewSocketTransport returns a Transport backed by the kernel socket API.
func NewSocketTransport() *SocketTransport {
	return &SocketTransport{}
}

// Listen implements Transport. The socket has SO_REUSEADDR set and is
// non-blocking. An empty host binds every IPv4 address.
func (SocketTransport) Listen(addr string, backlog int) (int, error) {
	sa, family, err := parseSockaddr(addr)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", addr, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", addr, err)
	}

	return fd, nil
}

// Accept implements Transport. The returned descriptor is close-on-exec but
// still blocking; the caller sets it non-blocking.
func (SocketTransport) Accept(listenFd int) (int, string, error) {
	for {
		fd, sa, err := unix.Accept4(listenFd, unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return fd, formatSockaddr(sa), nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			return -1, "", ErrWouldBlock
		default:
			return -1, "", fmt.Errorf("accept: %w", err)
		}
	}
}

// Read implements Transport.
func (SocketTransport) Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch {
		case err == nil && n == 0 && len(p) > 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("read fd %d: %w", fd, err)
		}
	}
}

// Write implements Transport. MSG_NOSIGNAL turns a write to a closed peer
// into EPIPE instead of a signal.
func (SocketTransport) Write(fd int, p []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return n, fmt.Errorf("send fd %d: %w", fd, err)
		}
	}
}

// SetNonBlocking implements Transport.
func (SocketTransport) SetNonBlocking(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set non-blocking fd %d: %w", fd, err)
	}

	return nil
}

// Close implements Transport.
func (SocketTransport) Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close fd %d: %w", fd, err)
	}

	return nil
}

// LocalAddr implements Transport.
func (SocketTransport) LocalAddr(fd int) (string, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", fmt.Errorf("getsockname fd %d: %w", fd, err)
	}

	return formatSockaddr(sa), nil
}

func parseSockaddr(addr string) (unix.Sockaddr, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("%w %q: %v", ErrInvalidAddress, addr, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, 0, fmt.Errorf("%w %q: bad port", ErrInvalidAddress, addr)
	}

	if host == "" {
		host = "0.0.0.0"
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return nil, 0, fmt.Errorf("%w %q: %v", ErrInvalidAddress, addr, err)
	}

	if ip.Is4() || ip.Is4In6() {
		return &unix.SockaddrInet4{Port: int(port), Addr: ip.Unmap().As4()}, unix.AF_INET, nil
	}

	return &unix.SockaddrInet6{Port: int(port), Addr: ip.As16()}, unix.AF_INET6, nil
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	default:
		return ""
	}
}
