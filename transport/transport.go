// Package transport exposes the non-blocking stream socket primitives the
// broadcast event loop is written against. Descriptors are plain ints so the
// same values can be handed to a poller.Poller.
package transport

import "errors"

var (
	// ErrWouldBlock signals that a non-blocking call found nothing to do
	// right now. It is not a failure.
	ErrWouldBlock = errors.New("operation would block")

	// ErrInvalidAddress is returned by Listen for an address it cannot parse.
	ErrInvalidAddress = errors.New("invalid listen address")

	// ErrNotSupported is returned by every SocketTransport call on platforms
	// without a raw socket implementation.
	ErrNotSupported = errors.New("socket transport not supported on this platform")
)

// Transport is the set of socket operations used by the event loop.
//
// Read returns io.EOF when the peer has shut down its sending side and
// ErrWouldBlock when no data is available. Write may write fewer bytes than
// requested; callers treat writes as best effort.
type Transport interface {
	// Listen creates a listening socket bound to addr ("host:port").
	Listen(addr string, backlog int) (int, error)

	// Accept takes one pending connection from the listening socket and
	// returns its descriptor and the peer address.
	Accept(listenFd int) (fd int, remoteAddr string, err error)

	Read(fd int, p []byte) (int, error)

	Write(fd int, p []byte) (int, error)

	SetNonBlocking(fd int) error

	Close(fd int) error

	// LocalAddr returns the bound "host:port" of fd.
	LocalAddr(fd int) (string, error)
}
