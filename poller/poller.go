// Package poller defines the readiness multiplexer consumed by the broadcast
// event loop and provides an epoll implementation on Linux.
package poller

import "errors"

// ErrNotSupported is returned by New on platforms without an implementation.
var ErrNotSupported = errors.New("readiness multiplexer not supported on this platform")

// EventKind is a bitmask describing why a descriptor was reported ready.
type EventKind uint8

const (
	Readable EventKind = 1 << iota
	Writable
	Hangup
	Error
)

// Has reports whether every bit of k2 is set in k.
func (k EventKind) Has(k2 EventKind) bool {
	return k&k2 == k2
}

// Interest selects which readiness kinds a registration reports.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// Event is one ready descriptor returned by Wait.
type Event struct {
	Fd   int
	Kind EventKind
}

// Poller reports readiness for many descriptors through a single blocking wait.
//
// Register, Deregister, Wait and Close must be called from one goroutine.
// Wake may be called from any goroutine.
type Poller interface {
	// Register adds fd to the interest set. With edge set, readiness is
	// reported once per transition and the caller must drain the descriptor.
	Register(fd int, interest Interest, edge bool) error

	// Deregister removes fd from the interest set.
	Deregister(fd int) error

	// Wait blocks until at least one descriptor is ready, Wake is called, or
	// timeoutMs elapses (negative blocks indefinitely). It fills events and
	// returns how many entries are valid. A wake-up or an interrupted wait
	// returns zero events and a nil error.
	Wait(events []Event, timeoutMs int) (int, error)

	// Wake makes a blocked or subsequent Wait return. After Close it does nothing.
	Wake() error

	// Close releases the multiplexer.
	Close() error
}
