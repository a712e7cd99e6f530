// Package conntable owns the per-connection state of the broadcast server: one
// Connection per accepted socket, keyed by its descriptor. The table is the
// only place that creates or discards a connection's receive buffer.
//
// A Table is used from the event loop goroutine only and is not safe for
// concurrent use.
package conntable

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/cyberinferno/go-broadcast/framer"
	"github.com/cyberinferno/go-broadcast/idgenerator"
)

var (
	// ErrNotFound is returned by Get for a descriptor with no open connection.
	ErrNotFound = errors.New("connection not found")

	// ErrAlreadyRegistered is returned by Allocate when the descriptor already
	// has an open connection.
	ErrAlreadyRegistered = errors.New("connection already registered")
)

// Connection is the state of one open client socket.
type Connection struct {
	// ID is the socket descriptor.
	ID int
	// Seq never repeats, unlike ID.
	Seq         uint32
	RemoteAddr  string
	ConnectedAt time.Time
	// Recv holds bytes read but not yet resolved into complete messages.
	Recv *framer.Buffer
	// MessagesSent counts the complete messages this connection has broadcast.
	MessagesSent int
}

// Table maps descriptors to open connections.
type Table struct {
	conns           map[int]*Connection
	ids             []int // open descriptors, ascending
	initialCapacity int
	seq             *idgenerator.IdGenerator
}

// NewTable creates an empty table. Every allocated connection starts with a
// receive buffer of initialCapacity bytes (framer.DefaultInitialCapacity when
// non-positive).
//
// Parameters:
//   - initialCapacity: Receive buffer size for new connections
//
// Returns:
//   - A new empty *Table
func NewTable(initialCapacity int) *Table {
	if initialCapacity <= 0 {
		initialCapacity = framer.DefaultInitialCapacity
	}

	return &Table{
		conns:           make(map[int]*Connection),
		initialCapacity: initialCapacity,
		seq:             idgenerator.NewIdGenerator(0),
	}
}

// Allocate registers a new open connection for descriptor id.
//
// Parameters:
//   - id: The accepted socket descriptor
//   - remoteAddr: The peer address, used for logging
//
// Returns:
//   - The new Connection
//   - ErrAlreadyRegistered if id is still open; this means a descriptor was
//     reused before its connection was released
func (t *Table) Allocate(id int, remoteAddr string) (*Connection, error) {
	if existing, ok := t.conns[id]; ok {
		return nil, fmt.Errorf("allocate fd %d (held by seq %d): %w", id, existing.Seq, ErrAlreadyRegistered)
	}

	conn := &Connection{
		ID:          id,
		Seq:         t.seq.Id(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		Recv:        framer.NewBuffer(t.initialCapacity),
	}
	t.conns[id] = conn
	if i, found := slices.BinarySearch(t.ids, id); !found {
		t.ids = slices.Insert(t.ids, i, id)
	}
	return conn, nil
}

// Get returns the open connection for id, or ErrNotFound. A stale readiness
// event for a descriptor that was already released ends up here; callers
// should ignore it.
func (t *Table) Get(id int) (*Connection, error) {
	conn, ok := t.conns[id]
	if !ok {
		return nil, ErrNotFound
	}

	return conn, nil
}

// Release removes the connection for id and drops its receive buffer.
// Releasing an id that is not open is a no-op.
//
// Returns:
//   - true if a connection was removed
func (t *Table) Release(id int) bool {
	conn, ok := t.conns[id]
	if !ok {
		return false
	}

	delete(t.conns, id)
	if i, found := slices.BinarySearch(t.ids, id); found {
		t.ids = slices.Delete(t.ids, i, i+1)
	}
	conn.Recv = nil
	return true
}

// IterOther yields every open connection except excludeID, ordered by
// descriptor. It walks the table's sorted descriptor list without copying it:
// a connection released during iteration is skipped if it has not been
// yielded yet, and the remaining ones are unaffected. Connections allocated
// during iteration are yielded only if their descriptor is above the last one
// yielded.
//
// Parameters:
//   - excludeID: The descriptor to leave out, typically the sender
//
// Returns:
//   - A sequence of connections that can be ranged over any number of times
func (t *Table) IterOther(excludeID int) iter.Seq[*Connection] {
	return func(yield func(*Connection) bool) {
		for i := 0; i < len(t.ids); {
			id := t.ids[i]
			if id != excludeID && !yield(t.conns[id]) {
				return
			}

			// yield may have released entries; resume after id.
			next, found := slices.BinarySearch(t.ids, id)
			if found {
				next++
			}
			i = next
		}
	}
}

// Len returns the number of open connections.
func (t *Table) Len() int {
	return len(t.conns)
}

// Accepted returns how many connections have ever been allocated.
func (t *Table) Accepted() uint32 {
	return t.seq.Issued()
}
