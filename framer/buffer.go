// Package framer splits a TCP byte stream into newline-delimited messages.
// A Buffer accumulates the bytes read from one connection; Frame extracts every
// complete message and keeps the incomplete tail at the front of the buffer
// for the next read.
package framer

import (
	"bytes"
	"fmt"
)

const (
	// Delimiter terminates every message on the wire. It is never part of a
	// message returned by Frame.
	Delimiter byte = '\n'

	// DefaultInitialCapacity is the receive buffer size given to a new connection.
	DefaultInitialCapacity = 1024
)

// Buffer is a length-tracked receive buffer that grows by doubling and never
// shrinks. The valid region is Bytes(); everything after it is free space.
//
// A Buffer is not safe for concurrent use. It carries no terminator, so
// messages may contain any byte value except the delimiter, including NUL.
type Buffer struct {
	buf  []byte
	used int
	// scanned is the length of the valid prefix already known to contain no
	// delimiter.
	scanned int
}

// NewBuffer returns an empty Buffer with the given capacity. A non-positive
// capacity selects DefaultInitialCapacity.
//
// Parameters:
//   - initialCapacity: The number of bytes allocated up front
//
// Returns:
//   - A new empty *Buffer
func NewBuffer(initialCapacity int) *Buffer {
	if initialCapacity <= 0 {
		initialCapacity = DefaultInitialCapacity
	}

	return &Buffer{buf: make([]byte, initialCapacity)}
}

// Len returns the number of valid bytes held by the buffer.
func (b *Buffer) Len() int {
	return b.used
}

// Cap returns the current allocation size.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Free returns the number of bytes that can be read into the buffer without growing it.
func (b *Buffer) Free() int {
	return len(b.buf) - b.used
}

// Bytes returns the valid region. The slice aliases the buffer and is only
// valid until the next mutating call.
func (b *Buffer) Bytes() []byte {
	return b.buf[:b.used]
}

// Grow doubles the capacity, keeping the valid bytes at their offsets.
func (b *Buffer) Grow() {
	grown := make([]byte, len(b.buf)*2)
	copy(grown, b.buf[:b.used])
	b.buf = grown
}

// Reserve returns the free region that the next read should fill, doubling the
// buffer first when it has no free byte left. The returned slice is never empty.
//
// Returns:
//   - The writable tail of the buffer; pass the number of bytes written to Commit
func (b *Buffer) Reserve() []byte {
	if b.Free() == 0 {
		b.Grow()
	}

	return b.buf[b.used:]
}

// Commit marks n bytes of the region returned by Reserve as valid.
// It panics when n is negative or larger than the free space.
//
// Parameters:
//   - n: The number of bytes written into the reserved region
func (b *Buffer) Commit(n int) {
	if n < 0 || n > b.Free() {
		panic(fmt.Sprintf("framer: commit of %d bytes with %d free", n, b.Free()))
	}

	b.used += n
}

// Append copies p to the end of the valid region, doubling the capacity as
// many times as needed.
//
// Parameters:
//   - p: The bytes to append
func (b *Buffer) Append(p []byte) {
	for len(p) > 0 {
		n := copy(b.Reserve(), p)
		b.used += n
		p = p[n:]
	}
}

// Frame extracts every complete message from the valid region in the order the
// delimiters appear. Each returned message is an owned copy without its
// delimiter; two consecutive delimiters yield an empty message. The bytes after
// the last delimiter are moved to offset 0 and remain buffered.
//
// Returns:
//   - The complete messages, or nil when the buffer holds no delimiter
func (b *Buffer) Frame() [][]byte {
	data := b.buf[:b.used]

	i := bytes.IndexByte(data[b.scanned:], Delimiter)
	if i < 0 {
		b.scanned = b.used
		return nil
	}

	var messages [][]byte
	start := 0
	end := b.scanned + i
	for {
		msg := make([]byte, end-start)
		copy(msg, data[start:end])
		messages = append(messages, msg)
		start = end + 1

		i = bytes.IndexByte(data[start:], Delimiter)
		if i < 0 {
			break
		}
		end = start + i
	}

	b.used = copy(b.buf, data[start:])
	b.scanned = b.used
	return messages
}

// Reset discards all buffered bytes. The capacity is kept.
func (b *Buffer) Reset() {
	b.used = 0
	b.scanned = 0
}

// Ingest appends p to b and returns every message completed by it, in order.
// Bytes of an incomplete trailing message stay in b for the next call, so
// feeding a stream in arbitrary fragments yields the same messages as feeding
// it at once.
//
// Parameters:
//   - b: The connection's receive buffer
//   - p: Newly received bytes
//
// Returns:
//   - The complete messages, without delimiters
func Ingest(b *Buffer, p []byte) [][]byte {
	b.Append(p)
	return b.Frame()
}
