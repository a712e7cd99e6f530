// Package idgenerator hands out connection sequence numbers. Socket descriptors
// are reused by the kernel as soon as they are closed, so log lines and
// deferred work refer to a connection by a sequence number that never repeats
// within a process (until uint32 wraps).
package idgenerator

import "sync/atomic"

// IdGenerator generates monotonically increasing uint32 IDs in a concurrency-safe
// manner. The starting value is set at construction and the first Id() returns
// startValue+1.
type IdGenerator struct {
	start uint32
	id    atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id() is startValue+1.
//
// Parameters:
//   - startValue: The value to initialize the counter to; pass 0 to reserve 0 as "no connection"
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{
		start: startValue,
	}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next unique ID by atomically incrementing the internal counter.
//
// Returns:
//   - The next uint32 ID
func (l *IdGenerator) Id() uint32 {
	return l.id.Add(1)
}

// Issued returns how many IDs have been handed out since construction.
//
// Returns:
//   - The number of Id calls so far, modulo 2^32
func (l *IdGenerator) Issued() uint32 {
	return l.id.Load() - l.start
}
