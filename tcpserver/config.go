package tcpserver

import (
	"fmt"
	"time"

	"github.com/cyberinferno/go-broadcast/framer"
)

// RejectNotice is written, best effort, to a connection refused because the
// server already holds MaxClients connections.
const RejectNotice = "Error: Maximum number of clients already connected.\n"

// Config holds the settings of a broadcast TCPServer.
type Config struct {
	// Name labels log entries, e.g. "broadcastd".
	Name string
	// Addr is the "host:port" to listen on; port 0 picks a free port.
	Addr string
	// MaxClients caps concurrent connections; 0 means unlimited.
	MaxClients int
	// InitialBufferSize is the receive buffer size of a new connection.
	InitialBufferSize int
	// MaxEvents is the most readiness events handled per wait.
	MaxEvents int
	// Backlog is the kernel accept queue length.
	Backlog int
	// AcceptLimit is the most connections one remote IP may open per
	// AcceptWindow; 0 disables the limit.
	AcceptLimit  int
	AcceptWindow time.Duration
}

// DefaultTCPServerConfig returns a Config with default values for the given address.
//
// Parameters:
//   - addr: The "host:port" to listen on
//
// Returns:
//   - A Config with defaults: Name "broadcastd", unlimited clients, 1 KiB
//     buffers, 1000 events per wait, backlog 128, no accept rate limit.
func DefaultTCPServerConfig(addr string) Config {
	return Config{
		Name:              "broadcastd",
		Addr:              addr,
		MaxClients:        0,
		InitialBufferSize: framer.DefaultInitialCapacity,
		MaxEvents:         1000,
		Backlog:           128,
		AcceptLimit:       0,
		AcceptWindow:      time.Minute,
	}
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("listen address is empty")
	case c.MaxClients < 0:
		return fmt.Errorf("max clients must not be negative (got %d)", c.MaxClients)
	case c.InitialBufferSize <= 0:
		return fmt.Errorf("initial buffer size must be positive (got %d)", c.InitialBufferSize)
	case c.MaxEvents <= 0:
		return fmt.Errorf("max events must be positive (got %d)", c.MaxEvents)
	case c.Backlog <= 0:
		return fmt.Errorf("backlog must be positive (got %d)", c.Backlog)
	case c.AcceptLimit < 0:
		return fmt.Errorf("accept limit must not be negative (got %d)", c.AcceptLimit)
	case c.AcceptLimit > 0 && c.AcceptWindow <= 0:
		return fmt.Errorf("accept window must be positive when accept limit is set")
	}

	return nil
}
