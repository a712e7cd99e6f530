// Package tcpserver implements the line broadcast server: a single goroutine
// blocks on an edge-triggered readiness multiplexer, accepts connections,
// drains every readable socket into its receive buffer, and relays each
// complete line to every other connection.
package tcpserver

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-broadcast/conntable"
	"github.com/cyberinferno/go-broadcast/logger"
	"github.com/cyberinferno/go-broadcast/poller"
	"github.com/cyberinferno/go-broadcast/ratelimit"
	"github.com/cyberinferno/go-broadcast/safemap"
	"github.com/cyberinferno/go-broadcast/transport"
)

var (
	errNotListening = errors.New("server is not listening")
	errStopped      = errors.New("server has stopped and cannot be restarted")
)

// acceptBackoff is how long the listener stays deregistered after an accept
// failure such as descriptor exhaustion.
const acceptBackoff = 100 * time.Millisecond

// PeerInfo describes an open connection to goroutines outside the event loop.
type PeerInfo struct {
	Fd          int
	Seq         uint32
	RemoteAddr  string
	ConnectedAt time.Time
}

// Stats is a point-in-time view of the server counters.
type Stats struct {
	Clients  int
	Accepted uint64
	Rejected uint64
	Messages uint64
	Dropped  uint64
	Retired  uint64
}

// TCPServer is a single-threaded broadcast server. Listen binds the socket,
// Serve (or Start) runs the event loop, and Stop ends it. A TCPServer cannot be
// restarted after it has stopped.
//
// Only Stop, Addr, ClientCount, Peers and GetStats may be called from
// goroutines other than the one running the loop.
type TCPServer struct {
	Logger  logger.Logger
	Name    string
	Running atomic.Bool

	cfg       Config
	poller    poller.Poller
	transport transport.Transport
	limiter   *ratelimit.AcceptLimiter
	table     *conntable.Table
	peers     *safemap.SafeMap[int, PeerInfo]

	listenFd     int
	addr         atomic.Pointer[string]
	events       []poller.Event
	pending      []pendingRetire
	acceptResume time.Time // zero unless accepts are paused
	done         chan struct{}

	// pollerMu orders Stop's wake-up against the loop closing the poller.
	pollerMu     sync.Mutex
	pollerClosed bool

	accepted atomic.Uint64
	rejected atomic.Uint64
	messages atomic.Uint64
	dropped  atomic.Uint64
	retired  atomic.Uint64
}

type pendingRetire struct {
	conn *conntable.Connection
	err  error
}

// NewTCPServer validates cfg and builds a server that has not bound anything yet.
//
// Parameters:
//   - cfg: Server settings, usually from DefaultTCPServerConfig
//   - log: Destination for operational logs; nil discards them
//   - opts: Optional collaborators (WithPoller, WithTransport, WithAcceptLimiter)
//
// Returns:
//   - The server, or an error if cfg is invalid or an option fails
func NewTCPServer(cfg Config, log logger.Logger, opts ...Option) (*TCPServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tcpserver.NewTCPServer: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Name == "" {
		cfg.Name = "broadcastd"
	}

	s := &TCPServer{
		Logger:   log,
		Name:     cfg.Name,
		cfg:      cfg,
		table:    conntable.NewTable(cfg.InitialBufferSize),
		peers:    safemap.NewSafeMap[int, PeerInfo](),
		listenFd: -1,
		events:   make([]poller.Event, cfg.MaxEvents),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.transport == nil {
		s.transport = transport.NewSocketTransport()
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewAcceptLimiter(cfg.AcceptLimit, cfg.AcceptWindow)
	}

	return s, nil
}

// Listen creates the readiness multiplexer and the listening socket and
// registers the socket for level-triggered read readiness. Any failure here is
// fatal for the server.
//
// Returns:
//   - An error naming the failing operation
func (s *TCPServer) Listen() error {
	if s.stopped() {
		return errStopped
	}
	if s.listenFd >= 0 {
		return fmt.Errorf("%s server already listening on %s", s.Name, s.Addr())
	}

	createdPoller := false
	if s.poller == nil {
		p, err := poller.New()
		if err != nil {
			return fmt.Errorf("create readiness multiplexer: %w", err)
		}
		s.poller = p
		createdPoller = true
	}
	dropPoller := func() {
		if createdPoller {
			_ = s.poller.Close()
			s.poller = nil
		}
	}

	fd, err := s.transport.Listen(s.cfg.Addr, s.cfg.Backlog)
	if err != nil {
		dropPoller()
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	if err := s.poller.Register(fd, poller.InterestRead, false); err != nil {
		_ = s.transport.Close(fd)
		dropPoller()
		return fmt.Errorf("register listener: %w", err)
	}

	addr, err := s.transport.LocalAddr(fd)
	if err != nil {
		addr = s.cfg.Addr
	}
	s.listenFd = fd
	s.addr.Store(&addr)

	s.Logger.Info(fmt.Sprintf("%s server listening", s.Name), logger.Field{Key: "addr", Value: addr})
	return nil
}

// Serve runs the event loop on the calling goroutine until Stop is called or a
// fatal error occurs. Listen must have succeeded first.
//
// Returns:
//   - nil after Stop, or the fatal error that ended the loop
func (s *TCPServer) Serve() error {
	if s.stopped() {
		return errStopped
	}
	if s.listenFd < 0 {
		return errNotListening
	}
	if !s.Running.CompareAndSwap(false, true) {
		return fmt.Errorf("%s server already running", s.Name)
	}

	return s.run()
}

// Start binds the listening socket and runs the event loop in a new goroutine.
//
// Returns:
//   - An error if the server is already running or Listen fails
func (s *TCPServer) Start() error {
	if s.Running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("%s server already running", s.Name)
	}

	if err := s.Listen(); err != nil {
		s.Logger.Error(fmt.Sprintf("%s server failed to start", s.Name), logger.Field{Key: "error", Value: err})
		return err
	}

	s.Running.Store(true)
	go func() {
		if err := s.run(); err != nil {
			s.Logger.Error(fmt.Sprintf("%s event loop failed", s.Name), logger.Field{Key: "error", Value: err})
		}
	}()

	return nil
}

// Stop ends the event loop and waits for it to close every connection, the
// listener and the multiplexer. Safe to call when the server is not running.
func (s *TCPServer) Stop() {
	if !s.Running.CompareAndSwap(true, false) {
		s.Logger.Info(fmt.Sprintf("%s server not running", s.Name))
		return
	}

	if err := s.wake(); err != nil {
		s.Logger.Error("failed to wake event loop", logger.Field{Key: "error", Value: err})
	}
	<-s.done

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// wake interrupts the loop's Wait unless the loop has already closed the
// poller on its way out.
func (s *TCPServer) wake() error {
	s.pollerMu.Lock()
	defer s.pollerMu.Unlock()
	if s.pollerClosed {
		return nil
	}

	return s.poller.Wake()
}

func (s *TCPServer) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed once the event loop has exited and released its resources.
func (s *TCPServer) Done() <-chan struct{} {
	return s.done
}

// Addr returns the bound listen address, or "" before Listen.
func (s *TCPServer) Addr() string {
	if addr := s.addr.Load(); addr != nil {
		return *addr
	}

	return ""
}

// ClientCount returns the number of open connections.
func (s *TCPServer) ClientCount() int {
	return s.peers.Len()
}

// Peers returns a snapshot of the open connections in unspecified order.
func (s *TCPServer) Peers() []PeerInfo {
	return s.peers.Values()
}

// GetStats returns the current counters.
func (s *TCPServer) GetStats() Stats {
	return Stats{
		Clients:  s.peers.Len(),
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
		Messages: s.messages.Load(),
		Dropped:  s.dropped.Load(),
		Retired:  s.retired.Load(),
	}
}

// run is the event loop. It owns the table, the buffers and every descriptor.
func (s *TCPServer) run() error {
	defer close(s.done)
	defer s.shutdown()

	for s.Running.Load() {
		if err := s.resumeAccept(time.Now()); err != nil {
			s.Running.Store(false)
			return err
		}

		n, err := s.poller.Wait(s.events, s.waitTimeout(time.Now()))
		if err != nil {
			s.Running.Store(false)
			return fmt.Errorf("wait for readiness: %w", err)
		}

		if err := s.dispatch(s.events[:n]); err != nil {
			s.Running.Store(false)
			return err
		}
	}

	return nil
}

// shutdown retires every connection and releases the listener and the multiplexer.
func (s *TCPServer) shutdown() {
	s.retirePending()
	for conn := range s.table.IterOther(-1) {
		s.retire(conn, "server stopping", nil)
	}

	if s.listenFd >= 0 {
		_ = s.poller.Deregister(s.listenFd)
		if err := s.transport.Close(s.listenFd); err != nil {
			s.Logger.Warn("failed to close listener", logger.Field{Key: "error", Value: err})
		}
		s.listenFd = -1
	}

	s.pollerMu.Lock()
	err := s.poller.Close()
	s.pollerClosed = true
	s.pollerMu.Unlock()
	if err != nil {
		s.Logger.Warn("failed to close readiness multiplexer", logger.Field{Key: "error", Value: err})
	}
}
