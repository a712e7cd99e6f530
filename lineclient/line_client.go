// Package lineclient provides an event-driven TCP client for newline-delimited
// message streams. Received bytes are framed into complete lines and handed to
// a registered handler in arrival order; connection state changes and errors
// are reported through their own handlers. It supports optional auto-reconnect.
package lineclient

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-broadcast/framer"
	"github.com/cyberinferno/go-broadcast/logger"
)

var (
	// ErrClosed is returned by operations on a client after Close.
	ErrClosed = errors.New("client is closed")
	// ErrNotConnected is returned by sends while no connection is open.
	ErrNotConnected = errors.New("not connected")
	// ErrEmbeddedDelimiter is returned by SendLine for a line containing '\n'.
	ErrEmbeddedDelimiter = errors.New("line contains the message delimiter")
)

// ConnectionState represents the current state of the TCP connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Connection attempt in progress
	Connected                           // Successfully connected
	Reconnecting                        // Waiting to redial after a lost connection
	Closed                              // Client has been closed and will not reconnect
)

func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is passed to the OnConnectionState handler.
type ConnectionStateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // Non-nil if the change was caused by an error
}

// MessageEvent carries one complete line, without its delimiter.
type MessageEvent struct {
	Line      []byte // Owned by the handler
	Timestamp time.Time
}

// ErrorEvent is passed to the OnError handler.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// ConnectionStateHandler is called from a new goroutine for every state change.
type ConnectionStateHandler func(event ConnectionStateEvent)

// MessageHandler is called on the read goroutine, one line at a time and in
// the order the lines arrived. A slow handler delays further reads.
type MessageHandler func(event MessageEvent)

// ErrorHandler is called from a new goroutine for read, write and dial errors.
type ErrorHandler func(event ErrorEvent)

// Config holds configuration for a LineClient.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// AutoReconnect redials after the connection is lost.
	AutoReconnect bool
	// ReconnectInterval is the delay before each redial.
	ReconnectInterval time.Duration
	// ReadBufferSize is the initial size of the line buffer; it grows as needed.
	ReadBufferSize int
	// WriteTimeout bounds a single send; 0 means no timeout.
	WriteTimeout time.Duration
	// ConnectionTimeout bounds a dial.
	ConnectionTimeout time.Duration
}

// DefaultLineClientConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with defaults: no auto-reconnect, ReconnectInterval 5s,
//     ReadBufferSize 4096, WriteTimeout 10s, ConnectionTimeout 10s.
func DefaultLineClientConfig(address string) Config {
	return Config{
		Address:           address,
		AutoReconnect:     false,
		ReconnectInterval: 5 * time.Second,
		ReadBufferSize:    4096,
		WriteTimeout:      10 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
}

// LineClient is a TCP client speaking newline-delimited messages. Register
// handlers, then call Connect. It is safe for concurrent use.
type LineClient struct {
	config Config
	log    logger.Logger

	conn  net.Conn
	state ConnectionState

	onConnectionState ConnectionStateHandler
	onMessage         MessageHandler
	onError           ErrorHandler

	mu            sync.RWMutex
	writeMu       sync.Mutex
	stopChan      chan struct{}
	reconnectChan chan struct{}
	reconnectOnce sync.Once
	wg            sync.WaitGroup
	closed        bool
}

// NewLineClient creates a client in the Disconnected state.
//
// Parameters:
//   - config: Connection settings, e.g. from DefaultLineClientConfig
//   - log: Destination for connection logs; nil discards them
//
// Returns:
//   - A new *LineClient; call Close when done to stop its goroutines.
func NewLineClient(config Config, log logger.Logger) *LineClient {
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = framer.DefaultInitialCapacity
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &LineClient{
		config:        config,
		log:           log,
		state:         Disconnected,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
}

// OnConnectionState registers the handler for state changes, replacing any
// previous one. Pass nil to clear it.
func (c *LineClient) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnMessage registers the handler for received lines, replacing any previous
// one. Pass nil to clear it.
func (c *LineClient) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnError registers the handler for errors, replacing any previous one. Pass
// nil to clear it.
func (c *LineClient) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the configured address and starts reading.
//
// Returns:
//   - nil on success; ErrClosed, an "already connected" error, or the dial error.
func (c *LineClient) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	if c.config.AutoReconnect {
		c.reconnectOnce.Do(func() {
			c.wg.Add(1)
			go c.reconnectHandler()
		})
	}

	return c.connect()
}

// Disconnect closes the current connection without closing the client;
// Connect may be called again.
func (c *LineClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Disconnected || c.state == Closed {
		return nil
	}

	return c.disconnect()
}

func (c *LineClient) disconnect() error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.state = Disconnected
	c.emitConnectionState(c.onConnectionState, Disconnected, nil)
	return err
}

// Close shuts down the connection and waits for the client's goroutines.
// Idempotent.
func (c *LineClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()

	c.setState(Closed, nil)
	return nil
}

// Send writes raw bytes. The server frames on '\n', so data may carry any part
// of a line, several lines, or both.
//
// Parameters:
//   - data: Bytes to send; not modified
//
// Returns:
//   - nil on success; ErrNotConnected or the write error.
func (c *LineClient) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	if _, err := conn.Write(data); err != nil {
		c.emitError(err)
		c.triggerReconnect()
		return err
	}

	return nil
}

// SendLine writes line followed by the delimiter.
//
// Returns:
//   - ErrEmbeddedDelimiter if line already contains '\n', otherwise as Send.
func (c *LineClient) SendLine(line []byte) error {
	if bytes.IndexByte(line, framer.Delimiter) >= 0 {
		return ErrEmbeddedDelimiter
	}

	msg := make([]byte, 0, len(line)+1)
	msg = append(msg, line...)
	return c.Send(append(msg, framer.Delimiter))
}

// State returns the current connection state.
func (c *LineClient) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is in the Connected state.
func (c *LineClient) IsConnected() bool {
	return c.State() == Connected
}

func (c *LineClient) connect() error {
	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()

	c.setState(Connected, nil)
	c.log.Debug("connected", logger.Field{Key: "address", Value: c.config.Address}, logger.Field{Key: "local", Value: conn.LocalAddr().String()})

	go c.readLoop(conn)

	return nil
}

// readLoop frames everything read from conn until conn fails or is replaced.
func (c *LineClient) readLoop(conn net.Conn) {
	defer c.wg.Done()

	buf := framer.NewBuffer(c.config.ReadBufferSize)
	for {
		n, err := conn.Read(buf.Reserve())
		if n > 0 {
			buf.Commit(n)
			for _, line := range buf.Frame() {
				c.emitMessage(line)
			}
		}

		if err != nil {
			if c.isCurrent(conn) {
				c.log.Debug("read failed", logger.Field{Key: "address", Value: c.config.Address}, logger.Field{Key: "error", Value: err})
				c.emitError(err)
				if c.config.AutoReconnect {
					c.triggerReconnect()
				} else {
					_ = c.Disconnect()
				}
			}
			return
		}
	}
}

func (c *LineClient) reconnectHandler() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
		}

		c.mu.Lock()
		err := c.disconnect()
		c.mu.Unlock()
		if err != nil {
			c.emitError(err)
		}

		c.setState(Reconnecting, nil)

		select {
		case <-c.stopChan:
			return
		case <-time.After(c.config.ReconnectInterval):
		}

		if c.isClosed() {
			return
		}

		if err := c.connect(); err != nil && !errors.Is(err, ErrClosed) {
			c.triggerReconnect()
		}
	}
}

func (c *LineClient) triggerReconnect() {
	if !c.config.AutoReconnect || c.isClosed() {
		return
	}

	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

func (c *LineClient) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	c.emitConnectionState(handler, state, err)
}

// emitConnectionState must be given the handler read under c.mu.
func (c *LineClient) emitConnectionState(handler ConnectionStateHandler, state ConnectionState, err error) {
	if handler == nil {
		return
	}

	go handler(ConnectionStateEvent{
		State:     state,
		Address:   c.config.Address,
		Timestamp: time.Now(),
		Error:     err,
	})
}

func (c *LineClient) emitMessage(line []byte) {
	c.mu.RLock()
	handler := c.onMessage
	c.mu.RUnlock()

	if handler != nil {
		handler(MessageEvent{Line: line, Timestamp: time.Now()})
	}
}

func (c *LineClient) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}

func (c *LineClient) isCurrent(conn net.Conn) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.conn == conn
}

func (c *LineClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
