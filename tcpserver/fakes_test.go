package tcpserver

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cyberinferno/go-broadcast/poller"
	"github.com/cyberinferno/go-broadcast/transport"
)

var (
	errBrokenPipe   = errors.New("broken pipe")
	errTooManyFiles = errors.New("too many open files")
)

type registration struct {
	interest poller.Interest
	edge     bool
}

// fakePoller hands out scripted event batches from Wait, then blocks until
// Wake. Wake may be called from another goroutine; everything else runs on
// the loop goroutine.
type fakePoller struct {
	registered   map[int]registration
	deregistered []int
	batches      [][]poller.Event
	wakeCh       chan struct{}

	mu              sync.Mutex
	woken           int
	wakesAfterClose int
	closed          bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{registered: make(map[int]registration), wakeCh: make(chan struct{}, 1)}
}

func (p *fakePoller) Register(fd int, interest poller.Interest, edge bool) error {
	if _, ok := p.registered[fd]; ok {
		return fmt.Errorf("fd %d already registered", fd)
	}
	p.registered[fd] = registration{interest: interest, edge: edge}
	return nil
}

func (p *fakePoller) Deregister(fd int) error {
	if _, ok := p.registered[fd]; !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}
	delete(p.registered, fd)
	p.deregistered = append(p.deregistered, fd)
	return nil
}

func (p *fakePoller) Wait(events []poller.Event, _ int) (int, error) {
	if len(p.batches) > 0 {
		n := copy(events, p.batches[0])
		p.batches = p.batches[1:]
		return n, nil
	}

	<-p.wakeCh
	return 0, nil
}

func (p *fakePoller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.woken++
	if p.closed {
		p.wakesAfterClose++
	}

	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

func (p *fakePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePoller) state() (woken, wakesAfterClose int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.woken, p.wakesAfterClose, p.closed
}

type fakeSocket struct {
	remote string
	// chunks are returned by successive reads; then eof or readErr, else would-block.
	chunks      [][]byte
	eof         bool
	readErr     error
	writes      [][]byte
	attempts    int
	writeErr    error
	writeLimit  int
	wouldBlock  bool
	nonBlocking bool
	closed      bool
}

func (s *fakeSocket) received() string {
	var out []byte
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return string(out)
}

type acceptResult struct {
	fd     int
	remote string
	err    error
}

type fakeTransport struct {
	listenFd  int
	listenErr error
	accepts   []acceptResult
	sockets   map[int]*fakeSocket
	closes    []int
	// onAccept runs at the start of every Accept call.
	onAccept func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{listenFd: 3, sockets: make(map[int]*fakeSocket)}
}

// connect queues a pending connection and returns its socket.
func (t *fakeTransport) connect(fd int, remote string) *fakeSocket {
	sock := &fakeSocket{remote: remote}
	t.sockets[fd] = sock
	t.accepts = append(t.accepts, acceptResult{fd: fd, remote: remote})
	return sock
}

func (t *fakeTransport) Listen(string, int) (int, error) {
	if t.listenErr != nil {
		return -1, t.listenErr
	}
	return t.listenFd, nil
}

func (t *fakeTransport) Accept(int) (int, string, error) {
	if t.onAccept != nil {
		t.onAccept()
	}
	if len(t.accepts) == 0 {
		return -1, "", transport.ErrWouldBlock
	}
	next := t.accepts[0]
	t.accepts = t.accepts[1:]
	return next.fd, next.remote, next.err
}

func (t *fakeTransport) Read(fd int, p []byte) (int, error) {
	sock, ok := t.sockets[fd]
	if !ok || sock.closed {
		return 0, fmt.Errorf("read on closed fd %d", fd)
	}
	if len(sock.chunks) > 0 {
		n := copy(p, sock.chunks[0])
		if n < len(sock.chunks[0]) {
			sock.chunks[0] = sock.chunks[0][n:]
		} else {
			sock.chunks = sock.chunks[1:]
		}
		return n, nil
	}
	if sock.readErr != nil {
		return 0, sock.readErr
	}
	if sock.eof {
		return 0, io.EOF
	}
	return 0, transport.ErrWouldBlock
}

func (t *fakeTransport) Write(fd int, p []byte) (int, error) {
	sock, ok := t.sockets[fd]
	if !ok || sock.closed {
		return 0, fmt.Errorf("write on closed fd %d", fd)
	}
	sock.attempts++
	if sock.writeErr != nil {
		return 0, sock.writeErr
	}
	if sock.wouldBlock {
		return 0, transport.ErrWouldBlock
	}
	n := len(p)
	if sock.writeLimit > 0 && n > sock.writeLimit {
		n = sock.writeLimit
	}
	sock.writes = append(sock.writes, append([]byte(nil), p[:n]...))
	return n, nil
}

func (t *fakeTransport) SetNonBlocking(fd int) error {
	if sock, ok := t.sockets[fd]; ok {
		sock.nonBlocking = true
	}
	return nil
}

func (t *fakeTransport) Close(fd int) error {
	t.closes = append(t.closes, fd)
	if sock, ok := t.sockets[fd]; ok {
		sock.closed = true
	}
	return nil
}

func (t *fakeTransport) LocalAddr(int) (string, error) {
	return "127.0.0.1:9090", nil
}
