//go:build linux

package poller

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller implements Poller with epoll(7) and an eventfd for Wake.
type epollPoller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent

	// mu orders Wake against Close so a late Wake never writes to a
	// descriptor number the process has since reused.
	mu     sync.Mutex
	closed bool
}

// New creates an epoll instance with a registered wake-up eventfd.
//
// Returns:
//   - The Poller, or an error naming the failing system call
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl add eventfd: %w", err)
	}

	return &epollPoller{epfd: epfd, wakefd: wakefd}, nil
}

// Register implements Poller.
func (p *epollPoller) Register(fd int, interest Interest, edge bool) error {
	var ev unix.EpollEvent
	if interest&InterestRead != 0 {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&InterestWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if edge {
		ev.Events |= unix.EPOLLET
	}
	ev.Fd = int32(fd)

	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}

	return nil
}

// Deregister implements Poller.
func (p *epollPoller) Deregister(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}

	return nil
}

// Wait implements Poller.
func (p *epollPoller) Wait(events []Event, timeoutMs int) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]

	n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll_wait: %w", err)
	}

	count := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}

		events[count] = Event{Fd: fd, Kind: toKind(raw[i].Events)}
		count++
	}

	return count, nil
}

// Wake implements Poller. It does nothing once the poller is closed.
func (p *epollPoller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(p.wakefd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}

	return nil
}

// Close implements Poller. Closing twice is a no-op.
func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	werr := unix.Close(p.wakefd)
	if err := unix.Close(p.epfd); err != nil {
		return fmt.Errorf("close epoll: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("close eventfd: %w", werr)
	}

	return nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

func toKind(events uint32) EventKind {
	var kind EventKind
	if events&unix.EPOLLIN != 0 {
		kind |= Readable
	}
	if events&unix.EPOLLOUT != 0 {
		kind |= Writable
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		kind |= Hangup
	}
	if events&unix.EPOLLERR != 0 {
		kind |= Error
	}

	return kind
}
