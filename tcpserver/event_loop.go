package tcpserver

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/cyberinferno/go-broadcast/conntable"
	"github.com/cyberinferno/go-broadcast/logger"
	"github.com/cyberinferno/go-broadcast/poller"
	"github.com/cyberinferno/go-broadcast/transport"
)

// dispatch handles one batch of ready descriptors to completion. Peers whose
// writes failed during the batch are retired once the batch is done.
func (s *TCPServer) dispatch(events []poller.Event) error {
	for _, ev := range events {
		if ev.Fd == s.listenFd {
			if err := s.acceptPending(); err != nil {
				return err
			}
			continue
		}

		s.drain(ev.Fd)
	}

	s.retirePending()
	return nil
}

// acceptPending accepts until the listener would block. Any other accept
// failure pauses accepting for acceptBackoff; only a connection table
// invariant violation is returned.
func (s *TCPServer) acceptPending() error {
	for !s.acceptPaused() {
		fd, remote, err := s.transport.Accept(s.listenFd)
		if errors.Is(err, transport.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			s.pauseAccept(err, time.Now())
			return nil
		}

		if err := s.admit(fd, remote); err != nil {
			return err
		}
	}

	return nil
}

func (s *TCPServer) acceptPaused() bool {
	return !s.acceptResume.IsZero()
}

// pauseAccept deregisters the level-triggered listener so a persistent failure
// such as EMFILE does not spin the loop.
func (s *TCPServer) pauseAccept(cause error, now time.Time) {
	if err := s.poller.Deregister(s.listenFd); err != nil {
		s.Logger.Debug("deregister listener failed", logger.Field{Key: "error", Value: err})
	}
	s.acceptResume = now.Add(acceptBackoff)

	s.Logger.Warn("accept failed, pausing accepts",
		logger.Field{Key: "error", Value: cause},
		logger.Field{Key: "backoff", Value: acceptBackoff.String()},
	)
}

// resumeAccept re-registers the listener once the pause has elapsed. Failing to
// do so is fatal.
func (s *TCPServer) resumeAccept(now time.Time) error {
	if !s.acceptPaused() || now.Before(s.acceptResume) {
		return nil
	}

	if err := s.poller.Register(s.listenFd, poller.InterestRead, false); err != nil {
		return fmt.Errorf("re-register listener: %w", err)
	}
	s.acceptResume = time.Time{}
	s.Logger.Debug("accepts resumed")
	return nil
}

// waitTimeout returns the Wait timeout in milliseconds: forever, or until the
// accept pause ends.
func (s *TCPServer) waitTimeout(now time.Time) int {
	if !s.acceptPaused() {
		return -1
	}

	remaining := s.acceptResume.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Millisecond - 1) / time.Millisecond)
}

// admit turns an accepted descriptor into an open connection, or closes it.
func (s *TCPServer) admit(fd int, remote string) error {
	fields := []logger.Field{{Key: "fd", Value: fd}, {Key: "remote", Value: remote}}

	if !s.limiter.Allow(hostOf(remote)) {
		s.rejected.Add(1)
		s.Logger.Warn("connection rate limit exceeded, closing", fields...)
		s.closeFd(fd)
		return nil
	}

	if err := s.transport.SetNonBlocking(fd); err != nil {
		s.Logger.Warn("failed to set socket non-blocking, closing", append(fields, logger.Field{Key: "error", Value: err})...)
		s.closeFd(fd)
		return nil
	}

	if s.cfg.MaxClients > 0 && s.table.Len() >= s.cfg.MaxClients {
		s.rejected.Add(1)
		s.Logger.Warn("maximum number of clients already connected, closing", append(fields, logger.Field{Key: "max_clients", Value: s.cfg.MaxClients})...)
		_, _ = s.transport.Write(fd, []byte(RejectNotice))
		s.closeFd(fd)
		return nil
	}

	if err := s.poller.Register(fd, poller.InterestRead, true); err != nil {
		s.Logger.Warn("failed to register client socket, closing", append(fields, logger.Field{Key: "error", Value: err})...)
		s.closeFd(fd)
		return nil
	}

	conn, err := s.table.Allocate(fd, remote)
	if err != nil {
		_ = s.poller.Deregister(fd)
		s.closeFd(fd)
		return fmt.Errorf("connection table: %w", err)
	}

	s.peers.Store(fd, PeerInfo{Fd: fd, Seq: conn.Seq, RemoteAddr: remote, ConnectedAt: conn.ConnectedAt})
	s.accepted.Add(1)
	s.Logger.Info("client connected", append(connFields(conn),
		logger.Field{Key: "clients", Value: s.table.Len()},
		logger.Field{Key: "accepted_total", Value: s.table.Accepted()},
	)...)
	return nil
}

// drain reads fd until it would block, broadcasting every complete message in
// order. Edge-triggered readiness is not reported again for data that is
// already buffered, so stopping early would strand it.
func (s *TCPServer) drain(fd int) {
	conn, err := s.table.Get(fd)
	if err != nil {
		s.Logger.Debug("ignoring readiness for closed descriptor", logger.Field{Key: "fd", Value: fd})
		return
	}
	if s.isPending(conn) {
		return
	}

	for {
		n, err := s.transport.Read(fd, conn.Recv.Reserve())
		switch {
		case err == nil:
			conn.Recv.Commit(n)
			for _, msg := range conn.Recv.Frame() {
				s.broadcast(conn, msg)
			}
		case errors.Is(err, transport.ErrWouldBlock):
			return
		case errors.Is(err, io.EOF):
			s.retire(conn, "closed by peer", nil)
			return
		default:
			s.retire(conn, "read failed", err)
			return
		}
	}
}

// retire deregisters, releases and closes conn, in that order. Retiring a
// connection that is no longer in the table does nothing.
func (s *TCPServer) retire(conn *conntable.Connection, reason string, cause error) {
	if current, err := s.table.Get(conn.ID); err != nil || current != conn {
		return
	}

	if err := s.poller.Deregister(conn.ID); err != nil {
		s.Logger.Debug("deregister failed", append(connFields(conn), logger.Field{Key: "error", Value: err})...)
	}
	s.table.Release(conn.ID)
	s.closeFd(conn.ID)
	s.peers.Delete(conn.ID)
	s.retired.Add(1)

	fields := append(connFields(conn),
		logger.Field{Key: "reason", Value: reason},
		logger.Field{Key: "messages_sent", Value: conn.MessagesSent},
		logger.Field{Key: "clients", Value: s.table.Len()},
	)
	if cause != nil {
		s.Logger.Warn("client disconnected", append(fields, logger.Field{Key: "error", Value: cause})...)
		return
	}
	s.Logger.Info("client disconnected", fields...)
}

// schedule queues conn for retirement at the end of the current batch.
func (s *TCPServer) schedule(conn *conntable.Connection, cause error) {
	if s.isPending(conn) {
		return
	}

	s.pending = append(s.pending, pendingRetire{conn: conn, err: cause})
}

func (s *TCPServer) isPending(conn *conntable.Connection) bool {
	for _, p := range s.pending {
		if p.conn == conn {
			return true
		}
	}

	return false
}

func (s *TCPServer) retirePending() {
	pending := s.pending
	s.pending = nil
	for _, p := range pending {
		s.retire(p.conn, "write failed", p.err)
	}
}

func (s *TCPServer) closeFd(fd int) {
	if err := s.transport.Close(fd); err != nil {
		s.Logger.Warn("close failed", logger.Field{Key: "fd", Value: fd}, logger.Field{Key: "error", Value: err})
	}
}

func connFields(conn *conntable.Connection) []logger.Field {
	return []logger.Field{
		{Key: "fd", Value: conn.ID},
		{Key: "seq", Value: conn.Seq},
		{Key: "remote", Value: conn.RemoteAddr},
	}
}

// hostOf strips the port from an "ip:port" peer address.
func hostOf(remote string) string {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().String()
	}

	return remote
}
