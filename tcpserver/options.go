package tcpserver

import (
	"errors"

	"github.com/cyberinferno/go-broadcast/poller"
	"github.com/cyberinferno/go-broadcast/ratelimit"
	"github.com/cyberinferno/go-broadcast/transport"
)

// Option customizes a TCPServer at construction.
type Option func(s *TCPServer) error

// WithPoller replaces the platform readiness multiplexer. The server takes
// ownership and closes it when the event loop ends.
func WithPoller(p poller.Poller) Option {
	return func(s *TCPServer) error {
		if p == nil {
			return errors.New("tcpserver.WithPoller: poller is nil")
		}
		s.poller = p
		return nil
	}
}

// WithTransport replaces the kernel socket transport.
func WithTransport(t transport.Transport) Option {
	return func(s *TCPServer) error {
		if t == nil {
			return errors.New("tcpserver.WithTransport: transport is nil")
		}
		s.transport = t
		return nil
	}
}

// WithAcceptLimiter replaces the limiter built from Config.AcceptLimit.
func WithAcceptLimiter(l *ratelimit.AcceptLimiter) Option {
	return func(s *TCPServer) error {
		if l == nil {
			return errors.New("tcpserver.WithAcceptLimiter: limiter is nil")
		}
		s.limiter = l
		return nil
	}
}
