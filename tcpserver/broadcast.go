package tcpserver

import (
	"errors"

	"github.com/cyberinferno/go-broadcast/conntable"
	"github.com/cyberinferno/go-broadcast/framer"
	"github.com/cyberinferno/go-broadcast/logger"
	"github.com/cyberinferno/go-broadcast/transport"
	"github.com/cyberinferno/go-broadcast/utils"
)

var delimiter = []byte{framer.Delimiter}

// broadcast writes msg and its delimiter to every open connection except the
// sender. Writes are single non-blocking attempts: a peer that would block, or
// accepts only part of the line, loses that message. A peer whose write fails
// outright is scheduled for retirement without interrupting the fan-out.
func (s *TCPServer) broadcast(sender *conntable.Connection, msg []byte) {
	payload := utils.JoinBytes(msg, delimiter)
	sender.MessagesSent++
	s.messages.Add(1)

	delivered := 0
	for peer := range s.table.IterOther(sender.ID) {
		if s.isPending(peer) {
			continue
		}

		n, err := s.transport.Write(peer.ID, payload)
		switch {
		case err == nil && n == len(payload):
			delivered++
		case err == nil, errors.Is(err, transport.ErrWouldBlock):
			s.dropped.Add(1)
			s.Logger.Debug("peer not ready, message dropped", append(connFields(peer),
				logger.Field{Key: "written", Value: n},
				logger.Field{Key: "size", Value: len(payload)},
			)...)
		default:
			s.dropped.Add(1)
			s.Logger.Warn("write to peer failed", append(connFields(peer), logger.Field{Key: "error", Value: err})...)
			s.schedule(peer, err)
		}
	}

	s.Logger.Debug("message broadcast", append(connFields(sender),
		logger.Field{Key: "size", Value: len(msg)},
		logger.Field{Key: "delivered", Value: delivered},
	)...)
}
