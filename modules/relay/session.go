package relay

import (
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"

	"github.com/example/ride-chat-relay/domain/ride"
)

// wsConn is the part of a WebSocket connection the writer needs.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one participant connection bound to a ride room.
// The write pump is the only goroutine that writes to the connection.
type Session struct {
	id          string
	rideID      string
	identity    ride.Identity
	connectedAt time.Time

	conn         wsConn
	send         chan []byte
	done         chan struct{}
	writerDone   chan struct{}
	closeOnce    sync.Once
	closeCode    int
	closeText    string
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       types.Logger
}

func newSession(id, rideID string, identity ride.Identity, conn wsConn, cfg Config, logger types.Logger) *Session {
	return &Session{
		id:           id,
		rideID:       rideID,
		identity:     identity,
		connectedAt:  time.Now().UTC(),
		conn:         conn,
		send:         make(chan []byte, cfg.SendQueueSize),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		closeCode:    websocket.CloseNormalClosure,
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		logger:       logger.With("sessionID", id, "rideID", rideID),
	}
}

// ID returns the server-assigned session ID.
func (s *Session) ID() string { return s.id }

// RideID returns the room the session joined.
func (s *Session) RideID() string { return s.rideID }

// Identity returns the participant identity.
func (s *Session) Identity() ride.Identity { return s.identity }

// Participant describes the session for the HTTP API.
func (s *Session) Participant() ride.Participant {
	return ride.Participant{
		SessionID:   s.id,
		UserID:      s.identity.UserID,
		DisplayName: s.identity.DisplayName,
		IsDriver:    s.identity.IsDriver,
		ConnectedAt: s.connectedAt,
	}
}

// Deliver queues a frame without blocking.
func (s *Session) Deliver(frame []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops the writer with a normal closure.
func (s *Session) Close() {
	s.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith stops the writer, which sends a close frame with the given code.
// Only the first call has any effect.
func (s *Session) CloseWith(code int, text string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeText = text
		close(s.done)
	})
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
// It closes the connection when it returns so a blocked reader wakes up.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Write pump panic", "panic", r)
		}
		ticker.Stop()
		s.CloseWith(websocket.CloseAbnormalClosure, "")
		_ = s.conn.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				s.logger.Warn("Failed to write frame", "error", err)
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("Failed to write ping", "error", err)
				return
			}
		case <-s.done:
			_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(s.closeCode, s.closeText))
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// wait blocks until the write pump has returned.
func (s *Session) wait() {
	<-s.writerDone
}
