package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// session is the server-side state for one live connection. The write pump
// is the only goroutine writing to the socket; the read loop is the only
// one reading. Frames destined for the client go through send.
type session struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newSession(id string, conn *websocket.Conn, bufferSize int, logger *slog.Logger) *session {
	return &session{
		id:     id,
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, bufferSize),
		done:   make(chan struct{}),
	}
}

// enqueue delivers a frame, blocking until the write pump takes it or the
// session closes. Used for acks, which must not be dropped.
func (s *session) enqueue(data []byte) bool {
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	}
}

// tryEnqueue delivers a frame without blocking. Used for fan-out: a slow
// consumer loses frames instead of stalling the broadcast path.
func (s *session) tryEnqueue(data []byte) bool {
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// close tears the session down. Safe to call from any goroutine, any
// number of times.
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.conn.Close()
	})
}

// writePump drains send and keeps the connection alive with pings.
func (s *session) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("write failed, closing session", "error", err)
				s.close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
