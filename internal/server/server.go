package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pressfolio/activity-channel/internal/activitylog"
	"github.com/pressfolio/activity-channel/internal/event"
	"github.com/pressfolio/activity-channel/internal/registry"
	"github.com/pressfolio/activity-channel/internal/wire"
)

// BroadcastServer accepts websocket connections, routes their frames, and
// fans validated activity out to the admins room.
type BroadcastServer struct {
	config   Config
	registry *registry.Registry
	auth     *Authenticator
	store    activitylog.Store
	logger   *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	totalConns    atomic.Int64
	broadcasts    atomic.Int64
	droppedFrames atomic.Int64
}

// NewServer creates a broadcast server. The registry passed here must be the
// same one the authenticator uses.
func NewServer(config Config, reg *registry.Registry, auth *Authenticator, store activitylog.Store, logger *slog.Logger) *BroadcastServer {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &BroadcastServer{
		config:   config,
		registry: reg,
		auth:     auth,
		store:    store,
		logger:   logger,
		sessions: make(map[string]*session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *BroadcastServer) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (s *BroadcastServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	connID := uuid.NewString()
	logger := s.logger.With("conn_id", connID)
	sess := newSession(connID, conn, s.config.SendBufferSize, logger)

	s.registry.Add(connID)
	s.mu.Lock()
	s.sessions[connID] = sess
	s.mu.Unlock()
	s.totalConns.Add(1)

	logger.Info("connection established", "remote", r.RemoteAddr)

	go sess.writePump(s.config.PingInterval, s.config.WriteTimeout)
	s.readLoop(r.Context(), sess)

	s.mu.Lock()
	delete(s.sessions, connID)
	s.mu.Unlock()
	s.registry.OnDisconnect(connID)
	sess.close()

	logger.Info("connection closed")
}

// readLoop processes inbound frames one at a time, preserving per-connection
// order. Liveness comes from the read deadline: every pong (or any frame)
// pushes it forward, so a silent peer times out after PingTimeout.
func (s *BroadcastServer) readLoop(ctx context.Context, sess *session) {
	conn := sess.conn
	conn.SetReadDeadline(time.Now().Add(s.config.PingTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.PingTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Warn("read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.PingTimeout))

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			sess.logger.Debug("discarding malformed frame", "error", err)
			continue
		}
		s.dispatch(ctx, sess, frame)
	}
}

func (s *BroadcastServer) dispatch(ctx context.Context, sess *session, frame wire.Frame) {
	switch frame.Type {
	case wire.EventJoinAdmin:
		var req wire.JoinRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			s.sendAck(sess, frame.ID, wire.Ack{Success: false, Error: errAuthFailed})
			return
		}
		ack := s.auth.Authorize(ctx, sess.id, req.Token)
		s.sendAck(sess, frame.ID, ack)

	case wire.EventTrackActivity:
		s.sendAck(sess, frame.ID, s.submitActivity(ctx, sess, frame.Payload))

	default:
		sess.logger.Debug("unknown event type", "type", frame.Type)
		s.sendAck(sess, frame.ID, wire.Ack{Success: false, Error: errUnknownEvent})
	}
}

// submitActivity validates, persists, and fans out one activity event. The
// broadcast happens only after the log acknowledged the append; a failed
// append produces an error ack and no fan-out.
func (s *BroadcastServer) submitActivity(ctx context.Context, sess *session, payload json.RawMessage) wire.Ack {
	ev, err := event.Parse(payload)
	if err != nil {
		if !errors.Is(err, event.ErrInvalid) {
			sess.logger.Warn("unexpected activity parse failure", "error", err)
		}
		return wire.Ack{Success: false, Error: errInvalidActivity}
	}
	ev = ev.WithTimestamp(time.Now().UnixMilli())

	key, err := s.store.Append(ctx, ev)
	if err != nil {
		sess.logger.Error("activity append failed", "activity_type", ev.ActivityType, "error", err)
		return wire.Ack{Success: false, Error: errTrackFailed}
	}

	s.broadcast(sess.id, key, ev)
	return wire.Ack{Success: true}
}

// broadcast fans an activity_update frame out to every member of the admins
// room, including the submitter when it is a member itself.
func (s *BroadcastServer) broadcast(sourceID, key string, ev event.ActivityEvent) {
	frame, err := wire.NewFrame(wire.EventActivityUpdate, 0, ev)
	if err != nil {
		s.logger.Error("marshal activity_update", "error", err)
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("marshal activity_update frame", "error", err)
		return
	}

	members := s.registry.MembersOf(AdminRoom)

	s.mu.RLock()
	defer s.mu.RUnlock()
	delivered := 0
	for _, id := range members {
		sess, ok := s.sessions[id]
		if !ok {
			continue
		}
		if sess.tryEnqueue(data) {
			delivered++
		} else {
			s.droppedFrames.Add(1)
			sess.logger.Warn("dropping activity_update for slow consumer")
		}
	}
	s.broadcasts.Add(1)

	s.logger.Debug("activity broadcast",
		"key", key,
		"activity_type", ev.ActivityType,
		"source", sourceID,
		"delivered", delivered,
		"members", len(members))
}

func (s *BroadcastServer) sendAck(sess *session, id int64, ack wire.Ack) {
	data, err := json.Marshal(wire.NewAck(id, ack))
	if err != nil {
		sess.logger.Error("marshal ack", "error", err)
		return
	}
	if !sess.enqueue(data) {
		sess.logger.Debug("ack dropped, session closed", "request_id", id)
	}
}

// Shutdown closes every live connection and stops accepting new ones.
func (s *BroadcastServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}

	deadline := time.NewTimer(50 * time.Millisecond)
	defer deadline.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline.C:
		return nil
	}
}

// Stats returns a snapshot of server counters.
func (s *BroadcastServer) Stats() Stats {
	s.mu.RLock()
	open := len(s.sessions)
	s.mu.RUnlock()

	return Stats{
		OpenConnections:  open,
		TotalConnections: s.totalConns.Load(),
		Broadcasts:       s.broadcasts.Load(),
		DroppedFrames:    s.droppedFrames.Load(),
	}
}
