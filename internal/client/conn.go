package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pressfolio/activity-channel/internal/wire"
)

// Errors returned by Call.
var (
	ErrConnClosed  = errors.New("connection closed")
	ErrCallTimeout = errors.New("no response before deadline")
)

// Conn is one live websocket session. It correlates request frames with
// their acks by id and delivers server-initiated frames on Events.
//
// A Conn is single-use: once the socket drops it stays closed, and the
// manager dials a replacement.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan wire.Ack

	events chan wire.Frame
	done   chan struct{}
	once   sync.Once
}

func newConn(ws *websocket.Conn, eventBuffer int, writeTimeout time.Duration, logger *slog.Logger) *Conn {
	c := &Conn{
		ws:           ws,
		logger:       logger,
		writeTimeout: writeTimeout,
		pending:      make(map[int64]chan wire.Ack),
		events:       make(chan wire.Frame, eventBuffer),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends a request frame and waits for the matching ack. An ack that
// arrives after the deadline is discarded by id, never misattributed to a
// later request.
func (c *Conn) Call(ctx context.Context, eventType string, payload any, timeout time.Duration) (wire.Ack, error) {
	id := c.nextID.Add(1)

	frame, err := wire.NewFrame(eventType, id, payload)
	if err != nil {
		return wire.Ack{}, err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return wire.Ack{}, fmt.Errorf("marshal %s frame: %w", eventType, err)
	}

	ch := make(chan wire.Ack, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(data); err != nil {
		return wire.Ack{}, fmt.Errorf("send %s: %w", eventType, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		return wire.Ack{}, ErrCallTimeout
	case <-ctx.Done():
		return wire.Ack{}, ctx.Err()
	case <-c.done:
		return wire.Ack{}, ErrConnClosed
	}
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Events delivers server-initiated frames (activity_update). The channel
// closes when the connection drops.
func (c *Conn) Events() <-chan wire.Frame {
	return c.events
}

// Done is closed when the connection is no longer usable.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Conn) readLoop() {
	defer func() {
		c.Close()
		close(c.events)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.alive() {
				c.logger.Debug("connection read ended", "error", err)
			}
			return
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Debug("discarding malformed frame", "error", err)
			continue
		}

		if frame.Type == wire.EventAck {
			c.routeAck(frame)
			continue
		}

		select {
		case c.events <- frame:
		default:
			c.logger.Warn("event buffer full, dropping frame", "type", frame.Type)
		}
	}
}

func (c *Conn) routeAck(frame wire.Frame) {
	ack, err := wire.ParseAck(frame.Payload)
	if err != nil {
		c.logger.Warn("malformed ack", "request_id", frame.ID, "error", err)
		ack = wire.Ack{Success: false, Error: "malformed ack"}
	}

	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	c.mu.Unlock()
	if !ok {
		// Caller gave up already; late acks are dropped on the floor.
		c.logger.Debug("ack for abandoned request", "request_id", frame.ID)
		return
	}
	ch <- ack
}
