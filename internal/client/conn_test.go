package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pressfolio/activity-channel/internal/wire"
)

// wsTestServer runs handler for each incoming websocket connection and
// returns the ws:// URL to dial.
func wsTestServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialConn(t *testing.T, url string) *Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := newConn(ws, 8, time.Second, slog.Default())
	t.Cleanup(conn.Close)
	return conn
}

func readFrame(ws *websocket.Conn) (wire.Frame, error) {
	var frame wire.Frame
	_, data, err := ws.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(data, &frame)
	return frame, err
}

func writeAck(ws *websocket.Conn, id int64, ack wire.Ack) error {
	return ws.WriteJSON(wire.NewAck(id, ack))
}

func TestCallReceivesMatchingAck(t *testing.T) {
	url := wsTestServer(t, func(ws *websocket.Conn) {
		for {
			frame, err := readFrame(ws)
			if err != nil {
				return
			}
			writeAck(ws, frame.ID, wire.Ack{Success: true})
		}
	})
	conn := dialConn(t, url)

	ack, err := conn.Call(context.Background(), "ping", map[string]any{}, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !ack.Success {
		t.Errorf("ack = %+v", ack)
	}
}

func TestCallTimeout(t *testing.T) {
	url := wsTestServer(t, func(ws *websocket.Conn) {
		// Swallow frames, never ack.
		for {
			if _, err := readFrame(ws); err != nil {
				return
			}
		}
	})
	conn := dialConn(t, url)

	_, err := conn.Call(context.Background(), "ping", map[string]any{}, 50*time.Millisecond)
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("err = %v, want ErrCallTimeout", err)
	}
}

func TestLateAckNotMisattributed(t *testing.T) {
	url := wsTestServer(t, func(ws *websocket.Conn) {
		first := true
		for {
			frame, err := readFrame(ws)
			if err != nil {
				return
			}
			if first {
				first = false
				// Answer the first request only after its caller gave up.
				go func(id int64) {
					time.Sleep(200 * time.Millisecond)
					writeAck(ws, id, wire.Ack{Success: true, Error: "stale"})
				}(frame.ID)
				continue
			}
			writeAck(ws, frame.ID, wire.Ack{Success: true, Error: "fresh"})
		}
	})
	conn := dialConn(t, url)

	if _, err := conn.Call(context.Background(), "ping", map[string]any{}, 50*time.Millisecond); !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("first call err = %v, want ErrCallTimeout", err)
	}

	ack, err := conn.Call(context.Background(), "ping", map[string]any{}, time.Second)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if ack.Error != "fresh" {
		t.Errorf("second call got ack %+v, want the fresh one", ack)
	}
}

func TestMalformedAckSurfacesAsFailure(t *testing.T) {
	url := wsTestServer(t, func(ws *websocket.Conn) {
		frame, err := readFrame(ws)
		if err != nil {
			return
		}
		ws.WriteJSON(wire.Frame{Type: wire.EventAck, ID: frame.ID, Payload: json.RawMessage(`{}`)})
		readFrame(ws) // hold the connection open
	})
	conn := dialConn(t, url)

	ack, err := conn.Call(context.Background(), "ping", map[string]any{}, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ack.Success {
		t.Errorf("malformed ack treated as success: %+v", ack)
	}
}

func TestEventsDelivered(t *testing.T) {
	url := wsTestServer(t, func(ws *websocket.Conn) {
		frame, _ := wire.NewFrame(wire.EventActivityUpdate, 0, map[string]any{
			"userId":       "u1",
			"activityType": "article_submitted",
		})
		ws.WriteJSON(frame)
		readFrame(ws) // hold the connection open
	})
	conn := dialConn(t, url)

	select {
	case frame := <-conn.Events():
		if frame.Type != wire.EventActivityUpdate {
			t.Errorf("frame type = %q", frame.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestCallAfterClose(t *testing.T) {
	url := wsTestServer(t, func(ws *websocket.Conn) {
		readFrame(ws)
	})
	conn := dialConn(t, url)
	conn.Close()

	if _, err := conn.Call(context.Background(), "ping", map[string]any{}, time.Second); err == nil {
		t.Fatal("Call succeeded on closed connection")
	}
}
