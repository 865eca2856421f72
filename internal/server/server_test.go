package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pressfolio/activity-channel/internal/event"
	"github.com/pressfolio/activity-channel/internal/identity"
	"github.com/pressfolio/activity-channel/internal/registry"
	"github.com/pressfolio/activity-channel/internal/wire"
)

type fakeStore struct {
	mu      sync.Mutex
	fail    bool
	appends []event.ActivityEvent
}

func (f *fakeStore) Append(_ context.Context, ev event.ActivityEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("store unavailable")
	}
	f.appends = append(f.appends, ev)
	return fmt.Sprintf("%d-0", len(f.appends)), nil
}

func (f *fakeStore) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appends)
}

type testEnv struct {
	srv      *BroadcastServer
	store    *fakeStore
	verifier *fakeVerifier
	http     *httptest.Server
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	reg := registry.New()
	store := &fakeStore{}
	verifier := &fakeVerifier{identity: identity.Identity{SubjectID: "u1", Role: "admin"}}
	auth := NewAuthenticator(reg, verifier, []string{"admin", "editor"}, 5, slog.Default())
	srv := NewServer(cfg, reg, auth, store, slog.Default())

	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		hs.Close()
	})

	return &testEnv{srv: srv, store: store, verifier: verifier, http: hs}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, eventType string, id int64, payload any) {
	t.Helper()
	frame, err := wire.NewFrame(eventType, id, payload)
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readAck skips any interleaved server-initiated frames until the ack with
// the given request id arrives.
func readAck(t *testing.T, conn *websocket.Conn, id int64) wire.Ack {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read ack %d: %v", id, err)
		}
		if frame.Type != wire.EventAck || frame.ID != id {
			continue
		}
		ack, err := wire.ParseAck(frame.Payload)
		if err != nil {
			t.Fatalf("parse ack: %v", err)
		}
		return ack
	}
}

func readUpdate(t *testing.T, conn *websocket.Conn) event.ActivityEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read activity_update: %v", err)
		}
		if frame.Type != wire.EventActivityUpdate {
			continue
		}
		var ev event.ActivityEvent
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			t.Fatalf("decode activity_update: %v", err)
		}
		return ev
	}
}

func joinAdmin(t *testing.T, conn *websocket.Conn, id int64) {
	t.Helper()
	sendFrame(t, conn, wire.EventJoinAdmin, id, wire.JoinRequest{Token: "token"})
	if ack := readAck(t, conn, id); !ack.Success {
		t.Fatalf("join_admin failed: %+v", ack)
	}
}

func TestTrackActivityPersistsAndAcks(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t)

	sendFrame(t, conn, wire.EventTrackActivity, 1, map[string]any{
		"userId":       "u1",
		"activityType": event.TypeArticleSubmitted,
		"targetId":     "article-9",
	})
	ack := readAck(t, conn, 1)
	if !ack.Success {
		t.Fatalf("track_activity failed: %+v", ack)
	}

	if got := env.store.appendCount(); got != 1 {
		t.Fatalf("appendCount = %d, want 1", got)
	}
	env.store.mu.Lock()
	stored := env.store.appends[0]
	env.store.mu.Unlock()
	if stored.UserID != "u1" || stored.ActivityType != event.TypeArticleSubmitted {
		t.Errorf("stored event = %+v", stored)
	}
	if stored.Timestamp == 0 {
		t.Error("server did not assign a timestamp")
	}
}

func TestTrackActivityInvalidPayload(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t)

	tests := []struct {
		name    string
		payload any
	}{
		{"missing userId", map[string]any{"activityType": "x"}},
		{"missing activityType", map[string]any{"userId": "u1"}},
		{"wrong type for userId", map[string]any{"userId": 42, "activityType": "x"}},
		{"negative timestamp", map[string]any{"userId": "u1", "activityType": "x", "timestamp": -5}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := int64(i + 1)
			sendFrame(t, conn, wire.EventTrackActivity, id, tt.payload)
			ack := readAck(t, conn, id)
			if ack.Success {
				t.Fatal("invalid payload was accepted")
			}
			if ack.Error != errInvalidActivity {
				t.Errorf("Error = %q, want %q", ack.Error, errInvalidActivity)
			}
		})
	}

	if got := env.store.appendCount(); got != 0 {
		t.Errorf("store received %d appends for invalid payloads, want 0", got)
	}
}

func TestTrackActivityStoreFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.fail = true

	admin := env.dial(t)
	joinAdmin(t, admin, 1)

	submitter := env.dial(t)
	sendFrame(t, submitter, wire.EventTrackActivity, 1, map[string]any{
		"userId":       "u1",
		"activityType": "x",
	})
	ack := readAck(t, submitter, 1)
	if ack.Success {
		t.Fatal("track_activity succeeded while store was down")
	}
	if ack.Error != errTrackFailed {
		t.Errorf("Error = %q, want %q", ack.Error, errTrackFailed)
	}

	// No fan-out without a persisted event.
	admin.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var frame wire.Frame
	if err := admin.ReadJSON(&frame); err == nil {
		t.Errorf("admin received %q frame despite failed append", frame.Type)
	}
	if got := env.srv.Stats().Broadcasts; got != 0 {
		t.Errorf("Broadcasts = %d, want 0", got)
	}
}

func TestBroadcastReachesAdminsOnly(t *testing.T) {
	env := newTestEnv(t, Config{})

	admin := env.dial(t)
	joinAdmin(t, admin, 1)

	bystander := env.dial(t)

	submitter := env.dial(t)
	sendFrame(t, submitter, wire.EventTrackActivity, 1, map[string]any{
		"userId":       "u2",
		"activityType": event.TypeReviewCompleted,
		"metadata":     map[string]any{"articleId": "a1"},
	})
	if ack := readAck(t, submitter, 1); !ack.Success {
		t.Fatalf("track_activity failed: %+v", ack)
	}

	ev := readUpdate(t, admin)
	if ev.UserID != "u2" || ev.ActivityType != event.TypeReviewCompleted {
		t.Errorf("broadcast event = %+v", ev)
	}
	if ev.Metadata["articleId"] != "a1" {
		t.Errorf("Metadata = %v", ev.Metadata)
	}

	bystander.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var frame wire.Frame
	if err := bystander.ReadJSON(&frame); err == nil {
		t.Errorf("non-member received %q frame", frame.Type)
	}
}

func TestSubmitterInRoomReceivesOwnBroadcast(t *testing.T) {
	env := newTestEnv(t, Config{})

	conn := env.dial(t)
	joinAdmin(t, conn, 1)

	sendFrame(t, conn, wire.EventTrackActivity, 2, map[string]any{
		"userId":       "u1",
		"activityType": "x",
	})

	// Both the ack and the echo must arrive, in either order.
	var gotAck, gotUpdate bool
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !gotAck || !gotUpdate {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v (ack=%v update=%v)", err, gotAck, gotUpdate)
		}
		switch frame.Type {
		case wire.EventAck:
			ack, err := wire.ParseAck(frame.Payload)
			if err != nil || !ack.Success {
				t.Fatalf("ack = %+v, err = %v", ack, err)
			}
			gotAck = true
		case wire.EventActivityUpdate:
			gotUpdate = true
		}
	}
}

func TestUnknownEventType(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t)

	sendFrame(t, conn, "subscribe_kittens", 1, map[string]any{})
	ack := readAck(t, conn, 1)
	if ack.Success || ack.Error != errUnknownEvent {
		t.Errorf("ack = %+v, want %q failure", ack, errUnknownEvent)
	}
}

func TestJoinAdminRateLimitOverWire(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.verifier.err = errors.New("signature invalid")

	conn := env.dial(t)
	for i := 1; i <= 5; i++ {
		sendFrame(t, conn, wire.EventJoinAdmin, int64(i), wire.JoinRequest{Token: "bad"})
		ack := readAck(t, conn, int64(i))
		if ack.Error != errAuthFailed {
			t.Fatalf("attempt %d: Error = %q, want %q", i, ack.Error, errAuthFailed)
		}
	}

	sendFrame(t, conn, wire.EventJoinAdmin, 6, wire.JoinRequest{Token: "bad"})
	ack := readAck(t, conn, 6)
	if ack.Error != errTooManyAttempts {
		t.Errorf("Error = %q, want %q", ack.Error, errTooManyAttempts)
	}
	if got := env.verifier.callCount(); got != 5 {
		t.Errorf("verifier called %d times, want 5", got)
	}
}

func TestOriginRejection(t *testing.T) {
	env := newTestEnv(t, Config{AllowedOrigins: []string{"https://cms.example.com"}})

	url := "ws" + strings.TrimPrefix(env.http.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("dial succeeded from disallowed origin")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	header = http.Header{"Origin": []string{"https://cms.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial from allowed origin failed: %v", err)
	}
	conn.Close()
}

func TestDisconnectClearsRegistry(t *testing.T) {
	env := newTestEnv(t, Config{})

	conn := env.dial(t)
	joinAdmin(t, conn, 1)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.srv.Stats().OpenConnections == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats := env.srv.Stats()
	if stats.OpenConnections != 0 {
		t.Errorf("OpenConnections = %d, want 0", stats.OpenConnections)
	}
	if stats.TotalConnections != 1 {
		t.Errorf("TotalConnections = %d, want 1", stats.TotalConnections)
	}
}

func TestShutdownRefusesNewConnections(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t)

	if err := env.srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still readable after shutdown")
	}

	url := "ws" + strings.TrimPrefix(env.http.URL, "http")
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("dial succeeded after shutdown")
	}
}
