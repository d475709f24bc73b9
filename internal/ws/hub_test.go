package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/heartline/server/internal/auth"
	"github.com/heartline/server/internal/chat"
	"github.com/heartline/server/internal/moderation"
	"github.com/heartline/server/internal/protocol"
)

type staticTokens map[string]string // token -> user id

func (s staticTokens) Validate(_ context.Context, token string) (*auth.Claims, error) {
	uid, ok := s[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{SessionID: "s-" + uid, RegisteredClaims: jwt.RegisteredClaims{Subject: uid}}, nil
}

type memBus struct {
	mu         sync.Mutex
	events     map[string]func([]byte) // conn id -> handler
	moderation map[string]func([]byte)
	owners     map[string]string // conn id -> user id
}

func newMemBus() *memBus {
	return &memBus{
		events:     make(map[string]func([]byte)),
		moderation: make(map[string]func([]byte)),
		owners:     make(map[string]string),
	}
}

func (b *memBus) SubscribeUserEvents(userID, connID string, h func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[connID] = h
	b.owners[connID] = userID
	return nil
}

func (b *memBus) UnsubscribeUserEvents(connID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, connID)
	return nil
}

func (b *memBus) SubscribeModerationResult(_, connID string, h func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.moderation[connID] = h
	return nil
}

func (b *memBus) UnsubscribeModerationResult(connID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.moderation, connID)
	return nil
}

func (b *memBus) publish(subs map[string]func([]byte), userID string, data []byte) int {
	b.mu.Lock()
	var targets []func([]byte)
	for connID, h := range subs {
		if b.owners[connID] == userID {
			targets = append(targets, h)
		}
	}
	b.mu.Unlock()
	for _, h := range targets {
		h(data)
	}
	return len(targets)
}

func (b *memBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type fakeChat struct {
	mu    sync.Mutex
	sent  []string
	reads []string
	err   error
}

func (f *fakeChat) Send(_ context.Context, sender, receiver, text string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sender+"->"+receiver+":"+text)
	return &chat.Message{SenderID: sender, ReceiverID: receiver, Body: text}, nil
}

func (f *fakeChat) Typing(context.Context, string, string, bool) error { return nil }

func (f *fakeChat) MarkRead(_ context.Context, reader, peer string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, reader+"<-"+peer)
	return 1, nil
}

func newTestHub(t *testing.T) (*Hub, *memBus, *fakeChat, *httptest.Server) {
	t.Helper()
	bus := newMemBus()
	cfg := DefaultConfig()
	cfg.Heartbeat = HeartbeatConfig{Interval: time.Minute, Timeout: time.Minute}
	hub := NewHub(cfg, staticTokens{"tok-alice": "alice"}, bus, zap.NewNop())
	svc := &fakeChat{}
	hub.RegisterChatHandlers(svc, nil)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hub.Shutdown(ctx)
		srv.Close()
	})
	return hub, bus, svc, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) (net.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, url)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

func readFrame(t *testing.T, conn net.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("ReadServerText() error: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("bad frame %q: %v", data, err)
	}
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_RejectsBadToken(t *testing.T) {
	_, _, _, srv := newTestHub(t)
	if _, err := dial(t, srv, "nope"); err == nil {
		t.Fatal("expected the handshake to fail for an invalid token")
	}
}

func TestHub_PingAndForwardedEvents(t *testing.T) {
	hub, bus, _, srv := newTestHub(t)
	conn, err := dial(t, srv, "tok-alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, func() bool { return bus.subscribers() == 1 })

	if err := wsutil.WriteClientText(conn, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if got := readFrame(t, conn)["type"]; got != protocol.TypePong {
		t.Fatalf("expected pong, got %v", got)
	}

	event := []byte(`{"type":"message","chat_id":"c1","from":"bob","ts":1}`)
	if n := bus.publish(bus.events, "alice", event); n != 1 {
		t.Fatalf("expected 1 subscriber for alice, got %d", n)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "message" || frame["from"] != "bob" {
		t.Fatalf("unexpected forwarded event: %v", frame)
	}

	if hub.Connections().Count() != 1 {
		t.Fatalf("Count() = %d, want 1", hub.Connections().Count())
	}
}

func TestHub_ChatFrames(t *testing.T) {
	_, bus, svc, srv := newTestHub(t)
	conn, err := dial(t, srv, "tok-alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, func() bool { return bus.subscribers() == 1 })

	wsutil.WriteClientText(conn, []byte(`{"type":"send","peer_id":"bob","text":"hi"}`))
	wsutil.WriteClientText(conn, []byte(`{"type":"mark_read","peer_id":"bob"}`))

	waitFor(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.sent) == 1 && len(svc.reads) == 1
	})
	if svc.sent[0] != "alice->bob:hi" {
		t.Errorf("sent = %q", svc.sent[0])
	}

	svc.mu.Lock()
	svc.err = chat.ErrBlocked
	svc.mu.Unlock()
	wsutil.WriteClientText(conn, []byte(`{"type":"send","peer_id":"bob","text":"hi"}`))
	frame := readFrame(t, conn)
	if frame["type"] != protocol.TypeError || frame["code"] != "blocked" {
		t.Fatalf("expected blocked error, got %v", frame)
	}

	wsutil.WriteClientText(conn, []byte(`{"type":"find_match"}`))
	if got := readFrame(t, conn)["code"]; got != "parse_error" {
		t.Fatalf("expected parse_error for unknown type, got %v", got)
	}
}

func TestHub_SuspensionClosesStream(t *testing.T) {
	hub, bus, _, srv := newTestHub(t)
	conn, err := dial(t, srv, "tok-alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, func() bool { return bus.subscribers() == 1 })

	res, _ := json.Marshal(moderation.ModerationResult{
		UserID: "alice", MessageID: "m1", ChatID: "c1",
		Blocked: true, Reason: moderation.ReasonBlockedKeyword, SuspendedFor: 900,
	})
	bus.publish(bus.moderation, "alice", res)

	if got := readFrame(t, conn)["type"]; got != protocol.TypeModeration {
		t.Fatalf("expected moderation frame, got %v", got)
	}
	if got := readFrame(t, conn)["type"]; got != protocol.TypeSuspended {
		t.Fatalf("expected suspended frame, got %v", got)
	}
	waitFor(t, func() bool { return hub.Connections().Count() == 0 && bus.subscribers() == 0 })
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	hub, bus, _, srv := newTestHub(t)
	if _, err := dial(t, srv, "tok-alice"); err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, func() bool { return bus.subscribers() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hub.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if hub.Connections().Count() != 0 {
		t.Fatalf("Count() after shutdown = %d", hub.Connections().Count())
	}
}
