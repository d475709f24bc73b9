package ws

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
)

func pipeConn(t *testing.T, id, userID string) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return newConnection(id, userID, server, time.Second), client
}

func TestConnectionManager_ByUser(t *testing.T) {
	cm := NewConnectionManager()
	a1, _ := pipeConn(t, "a1", "alice")
	a2, _ := pipeConn(t, "a2", "alice")
	b1, _ := pipeConn(t, "b1", "bob")

	cm.Add(a1)
	cm.Add(a2)
	cm.Add(b1)

	if cm.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", cm.Count())
	}
	if got := len(cm.ForUser("alice")); got != 2 {
		t.Fatalf("ForUser(alice) = %d connections, want 2", got)
	}

	if !cm.Remove("a1") {
		t.Fatal("Remove(a1) = false, want true")
	}
	if cm.Remove("a1") {
		t.Fatal("second Remove(a1) = true, want false")
	}
	if got := len(cm.ForUser("alice")); got != 1 {
		t.Fatalf("ForUser(alice) after remove = %d, want 1", got)
	}

	cm.Remove("a2")
	if got := cm.ForUser("alice"); len(got) != 0 {
		t.Fatalf("ForUser(alice) after removing all = %v, want empty", got)
	}
	if cm.Get("b1") != b1 {
		t.Fatal("Get(b1) did not return the registered connection")
	}
}

func TestConnection_WriteMessage(t *testing.T) {
	c, client := pipeConn(t, "c1", "alice")

	done := make(chan error, 1)
	go func() { done <- c.WriteMessage([]byte(`{"type":"pong"}`)) }()

	data, err := wsutil.ReadServerText(client)
	if err != nil {
		t.Fatalf("ReadServerText() error: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("got %q", data)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}
}

func TestConnection_LastActive(t *testing.T) {
	c, _ := pipeConn(t, "c1", "alice")
	before := c.LastActive()
	time.Sleep(2 * time.Millisecond)
	c.touch()
	if !c.LastActive().After(before) {
		t.Error("touch() did not advance LastActive")
	}
}
