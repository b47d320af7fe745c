package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"watch_together/native/internal/domain"

	"github.com/gorilla/websocket"
)

// testServer accepts WebSocket connections and hands each one to the test.
type testServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ts.conns <- conn
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return got
}

func nextMessage(t *testing.T, c *Client) domain.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		if !ok {
			t.Fatal("messages channel closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestClientSendTagsScope(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), "watch")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	server := ts.accept(t)

	c.Send(domain.Join{RoomID: "room-1"})

	got := readEnvelope(t, server)
	if got["type"] != "join" || got["roomId"] != "room-1" || got["scope"] != "watch" {
		t.Errorf("sent %v", got)
	}
}

func TestClientDeliversDecodedMessagesAndSkipsOthers(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), "watch")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	server := ts.accept(t)

	for _, raw := range []string{
		`{"scope":"chat","type":"joined","id":"other"}`,
		`{"scope":"watch","type":"bogus"}`,
		`{"scope":"watch","type":"joined","id":"g1"}`,
	} {
		if err := server.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}

	msg := nextMessage(t, c)
	joined, ok := msg.(domain.Joined)
	if !ok || joined.ID != "g1" {
		t.Fatalf("got %#v, want Joined{g1}", msg)
	}
}

func TestClientReconnectsAfterServerDrop(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), "watch")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	first := ts.accept(t)
	first.Close()

	second := ts.accept(t)
	if err := second.WriteMessage(websocket.TextMessage, []byte(`{"scope":"watch","type":"new-peer","id":"g2"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	msg := nextMessage(t, c)
	if np, ok := msg.(domain.NewPeer); !ok || np.ID != "g2" {
		t.Fatalf("got %#v, want NewPeer{g2}", msg)
	}
}

func TestClientReportsDisconnectWhenServerGone(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), "watch")

	lost := make(chan error, 1)
	c.SetDisconnectHandler(func(err error) { lost <- err })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	server := ts.accept(t)
	ts.Server.Close()
	server.Close()

	select {
	case err := <-lost:
		if err == nil {
			t.Error("disconnect handler got nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect handler not called")
	}

	select {
	case _, ok := <-c.Messages():
		if ok {
			t.Error("unexpected message after disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("messages channel not closed after disconnect")
	}
}

func TestClientCloseEndsMessages(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), "watch")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ts.accept(t)

	c.Close()
	c.Close() // idempotent

	select {
	case _, ok := <-c.Messages():
		if ok {
			t.Error("unexpected message after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("messages channel not closed")
	}
}

func TestClientSendBeforeConnectIsDropped(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/unreachable", "watch")
	c.retryDelay = time.Millisecond
	defer c.Close()

	done := make(chan struct{})
	go func() {
		c.Send(domain.Create{RoomID: "r"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("Send blocked")
	}
}
