package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/braid/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHub(t *testing.T, hub *Hub, query string) *websocket.Conn {
	t.Helper()

	ws := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(ws.Close)

	url := "ws" + strings.TrimPrefix(ws.URL, "http") + "/?" + query
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) StreamEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func TestHubBroadcast(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	conn := dialHub(t, hub, "")

	waitForSubscribers(t, hub, 1)
	hub.StreamToken("req-1", "hello")
	ev := readEvent(t, conn)
	if ev.Type != EventToken || ev.RequestID != "req-1" || ev.Token != "hello" {
		t.Fatalf("event = %+v", ev)
	}

	hub.StreamClosed(stream.Session{RequestID: "req-1", Status: stream.StatusCompleted, Content: "hello"})
	ev = readEvent(t, conn)
	if ev.Type != EventClosed || ev.Final == nil || ev.Final.Status != stream.StatusCompleted {
		t.Fatalf("event = %+v", ev)
	}
}

func TestHubRequestFilter(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	conn := dialHub(t, hub, "request_id=req-2")

	waitForSubscribers(t, hub, 1)
	hub.StreamToken("req-1", "skip")
	hub.StreamToken("req-2", "keep")

	ev := readEvent(t, conn)
	if ev.RequestID != "req-2" || ev.Token != "keep" {
		t.Fatalf("event = %+v, want only req-2", ev)
	}
}

// waitForSubscribers blocks until the hub has n registered subscribers.
// Subscription happens inside the server's handler goroutine after the
// upgrade, so the dial returning does not guarantee registration.
func waitForSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		count := len(hub.subs)
		hub.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscriber never registered")
}
