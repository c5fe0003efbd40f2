package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/flemzord/braid/internal/stream"
)

// Event types pushed to websocket subscribers.
const (
	EventToken  = "token"
	EventClosed = "closed"
)

// StreamEvent is one message on the websocket feed.
type StreamEvent struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Token     string          `json:"token,omitempty"`
	Final     *stream.Session `json:"final,omitempty"`
}

// subscriberBuffer bounds the per-client backlog. A client that falls this
// far behind is dropped; the sink contract forbids blocking the stream's
// consume loop.
const subscriberBuffer = 256

type subscriber struct {
	requestID string // empty subscribes to every stream
	events    chan StreamEvent
	drop      func()
	dropOnce  sync.Once
}

func (s *subscriber) wants(requestID string) bool {
	return s.requestID == "" || s.requestID == requestID
}

// Hub fans stream events out to websocket clients. It implements
// stream.Sink.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "gateway.hub"),
		subs:   make(map[*subscriber]struct{}),
	}
}

// StreamToken implements stream.Sink.
func (h *Hub) StreamToken(requestID, token string) {
	h.broadcast(StreamEvent{Type: EventToken, RequestID: requestID, Token: token})
}

// StreamClosed implements stream.Sink.
func (h *Hub) StreamClosed(final stream.Session) {
	h.broadcast(StreamEvent{Type: EventClosed, RequestID: final.RequestID, Final: &final})
}

func (h *Hub) broadcast(ev StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(ev.RequestID) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			// Lagging client: disconnect it rather than stall or skip
			// events silently.
			h.logger.Warn("dropping lagging websocket subscriber", "request_id", sub.requestID)
			delete(h.subs, sub)
			sub.dropOnce.Do(sub.drop)
		}
	}
}

// Close disconnects every subscriber. New subscriptions are rejected.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.dropOnce.Do(sub.drop)
	}
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[sub] = struct{}{}
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
}

// HandleWebSocket upgrades the connection and pushes stream events until
// the client disconnects. The optional request_id query parameter narrows
// the feed to one stream.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := &subscriber{
		requestID: r.URL.Query().Get("request_id"),
		events:    make(chan StreamEvent, subscriberBuffer),
		drop:      cancel,
	}
	if !h.add(sub) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(sub)

	// Drain client frames so pings and close frames are processed; the
	// feed is one-way.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-sub.events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

var _ stream.Sink = (*Hub)(nil)
