// Package stream drives consumption of an asynchronous token source for
// one chat turn: per-request progress, cooperative cancellation, delayed
// record cleanup, and an abandonment sweep. The coordinator is transport
// agnostic: pushing tokens to a live client is an optional sink hook, not
// a dependency.
package stream

import (
	"errors"
	"time"
)

// Status is the lifecycle state of one stream session. Transitions are
// monotonic: once terminal, a session never returns to active.
type Status string

// Status constants for stream sessions.
const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError, StatusTimeout:
		return true
	}
	return false
}

// ErrTimeout is reported when the abandonment sweep force-closes a stream.
var ErrTimeout = errors.New("stream timed out")

// Session is the ephemeral record of one in-flight token delivery. It is
// not persisted; the registry is single-instance scoped, so multi-instance
// deployments need sticky routing per request ID.
type Session struct {
	RequestID    string    `json:"request_id"`
	ConnectionID string    `json:"connection_id,omitempty"`
	SessionID    string    `json:"session_id"`
	MessageID    string    `json:"message_id"`
	StartTime    time.Time `json:"start_time"`
	TokenCount   int       `json:"token_count"`
	Status       Status    `json:"status"`
	Content      string    `json:"content"`
	Error        string    `json:"error,omitempty"`
}

// Fragment is one element of a token source: a text fragment or a
// mid-stream error. The source channel closing signals exhaustion.
type Fragment struct {
	Text string
	Err  error
}

// Callbacks are the consumer-supplied handlers for one stream. The
// invocation contract: OnStart, then zero or more OnToken, then exactly
// one of OnComplete, OnCancel, or OnError. Nil handlers are skipped.
type Callbacks struct {
	OnStart    func(s Session)
	OnToken    func(s Session, token string)
	OnComplete func(s Session)
	OnCancel   func(s Session)
	OnError    func(s Session, err error)
}

// Sink receives stream events for live transport push. Implementations
// must not block: a slow client stalls its own stream's consumption loop.
type Sink interface {
	// StreamToken delivers one token of an in-flight stream.
	StreamToken(requestID, token string)

	// StreamClosed reports the terminal state of a stream.
	StreamClosed(final Session)
}
