package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Coordinator defaults.
const (
	defaultRetention     = 30 * time.Second
	defaultTimeout       = 5 * time.Minute
	defaultSweepInterval = 30 * time.Second
)

// Options configure a Coordinator.
type Options struct {
	// Sink, if non-nil, receives every token and terminal event for live
	// transport push.
	Sink Sink

	// Retention is how long a finished session stays queryable before its
	// in-memory record is removed. Zero means 30 seconds.
	Retention time.Duration

	// Timeout is the age past which the sweep force-closes a stream.
	// Zero means 5 minutes.
	Timeout time.Duration

	// SweepInterval is how often the abandonment sweep runs. Zero means
	// 30 seconds.
	SweepInterval time.Duration

	Logger *slog.Logger
}

// Coordinator multiplexes many concurrent streams, each identified by a
// fresh request ID. Consumption of a single source is strictly sequential;
// independent streams proceed fully in parallel. The registry is
// synchronized because Cancel and the consuming loop touch the same
// record from different goroutines.
type Coordinator struct {
	sink   Sink
	logger *slog.Logger

	retention     time.Duration
	timeout       time.Duration
	sweepInterval time.Duration

	mu        sync.RWMutex
	byRequest map[string]*record
	byMessage map[string]string

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	// now, newID, and schedule are injectable for deterministic testing.
	now      func() time.Time
	newID    func() string
	schedule func(d time.Duration, fn func())
}

// record pairs a session snapshot with its callbacks. Guarded by the
// coordinator mutex.
type record struct {
	session   Session
	callbacks Callbacks
}

// NewCoordinator creates a stream coordinator. Call Start to run the
// abandonment sweep and Stop on shutdown.
func NewCoordinator(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		sink:          opts.Sink,
		logger:        logger.With("component", "stream"),
		retention:     opts.Retention,
		timeout:       opts.Timeout,
		sweepInterval: opts.SweepInterval,
		byRequest:     make(map[string]*record),
		byMessage:     make(map[string]string),
		done:          make(chan struct{}),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	if c.retention <= 0 {
		c.retention = defaultRetention
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = defaultSweepInterval
	}
	c.schedule = func(d time.Duration, fn func()) {
		time.AfterFunc(d, fn)
	}
	return c
}

// Start launches the periodic abandonment sweep.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Stop terminates the sweep goroutine. In-flight streams are unaffected.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

// StreamRequest are the inputs for one stream consumption.
type StreamRequest struct {
	ConnectionID string
	SessionID    string
	MessageID    string
	Source       <-chan Fragment
	Callbacks    Callbacks
}

// Stream consumes the token source to exhaustion, cancellation, or error,
// blocking in the caller's goroutine. It generates a fresh request ID,
// registers the session under both the request ID and the message ID, and
// returns the terminal session snapshot. Cancellation is cooperative: the
// status is re-checked before each token is consumed.
func (c *Coordinator) Stream(ctx context.Context, req StreamRequest) (Session, error) {
	requestID := c.newID()
	sess := Session{
		RequestID:    requestID,
		ConnectionID: req.ConnectionID,
		SessionID:    req.SessionID,
		MessageID:    req.MessageID,
		StartTime:    c.now(),
		Status:       StatusActive,
	}

	c.mu.Lock()
	c.byRequest[requestID] = &record{session: sess, callbacks: req.Callbacks}
	c.byMessage[req.MessageID] = requestID
	c.mu.Unlock()

	c.logger.Info("stream started",
		"request_id", requestID,
		"session_id", req.SessionID,
		"message_id", req.MessageID,
	)
	if req.Callbacks.OnStart != nil {
		req.Callbacks.OnStart(sess)
	}

	for {
		// Cooperative cancellation and sweep takeover: stop before
		// consuming the next token if another goroutine flipped the
		// status to a terminal state.
		status, snapshot := c.currentStatus(requestID)
		if status != StatusActive {
			return c.reportLate(snapshot, req.Callbacks), nil
		}

		select {
		case <-ctx.Done():
			final, moved := c.terminate(requestID, StatusCancelled, ctx.Err())
			if !moved {
				return c.reportLate(final, req.Callbacks), nil
			}
			c.logger.Info("stream context cancelled", "request_id", requestID)
			c.finish(requestID, final, func() {
				if req.Callbacks.OnCancel != nil {
					req.Callbacks.OnCancel(final)
				}
			})
			return final, nil

		case frag, ok := <-req.Source:
			if !ok {
				final, moved := c.terminate(requestID, StatusCompleted, nil)
				if !moved {
					return c.reportLate(final, req.Callbacks), nil
				}
				c.logger.Info("stream completed", "request_id", requestID, "tokens", final.TokenCount)
				c.finish(requestID, final, func() {
					if req.Callbacks.OnComplete != nil {
						req.Callbacks.OnComplete(final)
					}
				})
				return final, nil
			}
			if frag.Err != nil {
				final, moved := c.terminate(requestID, StatusError, frag.Err)
				if !moved {
					return c.reportLate(final, req.Callbacks), nil
				}
				c.logger.Error("stream source error", "request_id", requestID, "error", frag.Err)
				c.finish(requestID, final, func() {
					if req.Callbacks.OnError != nil {
						req.Callbacks.OnError(final, frag.Err)
					}
				})
				return final, frag.Err
			}

			snapshot, live := c.appendToken(requestID, frag.Text)
			if !live {
				// Terminal state raced the append; loop to report it.
				continue
			}
			if req.Callbacks.OnToken != nil {
				req.Callbacks.OnToken(snapshot, frag.Text)
			}
			if c.sink != nil {
				c.sink.StreamToken(requestID, frag.Text)
			}
		}
	}
}

// currentStatus returns the status and a snapshot of the session.
func (c *Coordinator) currentStatus(requestID string) (Status, Session) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byRequest[requestID]
	if !ok {
		s := Session{RequestID: requestID, Status: StatusError, Error: "stream session not found"}
		return s.Status, s
	}
	return rec.session.Status, rec.session
}

// reportLate handles a stream the consume loop found already terminal. A
// cooperative cancel still owes its callback here; a timeout was already
// reported by the sweep and stays silent.
func (c *Coordinator) reportLate(final Session, cb Callbacks) Session {
	if final.Status == StatusCancelled {
		c.logger.Info("stream cancelled", "request_id", final.RequestID, "tokens", final.TokenCount)
		c.finish(final.RequestID, final, func() {
			if cb.OnCancel != nil {
				cb.OnCancel(final)
			}
		})
	}
	return final
}

// appendToken accumulates a token onto the session. Returns live=false if
// the session is no longer active (the token is dropped).
func (c *Coordinator) appendToken(requestID, token string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byRequest[requestID]
	if !ok || rec.session.Status != StatusActive {
		return Session{}, false
	}
	rec.session.Content += token
	rec.session.TokenCount++
	return rec.session, true
}

// terminate moves the session to a terminal status. Transitions are
// one-directional: for an already-terminal session it returns the current
// snapshot unchanged with moved=false.
func (c *Coordinator) terminate(requestID string, status Status, err error) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byRequest[requestID]
	if !ok {
		return Session{RequestID: requestID, Status: status}, false
	}
	if rec.session.Status.Terminal() {
		return rec.session, false
	}
	rec.session.Status = status
	if err != nil {
		rec.session.Error = err.Error()
	}
	return rec.session, true
}

// finish notifies the sink, runs the terminal callback, and schedules the
// delayed record removal. Late status queries inside the retention window
// still succeed.
func (c *Coordinator) finish(requestID string, final Session, notify func()) {
	notify()
	if c.sink != nil {
		c.sink.StreamClosed(final)
	}
	c.schedule(c.retention, func() { c.remove(requestID) })
}

// remove drops the session record from both registries.
func (c *Coordinator) remove(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byRequest[requestID]
	if !ok {
		return
	}
	delete(c.byRequest, requestID)
	if cur, ok := c.byMessage[rec.session.MessageID]; ok && cur == requestID {
		delete(c.byMessage, rec.session.MessageID)
	}
}

// Cancel requests cooperative cancellation of an active stream. It
// returns false when the stream is unknown or already terminal; the state
// is then left unchanged. Cancellation takes effect at the next token
// boundary, not instantaneously.
func (c *Coordinator) Cancel(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byRequest[requestID]
	if !ok || rec.session.Status != StatusActive {
		return false
	}
	rec.session.Status = StatusCancelled
	return true
}

// Progress returns a snapshot of the session for the request ID. The bool
// is false when the record is unknown or already cleaned up.
func (c *Coordinator) Progress(requestID string) (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byRequest[requestID]
	if !ok {
		return Session{}, false
	}
	return rec.session, true
}

// ActiveStreams returns a snapshot of every currently active stream,
// keyed by request ID. Terminal sessions inside their retention window
// are excluded.
func (c *Coordinator) ActiveStreams() map[string]Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Session)
	for id, rec := range c.byRequest {
		if rec.session.Status == StatusActive {
			out[id] = rec.session
		}
	}
	return out
}

// ContentByMessageID resolves messageID → requestID → accumulated content.
func (c *Coordinator) ContentByMessageID(messageID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	requestID, ok := c.byMessage[messageID]
	if !ok {
		return "", false
	}
	rec, ok := c.byRequest[requestID]
	if !ok {
		return "", false
	}
	return rec.session.Content, true
}

// Sweep force-closes streams whose age exceeds the timeout, marking them
// timed out and reporting through OnError. Runs periodically once Start
// is called; exposed for scheduled maintenance and tests.
func (c *Coordinator) Sweep() int {
	cutoff := c.now().Add(-c.timeout)

	type closed struct {
		final     Session
		callbacks Callbacks
	}

	c.mu.Lock()
	var stale []closed
	for _, rec := range c.byRequest {
		if rec.session.Status == StatusActive && rec.session.StartTime.Before(cutoff) {
			rec.session.Status = StatusTimeout
			rec.session.Error = ErrTimeout.Error()
			stale = append(stale, closed{final: rec.session, callbacks: rec.callbacks})
		}
	}
	c.mu.Unlock()

	for _, sc := range stale {
		final := sc.final
		cb := sc.callbacks
		c.logger.Warn("stream timed out",
			"request_id", final.RequestID,
			"age", c.now().Sub(final.StartTime),
		)
		c.finish(final.RequestID, final, func() {
			if cb.OnError != nil {
				cb.OnError(final, ErrTimeout)
			}
		})
	}
	return len(stale)
}
