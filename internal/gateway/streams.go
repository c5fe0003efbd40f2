package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/braid/internal/engine"
	"github.com/flemzord/braid/internal/stream"
)

type chatRequest struct {
	BranchID      string `json:"branch_id"`
	UserID        string `json:"user_id"`
	Message       string `json:"message"`
	SystemMessage string `json:"system_message"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`

	// Stream selects server-sent events delivery. Off, the handler
	// blocks and returns the finished turn as JSON.
	Stream bool `json:"stream"`
}

type chatResponse struct {
	UserMessage      any            `json:"user_message"`
	AssistantMessage any            `json:"assistant_message,omitempty"`
	Stream           stream.Session `json:"stream"`
	Usage            any            `json:"usage"`
}

// handleChat runs one chat turn. With stream on, tokens are delivered as
// SSE events (start, token, done, error) while the turn runs.
func (g *Gateway) handleChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.engine == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "engine not available"})
			return
		}
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}

		turn := engine.ChatRequest{
			SessionID:     chi.URLParam(r, "id"),
			BranchID:      req.BranchID,
			UserID:        req.UserID,
			ConnectionID:  r.RemoteAddr,
			Message:       req.Message,
			SystemMessage: req.SystemMessage,
			Provider:      req.Provider,
			Model:         req.Model,
		}

		if !req.Stream {
			g.runTurn(w, r, turn)
			return
		}
		g.runTurnSSE(w, r, turn)
	}
}

func (g *Gateway) runTurn(w http.ResponseWriter, r *http.Request, turn engine.ChatRequest) {
	start := time.Now()
	res, err := g.engine.ChatTurn(r.Context(), turn)
	if err != nil {
		g.metrics.RecordTurn("error", time.Since(start), 0, 0)
		writeError(w, err)
		return
	}
	g.metrics.RecordTurn(string(res.Stream.Status), time.Since(start), res.Usage.Prompt, res.Usage.Completion)
	writeJSON(w, http.StatusOK, chatResponse{
		UserMessage:      res.UserMessage,
		AssistantMessage: res.AssistantMessage,
		Stream:           res.Stream,
		Usage:            res.Usage,
	})
}

func (g *Gateway) runTurnSSE(w http.ResponseWriter, r *http.Request, turn engine.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(event string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	// The coordinator's consume loop runs in this goroutine, so the
	// callbacks write to the response without extra synchronization.
	turn.Callbacks = stream.Callbacks{
		OnStart: func(s stream.Session) {
			emit("start", s)
		},
		OnToken: func(s stream.Session, token string) {
			g.metrics.RecordStreamToken()
			emit("token", map[string]string{"request_id": s.RequestID, "token": token})
		},
	}

	start := time.Now()
	res, err := g.engine.ChatTurn(r.Context(), turn)
	if err != nil {
		g.metrics.RecordTurn("error", time.Since(start), 0, 0)
		emit("error", errorResponse{Error: err.Error()})
		return
	}
	g.metrics.RecordTurn(string(res.Stream.Status), time.Since(start), res.Usage.Prompt, res.Usage.Completion)
	emit("done", chatResponse{
		UserMessage:      res.UserMessage,
		AssistantMessage: res.AssistantMessage,
		Stream:           res.Stream,
		Usage:            res.Usage,
	})
}

type prepareContextRequest struct {
	SessionID     string `json:"session_id"`
	BranchID      string `json:"branch_id"`
	SystemMessage string `json:"system_message"`
	UserQuery     string `json:"user_query"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
}

func (g *Gateway) handlePrepareContext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.engine == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "engine not available"})
			return
		}
		var req prepareContextRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := g.engine.PrepareContext(r.Context(), engine.PrepareRequest{
			SessionID:     req.SessionID,
			BranchID:      req.BranchID,
			SystemMessage: req.SystemMessage,
			UserQuery:     req.UserQuery,
			Provider:      req.Provider,
			Model:         req.Model,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (g *Gateway) handleActiveStreams() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, g.streams.ActiveStreams())
	}
}

func (g *Gateway) handleStreamProgress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := g.streams.Progress(chi.URLParam(r, "requestID"))
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "stream not found"})
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func (g *Gateway) handleCancelStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "requestID")
		if !g.streams.Cancel(requestID) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "stream not found or already finished"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID, "status": "cancelling"})
	}
}

func (g *Gateway) handleStreamContent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := chi.URLParam(r, "messageID")
		content, ok := g.streams.ContentByMessageID(messageID)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no stream for message"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message_id": messageID, "content": content})
	}
}
