package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/braid/pkg/chat"
)

type createSessionRequest struct {
	ModelID string `json:"model_id"`
}

func (g *Gateway) handleCreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sess, err := g.branches.CreateSession(r.Context(), req.ModelID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func (g *Gateway) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := g.branches.ListSessions(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if sessions == nil {
			sessions = []*chat.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func (g *Gateway) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := g.branches.GetSession(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// handleThread returns the full conversation line for a branch. The
// branch_id query parameter defaults to the main line.
func (g *Gateway) handleThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := g.branches.ThreadMessages(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("branch_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if msgs == nil {
			msgs = []*chat.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func (g *Gateway) handleBranchHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := g.branches.GetBranchHistory(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []chat.BranchHistoryEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type appendMessageRequest struct {
	BranchID string `json:"branch_id"`
	Role     string `json:"role"`
	Content  string `json:"content"`
}

// handleAppendMessage appends a message without running a model turn.
func (g *Gateway) handleAppendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appendMessageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		msg, err := g.branches.AppendMessage(r.Context(), chi.URLParam(r, "id"), req.BranchID, chat.Role(req.Role), req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func (g *Gateway) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := g.branches.GetMessage(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (g *Gateway) handleEditMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req editMessageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		msg, err := g.branches.EditMessage(r.Context(), chi.URLParam(r, "id"), req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func (g *Gateway) handleMessageVersions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versions, err := g.branches.GetMessageVersions(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if versions == nil {
			versions = []*chat.Message{}
		}
		writeJSON(w, http.StatusOK, versions)
	}
}
