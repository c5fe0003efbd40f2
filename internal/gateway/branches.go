package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/braid/internal/branch"
	"github.com/flemzord/braid/pkg/chat"
)

type createBranchRequest struct {
	OriginMessageID string            `json:"origin_message_id"`
	Name            string            `json:"name"`
	Metadata        map[string]string `json:"metadata"`
}

func (g *Gateway) handleCreateBranch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBranchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		br, err := g.branches.CreateBranch(r.Context(), chi.URLParam(r, "id"), req.OriginMessageID, branch.CreateBranchOptions{
			Name:     req.Name,
			Metadata: req.Metadata,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, br)
	}
}

func (g *Gateway) handleListBranches() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeArchived := r.URL.Query().Get("include_archived") == "true"
		branches, err := g.branches.GetBranches(r.Context(), chi.URLParam(r, "id"), includeArchived)
		if err != nil {
			writeError(w, err)
			return
		}
		if branches == nil {
			branches = []*chat.Branch{}
		}
		writeJSON(w, http.StatusOK, branches)
	}
}

func (g *Gateway) handleSwitchBranch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		br, err := g.branches.SwitchBranch(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "branchID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, br)
	}
}

type mergeBranchesRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

func (g *Gateway) handleMergeBranches() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mergeBranchesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		br, err := g.branches.MergeBranches(r.Context(), chi.URLParam(r, "id"), req.SourceID, req.TargetID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, br)
	}
}

func (g *Gateway) handleArchiveBranch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		br, err := g.branches.ArchiveBranch(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "branchID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, br)
	}
}

func (g *Gateway) handleDeleteBranch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := branch.DeleteBranchOptions{
			DeleteMessages: r.URL.Query().Get("delete_messages") == "true",
		}
		err := g.branches.DeleteBranch(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "branchID"), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleBranchLineage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chain, err := g.branches.Lineage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "branchID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chain)
	}
}

func (g *Gateway) handleBranchMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := g.branches.GetBranchMessages(r.Context(), chi.URLParam(r, "id"))
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
