package engine

import (
	"context"

	ctxengine "github.com/flemzord/braid/internal/context"
)

// PrepareRequest describes a dry-run context assembly: what would be sent
// to the model for this branch and query, without running a turn.
type PrepareRequest struct {
	SessionID     string
	BranchID      string // empty means the active branch
	SystemMessage string
	UserQuery     string
	Provider      string // empty means the registry default
	Model         string // empty means the provider's default
}

// PrepareContext assembles the context for the branch's conversation line
// and returns the selection with its reservation and token accounting.
func (e *Engine) PrepareContext(ctx context.Context, req PrepareRequest) (ctxengine.PrepareResult, error) {
	branchID := req.BranchID
	if branchID == "" {
		br, err := e.branches.ActiveBranch(ctx, req.SessionID)
		if err != nil {
			return ctxengine.PrepareResult{}, err
		}
		if br != nil {
			branchID = br.ID
		}
	}

	model := req.Model
	if model == "" {
		if prov, err := e.providers.Get(req.Provider); err == nil {
			model = prov.ModelName()
		}
	}

	history, err := e.branches.ThreadMessages(ctx, req.SessionID, branchID)
	if err != nil {
		return ctxengine.PrepareResult{}, err
	}

	return e.assembler.PrepareContext(ctx, ctxengine.PrepareRequest{
		Messages:      history,
		SystemMessage: req.SystemMessage,
		UserQuery:     req.UserQuery,
		Model:         model,
	}), nil
}
