package engine

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ctxengine "github.com/flemzord/braid/internal/context"
	"github.com/flemzord/braid/internal/provider"
	"github.com/flemzord/braid/internal/stream"
	"github.com/flemzord/braid/pkg/chat"
)

// ChatRequest describes one chat turn.
type ChatRequest struct {
	SessionID string

	// BranchID selects the branch to append to. Empty means the
	// session's active branch.
	BranchID string

	// UserID attributes token usage and rate limits. Empty disables
	// per-user accounting for this turn.
	UserID string

	// ConnectionID tags the stream session for sticky transport routing.
	ConnectionID string

	// Message is the user's turn text.
	Message string

	// SystemMessage is the system prompt, possibly empty.
	SystemMessage string

	// Provider names the backend. Empty means the registry default.
	Provider string

	// Model overrides the provider's default model.
	Model string

	// Callbacks receive live stream events for this turn. The stream is
	// registered under the user message's ID, so in-flight content can be
	// looked up by the message that prompted it.
	Callbacks stream.Callbacks
}

// ChatResult is the outcome of a completed turn.
type ChatResult struct {
	UserMessage      *chat.Message
	AssistantMessage *chat.Message
	Stream           stream.Session
	Prepared         ctxengine.PrepareResult
	Usage            chat.TokenUsage
}

// ChatTurn runs one turn synchronously: it blocks until the provider
// stream reaches a terminal state. Cancelled turns persist the partial
// assistant content; failed turns persist nothing and return
// ErrStreamFailed.
func (e *Engine) ChatTurn(ctx context.Context, req ChatRequest) (ChatResult, error) {
	ctx, span := e.tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	result, err := e.runTurn(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (e *Engine) runTurn(ctx context.Context, req ChatRequest) (ChatResult, error) {
	var result ChatResult

	branchID := req.BranchID
	if branchID == "" {
		br, err := e.branches.ActiveBranch(ctx, req.SessionID)
		if err != nil {
			return result, err
		}
		if br != nil {
			branchID = br.ID
		}
	}

	if req.UserID != "" {
		check, err := e.usage.CheckRateLimits(ctx, req.UserID, e.limits)
		if err != nil {
			return result, err
		}
		if !check.Allowed {
			return result, fmt.Errorf("engine: user %s: %s: %w", req.UserID, check.Reason, ErrRateLimited)
		}
	}

	prov, err := e.providers.Get(req.Provider)
	if err != nil {
		return result, err
	}
	model := req.Model
	if model == "" {
		model = prov.ModelName()
	}

	history, err := e.branches.ThreadMessages(ctx, req.SessionID, branchID)
	if err != nil {
		return result, err
	}
	prepared := e.assembler.PrepareContext(ctx, ctxengine.PrepareRequest{
		Messages:      history,
		SystemMessage: req.SystemMessage,
		UserQuery:     req.Message,
		Model:         model,
	})
	result.Prepared = prepared

	userMsg, err := e.branches.AppendMessage(ctx, req.SessionID, branchID, chat.RoleUser, req.Message)
	if err != nil {
		return result, err
	}
	result.UserMessage = userMsg

	// The provider stream outlives the coordinator's consume loop when a
	// turn is cancelled mid-flight; the per-turn cancel unwinds it.
	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()

	chunks, err := prov.Stream(turnCtx, completionRequest(prepared, userMsg, model))
	if err != nil {
		return result, err
	}

	source := make(chan stream.Fragment)
	var (
		usageMu   sync.Mutex
		provUsage *provider.TokenUsage
	)
	go func() {
		defer close(source)
		for chunk := range chunks {
			if chunk.Usage != nil {
				usageMu.Lock()
				provUsage = chunk.Usage
				usageMu.Unlock()
			}
			var frag stream.Fragment
			switch {
			case chunk.Err != nil:
				frag = stream.Fragment{Err: chunk.Err}
			case chunk.Content != "":
				frag = stream.Fragment{Text: chunk.Content}
			default:
				continue
			}
			select {
			case source <- frag:
			case <-turnCtx.Done():
				return
			}
			if frag.Err != nil {
				return
			}
		}
	}()

	final, streamErr := e.streams.Stream(ctx, stream.StreamRequest{
		ConnectionID: req.ConnectionID,
		SessionID:    req.SessionID,
		MessageID:    userMsg.ID,
		Source:       source,
		Callbacks:    req.Callbacks,
	})
	result.Stream = final

	switch final.Status {
	case stream.StatusCompleted:
		asst, err := e.branches.AppendMessage(ctx, req.SessionID, branchID, chat.RoleAssistant, final.Content)
		if err != nil {
			return result, err
		}
		result.AssistantMessage = asst
	case stream.StatusCancelled:
		if final.Content != "" {
			asst, err := e.branches.AppendMessage(ctx, req.SessionID, branchID, chat.RoleAssistant, final.Content)
			if err != nil {
				return result, err
			}
			result.AssistantMessage = asst
		}
	default:
		if streamErr != nil {
			return result, fmt.Errorf("engine: %s: %w", final.Error, ErrStreamFailed)
		}
		return result, fmt.Errorf("engine: stream ended with status %s: %w", final.Status, ErrStreamFailed)
	}

	usageMu.Lock()
	reported := provUsage
	usageMu.Unlock()

	tracked, err := e.trackUsage(ctx, req, prepared, final, reported, model)
	if err != nil {
		return result, err
	}
	result.Usage = tracked

	e.logger.Info("chat turn finished",
		"session_id", req.SessionID,
		"branch_id", branchID,
		"status", final.Status,
		"tokens", final.TokenCount,
	)
	return result, nil
}

// completionRequest builds the provider payload: system prompt, selected
// history, then the user turn.
func completionRequest(prepared ctxengine.PrepareResult, userMsg *chat.Message, model string) provider.CompletionRequest {
	msgs := make([]*chat.Message, 0, len(prepared.Messages)+2)
	if prepared.SystemMessage != "" {
		msgs = append(msgs, &chat.Message{Role: chat.RoleSystem, Content: prepared.SystemMessage})
	}
	msgs = append(msgs, prepared.Messages...)
	msgs = append(msgs, userMsg)
	return provider.CompletionRequest{Model: model, Messages: msgs}
}

// trackUsage records the turn against the session and, when known, the
// user. Provider-reported usage wins; otherwise prompt cost comes from the
// prepared context measurements and completion cost from recounting the
// streamed content.
func (e *Engine) trackUsage(ctx context.Context, req ChatRequest, prepared ctxengine.PrepareResult, final stream.Session, provUsage *provider.TokenUsage, model string) (chat.TokenUsage, error) {
	var prompt, completion int
	if provUsage != nil {
		prompt = provUsage.PromptTokens
		completion = provUsage.CompletionTokens
	} else {
		tc := prepared.TokenCounts
		prompt = tc.SystemMessage + tc.UserQuery + tc.ConversationHistory
		completion = e.counter.Count(ctx, final.Content, model)
	}

	tracked, err := e.usage.TrackSession(ctx, req.SessionID, prompt, completion, model)
	if err != nil {
		return chat.TokenUsage{}, err
	}
	if req.UserID != "" {
		if _, err := e.usage.TrackUser(ctx, req.UserID, prompt, completion, model); err != nil {
			return chat.TokenUsage{}, err
		}
	}
	return tracked, nil
}
