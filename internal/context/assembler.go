package ctxengine

import (
	"context"
	"log/slog"
	"math"

	"github.com/flemzord/braid/pkg/chat"
)

// TokenCounter is the counting surface the assembler depends on.
// internal/token.Counter satisfies it.
type TokenCounter interface {
	Count(ctx context.Context, text, model string) int
	CountConversation(ctx context.Context, messages []*chat.Message, model string) int
	ContextWindowSize(ctx context.Context, model string) int
}

// Reservations is the token budget carved out of a context window, one
// sub-budget per purpose. ConversationHistory absorbs whatever the three
// fixed reservations leave over.
type Reservations struct {
	SystemMessage       int `json:"system_message"`
	UserQuery           int `json:"user_query"`
	Response            int `json:"response"`
	ConversationHistory int `json:"conversation_history"`
}

// Assembler computes reservations and selects the history slice that fits
// a model's context window.
type Assembler struct {
	counter TokenCounter
	config  Config
	logger  *slog.Logger
}

// NewAssembler creates an Assembler. The reservation config is validated
// here, once; malformed percentages are a construction error.
func NewAssembler(counter TokenCounter, cfg Config, logger *slog.Logger) (*Assembler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		counter: counter,
		config:  cfg,
		logger:  logger.With("component", "ctxengine"),
	}, nil
}

// CalculateReservations splits the context window into sub-budgets. The
// system and query shares round down, the response share rounds to the
// nearest token, and each of the three is raised to its configured
// minimum. History absorbs the remainder. If the raised minimums alone
// exceed the window, all three are scaled down proportionally, history
// drops to zero, and a warning is logged; the call still returns a valid
// allocation.
func (a *Assembler) CalculateReservations(windowSize int) Reservations {
	w := float64(windowSize)
	// The epsilon keeps products like 2000*0.12 (239.999...96 in binary
	// floating point) from flooring one token short.
	system := int(math.Floor(w*a.config.SystemPct + 1e-9))
	query := int(math.Floor(w*a.config.QueryPct + 1e-9))
	response := int(math.Round(w * a.config.ResponsePct))

	system = max(system, a.config.MinSystem)
	query = max(query, a.config.MinQuery)
	response = max(response, a.config.MinResponse)

	fixed := system + query + response
	if fixed > windowSize {
		scale := w / float64(fixed)
		a.logger.Warn("reservation minimums exceed context window, scaling down",
			"window", windowSize,
			"fixed", fixed,
		)
		return Reservations{
			SystemMessage: int(float64(system) * scale),
			UserQuery:     int(float64(query) * scale),
			Response:      int(float64(response) * scale),
		}
	}

	return Reservations{
		SystemMessage:       system,
		UserQuery:           query,
		Response:            response,
		ConversationHistory: windowSize - fixed,
	}
}

// PrepareRequest contains the inputs for context preparation.
type PrepareRequest struct {
	// Messages is the candidate conversation history, chronological.
	Messages []*chat.Message

	// SystemMessage is the system prompt, possibly empty.
	SystemMessage string

	// UserQuery is the current user turn.
	UserQuery string

	// Model selects the tokenizer and context window.
	Model string
}

// TokenCounts reports the measured token costs of a prepared context.
type TokenCounts struct {
	SystemMessage       int `json:"system_message"`
	UserQuery           int `json:"user_query"`
	ConversationHistory int `json:"conversation_history"`
}

// PrepareResult is the output of PrepareContext.
type PrepareResult struct {
	// Messages is the selected history subset, chronological.
	Messages []*chat.Message

	// SystemMessage is passed through unchanged (never truncated).
	SystemMessage string

	Reservations Reservations `json:"reservations"`
	TokenCounts  TokenCounts  `json:"token_counts"`
}

// PrepareContext resolves the model's window, computes reservations,
// measures the fixed parts, and selects the history subset that fits the
// history reservation. Oversized system or query text trips a warning but
// is never truncated; the caller decides how to handle overflow.
func (a *Assembler) PrepareContext(ctx context.Context, req PrepareRequest) PrepareResult {
	window := a.counter.ContextWindowSize(ctx, req.Model)
	res := a.CalculateReservations(window)

	systemTokens := a.counter.Count(ctx, req.SystemMessage, req.Model)
	queryTokens := a.counter.Count(ctx, req.UserQuery, req.Model)

	if systemTokens > res.SystemMessage {
		a.logger.Warn("system message exceeds its reservation",
			"tokens", systemTokens,
			"reserved", res.SystemMessage,
		)
	}
	if queryTokens > res.UserQuery {
		a.logger.Warn("user query exceeds its reservation",
			"tokens", queryTokens,
			"reserved", res.UserQuery,
		)
	}

	selected, historyTokens := a.selectMessages(ctx, req.Messages, res.ConversationHistory, req.Model)

	return PrepareResult{
		Messages:      selected,
		SystemMessage: req.SystemMessage,
		Reservations:  res,
		TokenCounts: TokenCounts{
			SystemMessage:       systemTokens,
			UserQuery:           queryTokens,
			ConversationHistory: historyTokens,
		},
	}
}

// selectMessages walks the history newest to oldest, accumulating per
// message costs, and includes a message only while the running total stays
// within the limit. It stops at the first message that would overflow;
// recency wins over completeness, and no gap is ever introduced mid
// conversation. The result preserves chronological order.
func (a *Assembler) selectMessages(ctx context.Context, messages []*chat.Message, tokenLimit int, model string) ([]*chat.Message, int) {
	var selected []*chat.Message
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		cost := a.counter.Count(ctx, messages[i].Content, model)
		if total+cost > tokenLimit {
			break
		}
		selected = append([]*chat.Message{messages[i]}, selected...)
		total += cost
	}
	return selected, total
}
