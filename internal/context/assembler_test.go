package ctxengine

import (
	"context"
	"testing"

	"github.com/flemzord/braid/pkg/chat"
)

// charCounter counts one token per character, with a fixed window size.
type charCounter struct {
	window int
}

func (c charCounter) Count(_ context.Context, text, _ string) int {
	return len(text)
}

func (c charCounter) CountConversation(_ context.Context, messages []*chat.Message, _ string) int {
	total := 2
	for _, m := range messages {
		total += 4 + len(m.Content)
	}
	return total
}

func (c charCounter) ContextWindowSize(_ context.Context, _ string) int {
	if c.window > 0 {
		return c.window
	}
	return 4096
}

func newTestAssembler(t *testing.T, counter TokenCounter) *Assembler {
	t.Helper()
	a, err := NewAssembler(counter, Config{}, nil)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	return a
}

func TestNewAssembler_RejectsBadPercentages(t *testing.T) {
	t.Parallel()

	cfg := Config{SystemPct: 0.3, QueryPct: 0.3, ResponsePct: 0.3, HistoryPct: 0.3}
	if _, err := NewAssembler(charCounter{}, cfg, nil); err == nil {
		t.Fatal("percentages summing to 1.2 should be rejected")
	}

	// Within tolerance passes.
	cfg = Config{SystemPct: 0.1, QueryPct: 0.12, ResponsePct: 0.28, HistoryPct: 0.5001}
	if _, err := NewAssembler(charCounter{}, cfg, nil); err != nil {
		t.Fatalf("config within tolerance rejected: %v", err)
	}
}

func TestCalculateReservations_Default4096(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, charCounter{})
	got := a.CalculateReservations(4096)

	want := Reservations{
		SystemMessage:       409,
		UserQuery:           491,
		Response:            1147,
		ConversationHistory: 2049,
	}
	if got != want {
		t.Errorf("CalculateReservations(4096) = %+v, want %+v", got, want)
	}
	sum := got.SystemMessage + got.UserQuery + got.Response + got.ConversationHistory
	if sum != 4096 {
		t.Errorf("sum = %d, want 4096", sum)
	}
}

func TestCalculateReservations_MinimumsRaise(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, charCounter{})
	got := a.CalculateReservations(2000)

	// 10% of 2000 = 200; 12% = 240; 28% = 560. System 200 >= min 100,
	// query 240 >= 200, response 560 >= 500: no raises. History = 1000.
	if got.SystemMessage != 200 || got.UserQuery != 240 || got.Response != 560 {
		t.Errorf("reservations = %+v", got)
	}
	if got.ConversationHistory != 1000 {
		t.Errorf("history = %d, want 1000", got.ConversationHistory)
	}

	// A small window trips all three minimums.
	got = a.CalculateReservations(1000)
	if got.SystemMessage != 100 || got.UserQuery != 200 || got.Response != 500 {
		t.Errorf("raised reservations = %+v, want minimums 100/200/500", got)
	}
	if got.ConversationHistory != 200 {
		t.Errorf("history = %d, want 200", got.ConversationHistory)
	}
}

func TestCalculateReservations_TinyWindowScalesDown(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, charCounter{})
	got := a.CalculateReservations(400)

	// Minimums sum to 800 > 400: everything scales by 0.5, history zeroed.
	if got.ConversationHistory != 0 {
		t.Errorf("history = %d, want 0", got.ConversationHistory)
	}
	sum := got.SystemMessage + got.UserQuery + got.Response
	if sum > 400 {
		t.Errorf("scaled sum = %d, exceeds window 400", sum)
	}
	if got.SystemMessage != 50 || got.UserQuery != 100 || got.Response != 250 {
		t.Errorf("scaled reservations = %+v, want 50/100/250", got)
	}
}

func msgsWithContent(contents ...string) []*chat.Message {
	msgs := make([]*chat.Message, 0, len(contents))
	for _, c := range contents {
		msgs = append(msgs, &chat.Message{Role: chat.RoleUser, Content: c})
	}
	return msgs
}

func TestSelectMessages_GreedyRecencyFirst(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, charCounter{})

	// Three messages of 5 tokens each, oldest first; limit 12 keeps the
	// two most recent (10 <= 12; adding the third would make 15).
	msgs := msgsWithContent("aaaaa", "bbbbb", "ccccc")
	selected, total := a.selectMessages(context.Background(), msgs, 12, "")

	if len(selected) != 2 {
		t.Fatalf("selected = %d messages, want 2", len(selected))
	}
	if selected[0].Content != "bbbbb" || selected[1].Content != "ccccc" {
		t.Errorf("selected order = [%s %s], want chronological [bbbbb ccccc]",
			selected[0].Content, selected[1].Content)
	}
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
}

func TestSelectMessages_StopsAtFirstOverflow(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, charCounter{})

	// Newest-to-oldest costs: 4, 10, 1. The 10 overflows a limit of 8 and
	// selection stops; the older 1-token message is not picked up even
	// though it would fit.
	msgs := msgsWithContent("x", "tttttttttt", "wwww")
	selected, _ := a.selectMessages(context.Background(), msgs, 8, "")

	if len(selected) != 1 {
		t.Fatalf("selected = %d messages, want 1", len(selected))
	}
	if selected[0].Content != "wwww" {
		t.Errorf("selected = %q, want the newest message only", selected[0].Content)
	}
}

func TestSelectMessages_EmptyAndZeroLimit(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, charCounter{})
	ctx := context.Background()

	if selected, _ := a.selectMessages(ctx, nil, 100, ""); len(selected) != 0 {
		t.Error("nil history should select nothing")
	}
	if selected, _ := a.selectMessages(ctx, msgsWithContent("abc"), 0, ""); len(selected) != 0 {
		t.Error("zero limit should select nothing")
	}
}

func TestPrepareContext(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, charCounter{window: 4096})
	msgs := msgsWithContent("first", "second", "third")

	res := a.PrepareContext(context.Background(), PrepareRequest{
		Messages:      msgs,
		SystemMessage: "be helpful",
		UserQuery:     "what now?",
		Model:         "gpt-4",
	})

	if res.Reservations.ConversationHistory != 2049 {
		t.Errorf("history reservation = %d, want 2049", res.Reservations.ConversationHistory)
	}
	if res.TokenCounts.SystemMessage != len("be helpful") {
		t.Errorf("system tokens = %d", res.TokenCounts.SystemMessage)
	}
	if res.TokenCounts.UserQuery != len("what now?") {
		t.Errorf("query tokens = %d", res.TokenCounts.UserQuery)
	}
	// Everything fits comfortably: all three messages selected.
	if len(res.Messages) != 3 {
		t.Errorf("selected = %d messages, want 3", len(res.Messages))
	}
	if res.SystemMessage != "be helpful" {
		t.Error("system message must pass through untouched")
	}
}

func TestPrepareContext_OversizedSystemNotTruncated(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, charCounter{window: 1000})

	long := make([]byte, 500)
	for i := range long {
		long[i] = 's'
	}
	res := a.PrepareContext(context.Background(), PrepareRequest{
		SystemMessage: string(long),
		UserQuery:     "q",
	})

	// 500 tokens exceed the 100-token system reservation but the text
	// comes back whole.
	if res.TokenCounts.SystemMessage != 500 {
		t.Errorf("system tokens = %d, want 500", res.TokenCounts.SystemMessage)
	}
	if len(res.SystemMessage) != 500 {
		t.Error("oversized system message must not be truncated")
	}
}
