package token

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/braid/pkg/chat"
)

// fakeEncoder tokenizes by whitespace splitting.
type fakeEncoder struct{}

func (fakeEncoder) Encode(text string, _, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

// panicEncoder simulates a tokenizer blowing up on input.
type panicEncoder struct{}

func (panicEncoder) Encode(string, []string, []string) []int {
	panic("bad input")
}

// fakeProvider is a scripted model-info provider that records call counts.
type fakeProvider struct {
	mu    sync.Mutex
	info  ModelInfo
	ok    bool
	err   error
	calls int
}

func (p *fakeProvider) ModelInfo(_ context.Context, _ string) (ModelInfo, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.info, p.ok, p.err
}

func newTestCounter(provider InfoProvider) *Counter {
	c := NewCounter(provider, nil)
	c.loadEncoding = func(string) (encoder, error) { return fakeEncoder{}, nil }
	return c
}

func TestCount_EmptyText(t *testing.T) {
	t.Parallel()

	c := newTestCounter(nil)
	if got := c.Count(context.Background(), "", "gpt-4"); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}

func TestCount_UsesEncoder(t *testing.T) {
	t.Parallel()

	c := newTestCounter(nil)
	if got := c.Count(context.Background(), "one two three", "gpt-4"); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
}

func TestCount_HeuristicOnLoadFailure(t *testing.T) {
	t.Parallel()

	c := NewCounter(nil, nil)
	c.loadEncoding = func(string) (encoder, error) { return nil, errors.New("no network") }

	// ASCII: ceil(len/4). "hello world" has 11 chars -> 3.
	if got := c.Count(context.Background(), "hello world", "gpt-4"); got != 3 {
		t.Errorf("ascii heuristic = %d, want 3", got)
	}

	// Mostly non-ASCII: ceil(runes/1.5). 4 runes -> 3.
	if got := c.Count(context.Background(), "你好世界", "gpt-4"); got != 3 {
		t.Errorf("cjk heuristic = %d, want 3", got)
	}
}

func TestCount_NeverZeroForNonEmptyInput(t *testing.T) {
	t.Parallel()

	c := NewCounter(nil, nil)
	c.loadEncoding = func(string) (encoder, error) { return nil, errors.New("boom") }
	for _, text := range []string{"a", "é", " ", "x y z", "𝕊"} {
		if got := c.Count(context.Background(), text, "any-model"); got <= 0 {
			t.Errorf("Count(%q) = %d, want positive", text, got)
		}
	}
}

func TestCount_HeuristicOnEncoderPanic(t *testing.T) {
	t.Parallel()

	c := NewCounter(nil, nil)
	c.loadEncoding = func(string) (encoder, error) { return panicEncoder{}, nil }
	if got := c.Count(context.Background(), "four char text!!", "gpt-4"); got != 4 {
		t.Errorf("Count = %d, want heuristic 4", got)
	}
}

func TestCountConversation_Overheads(t *testing.T) {
	t.Parallel()

	c := newTestCounter(nil)
	msgs := []*chat.Message{
		{Role: chat.RoleUser, Content: "one two"},
		{Role: chat.RoleAssistant, Content: "three"},
	}
	// 2 (conversation) + 4+2 + 4+1 = 13.
	if got := c.CountConversation(context.Background(), msgs, "gpt-4"); got != 13 {
		t.Errorf("CountConversation = %d, want 13", got)
	}
}

func TestModelInfo_CachedFor30Minutes(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{info: ModelInfo{Family: "gpt-4o", ContextLength: 128000}, ok: true}
	c := newTestCounter(p)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	_ = c.Count(ctx, "hi", "gpt-4o")
	_ = c.Count(ctx, "hi", "gpt-4o")
	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1 (cached)", p.calls)
	}

	now = now.Add(31 * time.Minute)
	_ = c.Count(ctx, "hi", "gpt-4o")
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2 after cache expiry", p.calls)
	}
}

func TestContextWindowSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"gpt-4o-mini", 128000},
		{"gpt-4", 8192},
		{"claude-3-5-sonnet", 200000},
		{"totally-unknown", 4096},
		{"", 4096},
	}
	c := newTestCounter(nil)
	for _, tt := range tests {
		if got := c.ContextWindowSize(context.Background(), tt.model); got != tt.want {
			t.Errorf("ContextWindowSize(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestContextWindowSize_ProviderWins(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{info: ModelInfo{ContextLength: 32000}, ok: true}
	c := newTestCounter(p)
	if got := c.ContextWindowSize(context.Background(), "gpt-4"); got != 32000 {
		t.Errorf("ContextWindowSize = %d, want provider's 32000", got)
	}
}

func TestContextWindowSize_ProviderErrorFallsBack(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{err: errors.New("unreachable")}
	c := newTestCounter(p)
	if got := c.ContextWindowSize(context.Background(), "gpt-4"); got != 8192 {
		t.Errorf("ContextWindowSize = %d, want static 8192", got)
	}
}
