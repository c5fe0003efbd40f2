package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/flemzord/braid/internal/branch"
	ctxengine "github.com/flemzord/braid/internal/context"
	"github.com/flemzord/braid/internal/provider"
	"github.com/flemzord/braid/internal/provider/providertest"
	"github.com/flemzord/braid/internal/store"
	"github.com/flemzord/braid/internal/stream"
	"github.com/flemzord/braid/internal/token"
	"github.com/flemzord/braid/internal/usage"
	"github.com/flemzord/braid/pkg/chat"
)

type testEngine struct {
	engine   *Engine
	mock     *providertest.MockProvider
	branches *branch.Manager
	usage    *usage.Tracker
	streams  *stream.Coordinator
}

func newTestEngine(t *testing.T, limits usage.Limits) *testEngine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	branches := branch.NewManager(st, logger)
	counter := token.NewCounter(nil, logger)

	asm, err := ctxengine.NewAssembler(counter, ctxengine.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}

	mock := &providertest.MockProvider{
		ModelNameFunc:         func() string { return "gpt-4o" },
		ContextWindowSizeFunc: func() int { return 8192 },
	}
	registry := provider.NewRegistry()
	if err := registry.Register("openai", mock); err != nil {
		t.Fatalf("Register: %v", err)
	}

	coord := stream.NewCoordinator(stream.Options{
		Logger:    logger,
		Retention: time.Minute,
	})
	tracker := usage.NewTracker(st, logger)

	eng, err := New(Options{
		Branches:  branches,
		Assembler: asm,
		Counter:   counter,
		Providers: registry,
		Streams:   coord,
		Usage:     tracker,
		Limits:    limits,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEngine{
		engine:   eng,
		mock:     mock,
		branches: branches,
		usage:    tracker,
		streams:  coord,
	}
}

// chunksOf returns a pre-filled, closed chunk channel.
func chunksOf(chunks ...provider.StreamChunk) <-chan provider.StreamChunk {
	ch := make(chan provider.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestChatTurnCompletes(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, usage.Limits{})
	ctx := context.Background()

	sess, err := te.branches.CreateSession(ctx, "gpt-4o")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	te.mock.StreamFunc = func(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		if req.Model != "gpt-4o" {
			t.Errorf("model = %q, want gpt-4o", req.Model)
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Role != chat.RoleUser || last.Content != "hello" {
			t.Errorf("last message = %s %q, want user hello", last.Role, last.Content)
		}
		return chunksOf(
			provider.StreamChunk{Content: "Hi "},
			provider.StreamChunk{Content: "there."},
			provider.StreamChunk{Usage: &provider.TokenUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}},
		), nil
	}

	res, err := te.engine.ChatTurn(ctx, ChatRequest{
		SessionID: sess.ID,
		UserID:    "u1",
		Message:   "hello",
	})
	if err != nil {
		t.Fatalf("ChatTurn: %v", err)
	}
	if res.Stream.Status != stream.StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Stream.Status)
	}
	if res.UserMessage == nil || res.UserMessage.Content != "hello" {
		t.Fatalf("user message = %+v", res.UserMessage)
	}
	if res.AssistantMessage == nil || res.AssistantMessage.Content != "Hi there." {
		t.Fatalf("assistant message = %+v", res.AssistantMessage)
	}
	if res.Usage.Prompt != 12 || res.Usage.Completion != 3 {
		t.Fatalf("usage = %+v, want 12/3", res.Usage)
	}

	// Both turns persisted on the main line.
	msgs, err := te.branches.ThreadMessages(ctx, sess.ID, "")
	if err != nil {
		t.Fatalf("ThreadMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("thread length = %d, want 2", len(msgs))
	}
	if msgs[0].Role != chat.RoleUser || msgs[1].Role != chat.RoleAssistant {
		t.Fatalf("roles = %s,%s", msgs[0].Role, msgs[1].Role)
	}

	// Per-user accounting recorded too.
	uu, err := te.usage.UserUsage(ctx, "u1")
	if err != nil {
		t.Fatalf("UserUsage: %v", err)
	}
	if uu.Total != 15 {
		t.Fatalf("user total = %d, want 15", uu.Total)
	}
}

func TestChatTurnCountsTokensWithoutProviderUsage(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, usage.Limits{})
	ctx := context.Background()

	sess, err := te.branches.CreateSession(ctx, "gpt-4o")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	te.mock.StreamFunc = func(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		return chunksOf(provider.StreamChunk{Content: "counted locally"}), nil
	}

	res, err := te.engine.ChatTurn(ctx, ChatRequest{
		SessionID: sess.ID,
		Message:   "count this",
	})
	if err != nil {
		t.Fatalf("ChatTurn: %v", err)
	}
	if res.Usage.Prompt <= 0 || res.Usage.Completion <= 0 {
		t.Fatalf("usage = %+v, want positive local counts", res.Usage)
	}
}

func TestChatTurnStreamError(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, usage.Limits{})
	ctx := context.Background()

	sess, err := te.branches.CreateSession(ctx, "gpt-4o")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	te.mock.StreamFunc = func(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		return chunksOf(
			provider.StreamChunk{Content: "partial"},
			provider.StreamChunk{Err: errors.New("backend reset")},
		), nil
	}

	_, err = te.engine.ChatTurn(ctx, ChatRequest{SessionID: sess.ID, Message: "hi"})
	if !errors.Is(err, ErrStreamFailed) {
		t.Fatalf("err = %v, want ErrStreamFailed", err)
	}

	// No assistant message persisted for a failed stream.
	msgs, err := te.branches.ThreadMessages(ctx, sess.ID, "")
	if err != nil {
		t.Fatalf("ThreadMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != chat.RoleUser {
		t.Fatalf("thread = %d messages, want only the user turn", len(msgs))
	}
}

func TestChatTurnConnectError(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, usage.Limits{})
	ctx := context.Background()

	sess, err := te.branches.CreateSession(ctx, "gpt-4o")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	te.mock.StreamFunc = func(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		return nil, provider.ErrProviderDown
	}

	_, err = te.engine.ChatTurn(ctx, ChatRequest{SessionID: sess.ID, Message: "hi"})
	if !errors.Is(err, provider.ErrProviderDown) {
		t.Fatalf("err = %v, want ErrProviderDown", err)
	}
}

func TestChatTurnRateLimited(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, usage.Limits{Enabled: true, Hourly: 10})
	ctx := context.Background()

	sess, err := te.branches.CreateSession(ctx, "gpt-4o")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := te.usage.TrackUser(ctx, "heavy", 50, 50, "gpt-4o"); err != nil {
		t.Fatalf("TrackUser: %v", err)
	}

	_, err = te.engine.ChatTurn(ctx, ChatRequest{
		SessionID: sess.ID,
		UserID:    "heavy",
		Message:   "hi",
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if te.mock.StreamCalls != 0 {
		t.Fatalf("provider called %d times, want 0", te.mock.StreamCalls)
	}
}

func TestChatTurnCancelPersistsPartial(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, usage.Limits{})
	ctx := context.Background()

	sess, err := te.branches.CreateSession(ctx, "gpt-4o")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	te.mock.StreamFunc = func(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		ch := make(chan provider.StreamChunk)
		go func() {
			defer close(ch)
			ch <- provider.StreamChunk{Content: "partial "}
			ch <- provider.StreamChunk{Content: "answer"}
			// Never finishes on its own; the turn is cancelled below.
			<-ctx.Done()
		}()
		return ch, nil
	}

	var cancelled bool
	res, err := te.engine.ChatTurn(ctx, ChatRequest{
		SessionID: sess.ID,
		Message:   "hi",
		Callbacks: stream.Callbacks{
			OnToken: func(s stream.Session, token string) {
				if s.TokenCount == 2 {
					cancelled = te.streams.Cancel(s.RequestID)
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("ChatTurn: %v", err)
	}
	if !cancelled {
		t.Fatal("Cancel returned false")
	}
	if res.Stream.Status != stream.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Stream.Status)
	}
	if res.AssistantMessage == nil || res.AssistantMessage.Content != "partial answer" {
		t.Fatalf("assistant message = %+v, want partial content persisted", res.AssistantMessage)
	}
}

func TestChatTurnOnExplicitBranch(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, usage.Limits{})
	ctx := context.Background()

	sess, err := te.branches.CreateSession(ctx, "gpt-4o")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	origin, err := te.branches.AppendMessage(ctx, sess.ID, "", chat.RoleUser, "fork here")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	br, err := te.branches.CreateBranch(ctx, sess.ID, origin.ID, branch.CreateBranchOptions{Name: "alt"})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	te.mock.StreamFunc = func(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		return chunksOf(provider.StreamChunk{Content: "on the branch"}), nil
	}

	res, err := te.engine.ChatTurn(ctx, ChatRequest{
		SessionID: sess.ID,
		BranchID:  br.ID,
		Message:   "continue",
	})
	if err != nil {
		t.Fatalf("ChatTurn: %v", err)
	}
	if res.UserMessage.BranchID != br.ID {
		t.Fatalf("user message branch = %q, want %q", res.UserMessage.BranchID, br.ID)
	}
	if res.AssistantMessage.BranchID != br.ID {
		t.Fatalf("assistant message branch = %q, want %q", res.AssistantMessage.BranchID, br.ID)
	}
}

func TestNewInfoProvider(t *testing.T) {
	t.Parallel()

	registry := provider.NewRegistry()
	info := NewInfoProvider(registry)

	// Empty registry is a miss, not an error.
	_, ok, err := info.ModelInfo(context.Background(), "gpt-4o")
	if err != nil || ok {
		t.Fatalf("empty registry: ok=%v err=%v, want miss", ok, err)
	}

	mock := &providertest.MockProvider{
		ModelNameFunc:         func() string { return "gpt-4o" },
		ContextWindowSizeFunc: func() int { return 8192 },
	}
	if err := registry.Register("openai", mock); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Default provider does not implement ModelInfoSource: still a miss.
	_, ok, err = info.ModelInfo(context.Background(), "gpt-4o")
	if err != nil || ok {
		t.Fatalf("no info source: ok=%v err=%v, want miss", ok, err)
	}
}

// infoMock is a MockProvider that also reports model metadata.
type infoMock struct {
	providertest.MockProvider
	info map[string]provider.ModelInfo
}

func (m *infoMock) ModelInfo(ctx context.Context, model string) (provider.ModelInfo, bool, error) {
	mi, ok := m.info[model]
	return mi, ok, nil
}

func TestNewInfoProviderHit(t *testing.T) {
	t.Parallel()

	registry := provider.NewRegistry()
	mock := &infoMock{
		MockProvider: providertest.MockProvider{
			ModelNameFunc:         func() string { return "gpt-4o" },
			ContextWindowSizeFunc: func() int { return 128000 },
		},
		info: map[string]provider.ModelInfo{
			"gpt-4o": {Family: "gpt-4o", ContextLength: 128000},
		},
	}
	if err := registry.Register("openai", mock); err != nil {
		t.Fatalf("Register: %v", err)
	}

	info := NewInfoProvider(registry)
	mi, ok, err := info.ModelInfo(context.Background(), "gpt-4o")
	if err != nil || !ok {
		t.Fatalf("ModelInfo: ok=%v err=%v", ok, err)
	}
	if mi.Family != "gpt-4o" || mi.ContextLength != 128000 {
		t.Fatalf("info = %+v", mi)
	}

	if _, ok, _ := info.ModelInfo(context.Background(), "unknown"); ok {
		t.Fatal("unknown model reported a hit")
	}
}
