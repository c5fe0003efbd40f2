package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/braid/internal/provider"
	"github.com/flemzord/braid/pkg/chat"
)

func newTestProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	p := &Provider{
		config: Config{
			BaseURL: baseURL,
			APIKey:  "test-key",
			Model:   "test-model",
		},
		client: &http.Client{},
	}
	p.config.defaults()
	return p
}

func userMessage(content string) *chat.Message {
	return &chat.Message{Role: chat.RoleUser, Content: content}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	c := Config{BaseURL: "https://api.example.com/v1/"}
	c.defaults()
	if c.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", c.Timeout)
	}
	if c.ContextWindow != 4096 {
		t.Errorf("context window = %d, want 4096", c.ContextWindow)
	}
	if c.BaseURL != "https://api.example.com/v1" {
		t.Errorf("base URL not trimmed: %q", c.BaseURL)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	valid := Config{BaseURL: "https://api.example.com/v1", APIKey: "k", Model: "m"}
	if err := valid.validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cases := map[string]Config{
		"missing base_url": {APIKey: "k", Model: "m"},
		"bad scheme":       {BaseURL: "ftp://x", APIKey: "k", Model: "m"},
		"missing key":      {BaseURL: "https://x", Model: "m"},
		"missing model":    {BaseURL: "https://x", APIKey: "k"},
	}
	for name, c := range cases {
		if err := c.validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req oaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 1 {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(oaiResponse{
			Choices: []oaiChoice{{
				Message:      oaiMessage{Role: "assistant", Content: "hi there"},
				FinishReason: "stop",
			}},
			Usage: oaiUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	resp, err := p.Complete(context.Background(), provider.CompletionRequest{
		Messages: []*chat.Message{userMessage("hello")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != provider.FinishReasonStop {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCompleteErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limit", http.StatusTooManyRequests, "slow down", provider.ErrRateLimit},
		{"server error", http.StatusInternalServerError, "oops", provider.ErrProviderDown},
		{"context length", http.StatusBadRequest, `{"error":{"code":"context_length_exceeded"}}`, provider.ErrContextLength},
		{"unauthorized", http.StatusUnauthorized, "bad key", provider.ErrAuthentication},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := newTestProvider(t, srv.URL)
			_, err := p.Complete(context.Background(), provider.CompletionRequest{
				Messages: []*chat.Message{userMessage("hi")},
			})
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestStreamSSE(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("stream flag not set")
		}
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Error("stream_options.include_usage not requested")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"},\"finish_reason\":null}]}\n\n" +
				"data:{\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":null}]}\n\n" +
				": keep-alive comment\n\n" +
				"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	ch, err := p.Stream(context.Background(), provider.CompletionRequest{
		Messages: []*chat.Message{userMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var content string
	var finish provider.FinishReason
	var usage *provider.TokenUsage
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		content += chunk.Content
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	if content != "Hello" {
		t.Errorf("content = %q, want Hello", content)
	}
	if finish != provider.FinishReasonStop {
		t.Errorf("finish reason = %q", finish)
	}
	if usage == nil || usage.TotalTokens != 7 {
		t.Errorf("usage = %+v, want total 7", usage)
	}
}

func TestStreamMidStreamError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":null}]}\n\n" +
				"data: {not valid json\n\n"))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	ch, err := p.Stream(context.Background(), provider.CompletionRequest{
		Messages: []*chat.Message{userMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var sawErr bool
	for chunk := range ch {
		if chunk.Err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Error("expected a mid-stream error chunk")
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(oaiModelList{Data: []oaiModel{
			{ID: "test-model", ContextLength: 32768},
			{ID: "other-model"},
		}})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0].ID != "test-model" || models[0].ContextWindow != 32768 {
		t.Errorf("models = %+v", models)
	}

	info, ok, err := p.ModelInfo(context.Background(), "test-model")
	if err != nil || !ok {
		t.Fatalf("ModelInfo: ok=%v err=%v", ok, err)
	}
	if info.ContextLength != 32768 {
		t.Errorf("context length = %d, want 32768", info.ContextLength)
	}

	if _, ok, _ := p.ModelInfo(context.Background(), "missing"); ok {
		t.Error("unknown model resolved")
	}
}
