package provider_test

import (
	"errors"
	"testing"

	"github.com/flemzord/braid/internal/provider"
	"github.com/flemzord/braid/internal/provider/providertest"
)

func newMock(name string) *providertest.MockProvider {
	return &providertest.MockProvider{
		ModelNameFunc:         func() string { return name },
		ContextWindowSizeFunc: func() int { return 8192 },
	}
}

func TestRegistry_FirstRegisteredIsDefault(t *testing.T) {
	t.Parallel()
	r := provider.NewRegistry()
	if err := r.Register("openai", newMock("gpt-4o")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("anthropic", newMock("claude-3-opus")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	p, err := r.Get("")
	if err != nil {
		t.Fatalf("Get default: %v", err)
	}
	if p.ModelName() != "gpt-4o" {
		t.Errorf("default model = %q, want gpt-4o", p.ModelName())
	}
}

func TestRegistry_SetDefault(t *testing.T) {
	t.Parallel()
	r := provider.NewRegistry()
	_ = r.Register("openai", newMock("gpt-4o"))
	_ = r.Register("anthropic", newMock("claude-3-opus"))

	if err := r.SetDefault("anthropic"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	p, err := r.Get("")
	if err != nil {
		t.Fatalf("Get default: %v", err)
	}
	if p.ModelName() != "claude-3-opus" {
		t.Errorf("default model = %q, want claude-3-opus", p.ModelName())
	}

	if err := r.SetDefault("missing"); !errors.Is(err, provider.ErrNoProvider) {
		t.Errorf("SetDefault missing = %v, want ErrNoProvider", err)
	}
}

func TestRegistry_Errors(t *testing.T) {
	t.Parallel()
	r := provider.NewRegistry()
	if err := r.Register("", newMock("m")); err == nil {
		t.Error("empty name accepted")
	}
	if err := r.Register("x", nil); err == nil {
		t.Error("nil provider accepted")
	}
	_ = r.Register("x", newMock("m"))
	if err := r.Register("x", newMock("m")); err == nil {
		t.Error("duplicate registration accepted")
	}
	if _, err := r.Get("unknown"); !errors.Is(err, provider.ErrNoProvider) {
		t.Errorf("Get unknown = %v, want ErrNoProvider", err)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	if !provider.IsRetryable(provider.ErrRateLimit) {
		t.Error("rate limit should be retryable")
	}
	if !provider.IsRetryable(provider.ErrProviderDown) {
		t.Error("provider down should be retryable")
	}
	if provider.IsRetryable(provider.ErrContextLength) {
		t.Error("context length should not be retryable")
	}
	if provider.IsRetryable(errors.New("other")) {
		t.Error("arbitrary error should not be retryable")
	}
}
