package engine

import (
	"context"

	"github.com/flemzord/braid/internal/provider"
	"github.com/flemzord/braid/internal/token"
)

// infoSource feeds live provider model metadata to the token counter. A
// registry default that is missing or does not report model info is a
// miss, not an error; the counter falls back to its static tables.
type infoSource struct {
	registry *provider.Registry
}

// NewInfoProvider adapts the provider registry's default backend to the
// token counter's model-info interface.
func NewInfoProvider(registry *provider.Registry) token.InfoProvider {
	return &infoSource{registry: registry}
}

func (s *infoSource) ModelInfo(ctx context.Context, model string) (token.ModelInfo, bool, error) {
	p, err := s.registry.Get("")
	if err != nil {
		return token.ModelInfo{}, false, nil
	}
	src, ok := p.(provider.ModelInfoSource)
	if !ok {
		return token.ModelInfo{}, false, nil
	}
	info, ok, err := src.ModelInfo(ctx, model)
	if err != nil || !ok {
		return token.ModelInfo{}, false, err
	}
	return token.ModelInfo{
		Family:        info.Family,
		ContextLength: info.ContextLength,
	}, true, nil
}

var _ token.InfoProvider = (*infoSource)(nil)
