package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/flemzord/braid/internal/provider"
)

// oaiModelList is the /models response. context_length is a common
// extension served by vLLM, LiteLLM, and OpenRouter-style backends;
// stock OpenAI omits it.
type oaiModelList struct {
	Data []oaiModel `json:"data"`
}

type oaiModel struct {
	ID            string `json:"id"`
	ContextLength int    `json:"context_length,omitempty"`
}

// ListModels implements provider.Provider by querying GET /models.
func (p *Provider) ListModels(ctx context.Context) ([]provider.Model, error) {
	endpoint := p.config.BaseURL + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", provider.ErrProviderDown, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: models returned HTTP %d", provider.ErrProviderDown, resp.StatusCode)
	}

	var list oaiModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	models := make([]provider.Model, len(list.Data))
	for i, m := range list.Data {
		models[i] = provider.Model{ID: m.ID, ContextWindow: m.ContextLength}
	}
	return models, nil
}

// ModelInfo implements provider.ModelInfoSource by scanning the model
// list for the requested ID.
func (p *Provider) ModelInfo(ctx context.Context, model string) (provider.ModelInfo, bool, error) {
	models, err := p.ListModels(ctx)
	if err != nil {
		return provider.ModelInfo{}, false, err
	}
	for _, m := range models {
		if m.ID == model {
			return provider.ModelInfo{ContextLength: m.ContextWindow}, true, nil
		}
	}
	return provider.ModelInfo{}, false, nil
}
