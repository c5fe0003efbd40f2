package gateway

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	ActiveStreams int    `json:"active_streams"`
}

// handleHealth reports liveness. Readiness of individual providers is a
// per-request concern; a dead backend surfaces as 502 on chat routes.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if g.streams != nil {
			resp.ActiveStreams = len(g.streams.ActiveStreams())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Uptime        int64    `json:"uptime_seconds"`
	Sessions      int      `json:"sessions"`
	ActiveStreams int      `json:"active_streams"`
	Providers     []string `json:"providers"`
}

func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Uptime:    int64(time.Since(g.startedAt).Seconds()),
			Providers: []string{},
		}
		if g.branches != nil {
			if ids, err := g.branches.ListSessionIDs(r.Context()); err == nil {
				resp.Sessions = len(ids)
			}
		}
		if g.streams != nil {
			resp.ActiveStreams = len(g.streams.ActiveStreams())
		}
		if g.providers != nil {
			resp.Providers = g.providers.Names()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleListModels aggregates the models every registered provider
// currently serves. Providers are queried concurrently; a provider that
// errors is logged and skipped rather than failing the whole response.
func (g *Gateway) handleListModels() http.HandlerFunc {
	type modelJSON struct {
		Provider      string `json:"provider"`
		ID            string `json:"id"`
		ContextWindow int    `json:"context_window,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		models := []modelJSON{}
		if g.providers != nil {
			var mu sync.Mutex
			grp, ctx := errgroup.WithContext(r.Context())
			grp.SetLimit(4)
			for _, name := range g.providers.Names() {
				grp.Go(func() error {
					p, err := g.providers.Get(name)
					if err != nil {
						return nil
					}
					list, err := p.ListModels(ctx)
					if err != nil {
						g.logger.Warn("list models failed", "provider", name, "error", err)
						return nil
					}
					mu.Lock()
					defer mu.Unlock()
					for _, m := range list {
						models = append(models, modelJSON{Provider: name, ID: m.ID, ContextWindow: m.ContextWindow})
					}
					return nil
				})
			}
			_ = grp.Wait()
			sort.Slice(models, func(i, j int) bool {
				if models[i].Provider != models[j].Provider {
					return models[i].Provider < models[j].Provider
				}
				return models[i].ID < models[j].ID
			})
		}
		writeJSON(w, http.StatusOK, models)
	}
}
