package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (g *Gateway) handleSessionUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := g.usage.SessionUsage(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func (g *Gateway) handleUserUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := g.usage.UserUsage(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// handleUserLimits reports the user's standing against the configured
// rate limits without consuming anything.
func (g *Gateway) handleUserLimits() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := g.usage.CheckRateLimits(r.Context(), chi.URLParam(r, "id"), g.limits())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
