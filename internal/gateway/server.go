package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(g.requestMetrics)

	// Public: no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", g.metrics.Handler())
	r.Get("/ws/streams", g.hub.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth))
		}

		r.Get("/status", g.handleStatus())
		r.Get("/models", g.handleListModels())

		// Sessions and messages.
		r.Post("/sessions", g.handleCreateSession())
		r.Get("/sessions", g.handleListSessions())
		r.Get("/sessions/{id}", g.handleGetSession())
		r.Get("/sessions/{id}/thread", g.handleThread())
		r.Get("/sessions/{id}/history", g.handleBranchHistory())
		r.Post("/sessions/{id}/messages", g.handleAppendMessage())
		r.Post("/sessions/{id}/chat", g.handleChat())
		r.Get("/messages/{id}", g.handleGetMessage())
		r.Put("/messages/{id}", g.handleEditMessage())
		r.Get("/messages/{id}/versions", g.handleMessageVersions())

		// Branches.
		r.Post("/sessions/{id}/branches", g.handleCreateBranch())
		r.Get("/sessions/{id}/branches", g.handleListBranches())
		r.Post("/sessions/{id}/branches/merge", g.handleMergeBranches())
		r.Post("/sessions/{id}/branches/{branchID}/switch", g.handleSwitchBranch())
		r.Post("/sessions/{id}/branches/{branchID}/archive", g.handleArchiveBranch())
		r.Delete("/sessions/{id}/branches/{branchID}", g.handleDeleteBranch())
		r.Get("/sessions/{id}/branches/{branchID}/lineage", g.handleBranchLineage())
		r.Get("/branches/{id}/messages", g.handleBranchMessages())

		// Context assembly.
		r.Post("/context/prepare", g.handlePrepareContext())

		// Streams.
		r.Get("/streams", g.handleActiveStreams())
		r.Get("/streams/{requestID}", g.handleStreamProgress())
		r.Post("/streams/{requestID}/cancel", g.handleCancelStream())
		r.Get("/streams/by-message/{messageID}", g.handleStreamContent())

		// Usage and limits.
		r.Get("/usage/sessions/{id}", g.handleSessionUsage())
		r.Get("/usage/users/{id}", g.handleUserUsage())
		r.Get("/limits/users/{id}", g.handleUserLimits())
	})

	return r
}

// requestMetrics counts requests per route pattern and status class.
func (g *Gateway) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		g.metrics.RecordRequest(route, rec.status)
	})
}
