// Package gateway exposes the session engine over HTTP: session and
// branch management, chat turns with server-sent token streaming, usage
// queries, a websocket feed of in-flight streams, health, and Prometheus
// metrics. It is a leaf module; nothing imports it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/braid/internal/branch"
	"github.com/flemzord/braid/internal/core"
	"github.com/flemzord/braid/internal/engine"
	"github.com/flemzord/braid/internal/provider"
	"github.com/flemzord/braid/internal/stream"
	"github.com/flemzord/braid/internal/usage"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Gateway is the HTTP gateway module.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	metrics   *Metrics
	hub       *Hub
	startedAt time.Time

	// Resolved lazily at Start via the service registry. The engine and
	// its collaborators are built after module provisioning, so binding
	// earlier would race the wiring.
	engine    *engine.Engine
	branches  *branch.Manager
	usage     *usage.Tracker
	streams   *stream.Coordinator
	providers *provider.Registry
	limitsCfg usage.Limits
}

// limits returns the rate limit thresholds the serve command published.
func (g *Gateway) limits() usage.Limits {
	return g.limitsCfg
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.metrics = NewMetrics()
	g.hub = NewHub(g.logger)
	// Configure only runs when a config block exists.
	g.config.defaults()

	// The hub is the coordinator's transport sink; the serve command
	// resolves it when building the coordinator.
	ctx.RegisterService("gateway.sink", g.hub)
	ctx.RegisterService("gateway.metrics", g.metrics)
	return nil
}

// Validate implements core.Validator. An empty bind is allowed; the
// top-level listen address fills it at Start.
func (g *Gateway) Validate() error {
	if g.config.Bind == "" {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return fmt.Errorf("gateway: invalid bind address %q: %w", g.config.Bind, err)
	}
	return nil
}

// Start implements core.Starter. Engine collaborators are bound here from
// the service registry; a missing engine disables only the chat routes.
func (g *Gateway) Start() error {
	if svc, ok := g.appCtx.Service("engine"); ok {
		g.engine, _ = svc.(*engine.Engine)
	}
	if svc, ok := g.appCtx.Service("branch.manager"); ok {
		g.branches, _ = svc.(*branch.Manager)
	}
	if svc, ok := g.appCtx.Service("usage.tracker"); ok {
		g.usage, _ = svc.(*usage.Tracker)
	}
	if svc, ok := g.appCtx.Service("stream.coordinator"); ok {
		g.streams, _ = svc.(*stream.Coordinator)
	}
	if svc, ok := g.appCtx.Service("provider.registry"); ok {
		g.providers, _ = svc.(*provider.Registry)
	}
	if svc, ok := g.appCtx.Service("usage.limits"); ok {
		if limits, ok := svc.(usage.Limits); ok {
			g.limitsCfg = limits
		}
	}

	if g.config.Bind == "" {
		if svc, ok := g.appCtx.Service("config.listen"); ok {
			g.config.Bind, _ = svc.(string)
		}
	}
	if g.config.Bind == "" {
		g.config.Bind = defaultBind
	}

	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", g.config.Bind, err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.hub.Close()
	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

// Interface guards.
var (
	_ core.Module       = (*Gateway)(nil)
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)
