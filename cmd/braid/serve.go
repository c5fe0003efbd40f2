package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flemzord/braid/internal/branch"
	"github.com/flemzord/braid/internal/config"
	ctxengine "github.com/flemzord/braid/internal/context"
	"github.com/flemzord/braid/internal/core"
	"github.com/flemzord/braid/internal/engine"
	"github.com/flemzord/braid/internal/logredact"
	"github.com/flemzord/braid/internal/maintenance"
	"github.com/flemzord/braid/internal/provider"
	"github.com/flemzord/braid/internal/store"
	"github.com/flemzord/braid/internal/stream"
	"github.com/flemzord/braid/internal/telemetry"
	"github.com/flemzord/braid/internal/token"
	"github.com/flemzord/braid/internal/usage"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the braid server with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				resolved, err := resolveConfigPath()
				if err != nil {
					return err
				}
				cfgPath = resolved
			}
			return runServe(cmd.Context(), cfgPath)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

func runServe(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// Secrets never reach the log sink, even when a module logs its own config.
	logger := slog.New(logredact.NewHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}), logredact.NewRedactor()))

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace shutdown error", "error", err)
		}
	}()

	appCtx := core.NewAppContext(logger, cfg.DataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService("config.listen", cfg.Listen)
	appCtx.RegisterService("usage.limits", cfg.Limits)

	app := core.NewApp(appCtx)
	if err := app.LoadModules(config.Resolve(cfg)); err != nil {
		return err
	}

	// Storage. The SQLite module registers its store during provisioning;
	// without it the engine runs on volatile in-memory records.
	var records store.RecordStore
	if svc, ok := appCtx.Service("store.sqlite"); ok {
		records, _ = svc.(store.RecordStore)
	}
	if records == nil {
		logger.Warn("no persistent store configured, using in-memory records")
		records = store.NewMemoryStore()
	}

	branches := branch.NewManager(records, logger)
	tracker := usage.NewTracker(records, logger)

	registry, err := buildProviderRegistry(cfg, appCtx)
	if err != nil {
		return err
	}

	counter := token.NewCounter(engine.NewInfoProvider(registry), logger)
	assembler, err := ctxengine.NewAssembler(counter, cfg.Context, logger)
	if err != nil {
		return err
	}

	var sink stream.Sink
	if svc, ok := appCtx.Service("gateway.sink"); ok {
		sink, _ = svc.(stream.Sink)
	}
	coord := stream.NewCoordinator(stream.Options{
		Sink:          sink,
		Retention:     cfg.Stream.Retention,
		Timeout:       cfg.Stream.Timeout,
		SweepInterval: cfg.Stream.SweepInterval,
		Logger:        logger,
	})
	coord.Start()
	defer coord.Stop()

	eng, err := engine.New(engine.Options{
		Branches:  branches,
		Assembler: assembler,
		Counter:   counter,
		Providers: registry,
		Streams:   coord,
		Usage:     tracker,
		Limits:    cfg.Limits,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// Publish the engine and its collaborators for the gateway, which
	// binds them when its module starts.
	appCtx.RegisterService("engine", eng)
	appCtx.RegisterService("branch.manager", branches)
	appCtx.RegisterService("usage.tracker", tracker)
	appCtx.RegisterService("stream.coordinator", coord)
	appCtx.RegisterService("provider.registry", registry)

	sched := maintenance.NewScheduler(logger)
	if cfg.Maintenance.BranchCleanupSchedule != "" {
		err := sched.RegisterJob(&maintenance.BranchCleanupJob{
			Branches:     branches,
			MaxAge:       cfg.Maintenance.BranchMaxAge,
			Limit:        cfg.Maintenance.BranchLimit,
			KeepActive:   cfg.Maintenance.KeepActive,
			Logger:       logger,
			ScheduleExpr: cfg.Maintenance.BranchCleanupSchedule,
		})
		if err != nil {
			return err
		}
	}
	if err := sched.RegisterJob(&maintenance.StreamSweepJob{Streams: coord, Logger: logger}); err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer func() { _ = sched.Stop(context.Background()) }()

	return app.RunContext(ctx)
}

// buildProviderRegistry registers every provisioned provider module under
// its short name ("provider.openai" serves as "openai").
func buildProviderRegistry(cfg *config.Config, appCtx *core.AppContext) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	for id := range cfg.Modules {
		if !strings.HasPrefix(id, "provider.") {
			continue
		}
		svc, ok := appCtx.Service(id)
		if !ok {
			continue
		}
		p, ok := svc.(provider.Provider)
		if !ok {
			continue
		}
		if err := registry.Register(strings.TrimPrefix(id, "provider."), p); err != nil {
			return nil, err
		}
	}
	if cfg.DefaultProvider != "" {
		name := strings.TrimPrefix(cfg.DefaultProvider, "provider.")
		if err := registry.SetDefault(name); err != nil {
			return nil, fmt.Errorf("default provider: %w", err)
		}
	}
	return registry, nil
}
