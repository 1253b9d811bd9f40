// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/finchbot/finch/internal/bot"
	"github.com/finchbot/finch/internal/command"
	"github.com/finchbot/finch/internal/config"
	"github.com/finchbot/finch/internal/logging"
	"github.com/finchbot/finch/internal/observability"
	"github.com/finchbot/finch/internal/plugin"
	"github.com/finchbot/finch/internal/plugin/capability"
	"github.com/finchbot/finch/internal/plugin/hostfunc"
	"github.com/finchbot/finch/internal/plugin/lua"
	"github.com/finchbot/finch/internal/store"
	"github.com/finchbot/finch/internal/transport"
	"github.com/finchbot/finch/internal/xdg"
)

// obsStopTimeout bounds the observability server shutdown.
const obsStopTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bot",
		Long: `Start the bot: load the configured plugins, bind their commands,
and dispatch chat messages until interrupted. Without a network transport
configured, messages are read line by line from stdin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	// Flag names double as config keys; defaults mirror config.Default()
	// so an untouched flag never masks a file value.
	defaults := config.Default()
	cmd.Flags().String("log.format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log.level", defaults.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("database.url", defaults.Database.URL, "PostgreSQL URL (empty = no directory store)")
	cmd.Flags().String("plugins.dir", xdg.DefaultPluginsDir(), "plugins directory")
	cmd.Flags().String("command.prefix", defaults.Command.Prefix, "chat command prefix")
	cmd.Flags().String("observability.addr", defaults.Observability.Addr, "metrics/health HTTP address")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("finch", version, cfg.Log.Format, cfg.Log.Level)

	slog.Info("starting finch",
		"plugins_dir", cfg.Plugins.Dir,
		"prefix", cfg.Command.Prefix,
		"log_format", cfg.Log.Format,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The directory store is optional; without it the directory host
	// functions report an error at call time.
	var (
		groups    store.GroupRepository
		users     store.UserRepository
		directory plugin.Directory
	)
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		groupRepo := store.NewPostgresGroupRepository(pool)
		userRepo := store.NewPostgresUserRepository(pool)
		groups, users = groupRepo, userRepo
		directory = store.NewDirectory(groupRepo, userRepo)
		slog.Info("connected to database")
	} else {
		slog.Info("no database configured, directory lookups disabled")
	}

	// Observability server; its registry collects every component's
	// metrics. The readiness closure late-binds the engine.
	var (
		obs           *observability.Server
		engine        *bot.Engine
		pluginMetrics *plugin.Metrics
	)
	if cfg.Observability.Enabled {
		obs = observability.NewServer(cfg.Observability.Addr, func() bool {
			return engine != nil && engine.Ready()
		})
		pluginMetrics = plugin.NewMetrics(obs.Registry())
		command.RegisterMetrics(obs.Registry())
	}

	// Plugin runtime: capability enforcement, the shared chunk cache,
	// and the Lua host behind the registry.
	enforcer := capability.NewEnforcer()
	hfCfg := hostfunc.Config{Enforcer: enforcer}
	if directory != nil {
		hfCfg.Directory = directory
	}
	chunks := lua.NewChunkCache()
	host := lua.NewHost(chunks,
		lua.WithFunctions(hostfunc.New(hfCfg)),
		lua.WithEnforcer(enforcer),
	)

	strategy := plugin.KeyByPath
	if cfg.Plugins.KeyStrategy == "manifest" {
		strategy = plugin.KeyByManifestName
	}
	registryOpts := []plugin.RegistryOption{plugin.WithKeyStrategy(strategy)}
	if pluginMetrics != nil {
		registryOpts = append(registryOpts, plugin.WithMetrics(pluginMetrics))
	}
	registry := plugin.NewRegistry(host, chunks, registryOpts...)

	// Command dispatch.
	cmdReg := command.NewRegistry()
	dispatchOpts := []command.DispatcherOption{
		command.WithPrefix(cfg.Command.Prefix),
		command.WithAdmins(cfg.Command.Admins),
	}
	if cfg.Command.Rate.Enabled {
		rlCfg := command.RateLimiterConfig{
			BurstCapacity: cfg.Command.Rate.Burst,
			SustainedRate: cfg.Command.Rate.Sustained,
		}
		var limiter *command.RateLimiter
		if obs != nil {
			limiter = command.NewRateLimiterWithRegistry(rlCfg, obs.Registry())
		} else {
			limiter = command.NewRateLimiter(rlCfg)
		}
		defer limiter.Close()
		dispatchOpts = append(dispatchOpts, command.WithRateLimiter(limiter))
	}
	dispatcher, err := command.NewDispatcher(cmdReg, registry, dispatchOpts...)
	if err != nil {
		return err
	}

	// Console transport is the in-process fallback; a network transport
	// would slot in here.
	console := transport.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout())

	engineOpts := []bot.EngineOption{}
	if groups != nil && users != nil {
		engineOpts = append(engineOpts, bot.WithDirectoryRepos(groups, users))
	}
	if obs != nil {
		engineOpts = append(engineOpts, bot.WithMetrics(obs.Metrics()))
	}
	engine = bot.NewEngine(console, dispatcher, registry, plugin.Options{
		Sender:    console,
		Directory: directory,
	}, engineOpts...)

	command.RegisterBuiltins(cmdReg, registry, engine.LoadPlugin, cfg.Plugins.Dir)

	if err := xdg.EnsureDir(cfg.Plugins.Dir); err != nil {
		return oops.Code("PLUGINS_DIR_UNUSABLE").With("dir", cfg.Plugins.Dir).Wrap(err)
	}
	engine.LoadAll(ctx, cfg.Plugins.Dir, cfg.Plugins.Autoload)

	if obs != nil {
		obsErrChan, err := obs.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obs.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx) }()

	slog.Info("finch ready", "plugins", len(registry.LoadedPlugins()))

	var runResult error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		runResult = <-runErr
	case runResult = <-runErr:
		cancel()
	}

	slog.Info("shutting down...")

	if obs != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), obsStopTimeout)
		defer stopCancel()
		if err := obs.Stop(stopCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return runResult
}

// monitorServerErrors cancels the run context when a background server
// reports a fatal error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
