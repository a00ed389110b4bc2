package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/btrfs"
	"github.com/cuemby/burrow/pkg/capacity"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/fetch"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/image"
	"github.com/cuemby/burrow/pkg/journal"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/shell"
	"github.com/cuemby/burrow/pkg/target"
	"github.com/cuemby/burrow/pkg/volume"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storage agent",
	Long: `Run the storage agent HTTP API.

The storage root is not configured here: the management plane sends it with
the init request once the agent is up.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", config.DefaultPath, "Path to the config file")
	serveCmd.Flags().String("listen-addr", "", "Address to serve the API on (overrides config)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	serveCmd.Flags().Bool("log-json", false, "Log in JSON format (overrides config)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("listen-addr") {
		cfg.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: cfg.LogLevel(), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("agent")
	metrics.SetVersion(Version)

	j, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxEntries)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentJournal, false, err.Error())
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() {
		if err := j.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close journal")
		}
	}()

	runner := shell.NewExecRunner()
	registry := target.NewRegistry(target.Options{
		ConfigDir: cfg.Target.ConfigDir,
		Namespace: cfg.Target.IQNNamespace,
		Driver:    cfg.Target.Driver,
		TgtAdmin:  cfg.Tools.TgtAdmin,
		Runner:    runner,
		OnReload:  metrics.RecordReload,
	})

	fetcher, err := fetch.NewSSHFetcher(fetch.Options{
		User:        cfg.Fetch.User,
		Port:        cfg.Fetch.Port,
		KnownHosts:  cfg.Fetch.KnownHosts,
		DialTimeout: cfg.Fetch.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}

	prober := capacity.NewFSProber()
	mgr, err := volume.NewManager(volume.Options{
		Store:           btrfs.NewStore(runner, cfg.Tools.Btrfs),
		Normalizer:      image.NewNormalizer(runner, cfg.Tools.QemuImg),
		Fetcher:         fetcher,
		Targets:         registry,
		Prober:          prober,
		Journal:         j,
		DisableRollback: !cfg.RollbackOnFailure,
	})
	if err != nil {
		return fmt.Errorf("failed to create volume manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Host dependency checks
	monitor := health.NewMonitor(health.DefaultConfig(), metrics.UpdateComponent)
	monitor.Add(metrics.ComponentJournal, health.NewFuncChecker("journal", func(context.Context) error {
		return j.Ping()
	}))
	monitor.Add(metrics.ComponentTools,
		health.NewExecChecker(runner, cfg.Tools.Btrfs, "--version"),
		health.NewExecChecker(runner, cfg.Tools.QemuImg, "--version"),
		health.NewExecChecker(runner, cfg.Tools.TgtAdmin, "--help"),
	)
	go monitor.Run(ctx)

	collector := metrics.NewCollector(func() string {
		if root := mgr.Root(); root != nil {
			return root.Path()
		}
		return ""
	}, prober, registry, cfg.Metrics.CollectInterval)
	collector.Start()
	defer collector.Stop()

	server, err := api.NewServer(api.Options{
		Manager: mgr,
		Targets: registry,
		Journal: j,
		Workers: cfg.Workers,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddr)
	}()

	logger.Info().
		Str("version", Version).
		Str("listen_addr", cfg.ListenAddr).
		Int("workers", cfg.Workers).
		Bool("rollback_on_failure", cfg.RollbackOnFailure).
		Msg("agent started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
