// Package main is the entry point for the tool runner binary: it hosts the
// registry of tools breadcrumbs can request, and serves tool.request.v1
// breadcrumbs until told to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rcrt-dev/rcrt/internal/busclient"
	"github.com/rcrt-dev/rcrt/internal/dedup"
	"github.com/rcrt-dev/rcrt/internal/infra"
	"github.com/rcrt-dev/rcrt/internal/mcp"
	"github.com/rcrt-dev/rcrt/internal/observability"
	"github.com/rcrt-dev/rcrt/internal/rconfig"
	"github.com/rcrt-dev/rcrt/internal/secrets"
	"github.com/rcrt-dev/rcrt/internal/toolrunner"
	"github.com/rcrt-dev/rcrt/internal/toolrunner/tools"
)

// Build information, populated by ldflags during release builds:
//
//	go build -ldflags "-X main.version=v0.3.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath     string
		logLevel       string
		baseURL        string
		workspace      string
		retentionHours int
	)

	root := &cobra.Command{
		Use:   "toolrunner",
		Short: "Serve tool.request.v1 breadcrumbs for a workspace",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration overlay")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&baseURL, "base-url", "", "Breadcrumb store base URL override")
	root.PersistentFlags().StringVar(&workspace, "workspace", "", "Workspace tag override")
	root.PersistentFlags().IntVar(&retentionHours, "retention-hours", 0, "Dedup journal retention override, in hours")

	root.AddCommand(
		buildStartCmd(&configPath, &logLevel, &baseURL, &workspace, &retentionHours),
		buildVersionCmd(),
		buildDoctorCmd(&configPath, &logLevel, &baseURL, &workspace),
	)
	return root
}

func buildStartCmd(configPath, logLevel, baseURL, workspace *string, retentionHours *int) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start serving tool requests until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *logLevel, *baseURL, *workspace, *retentionHours)
			if err != nil {
				return err
			}
			return runStart(cmd.Context(), cfg)
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "toolrunner %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}

func buildDoctorCmd(configPath, logLevel, baseURL, workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *logLevel, *baseURL, *workspace, 0)
			if err != nil {
				return err
			}
			return runDoctor(cmd.Context(), cfg)
		},
	}
}

func loadConfig(configPath, logLevel, baseURL, workspace string, retentionHours int) (rconfig.Config, error) {
	cfg, err := rconfig.Load(configPath)
	if err != nil {
		return rconfig.Config{}, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	if retentionHours > 0 {
		cfg.RetentionHours = retentionHours
	}
	return cfg, nil
}

func newLogger(cfg rconfig.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// buildRegistry wires the builtin tool set plus, when enabled, every MCP
// server tool discovered at startup.
func buildRegistry(ctx context.Context, cfg rconfig.Config, logger *slog.Logger) (*toolrunner.Registry, *mcp.Manager) {
	registry := toolrunner.NewRegistry()

	if cfg.Tools.EnableBuiltin {
		registry.Register(tools.NewEchoTool())
		registry.Register(tools.NewShellExecTool(cfg.Workspace, cfg.ToolTimeout))
		registry.Register(tools.NewProcessRunTool(cfg.Workspace, cfg.ToolTimeout))
		registry.Register(tools.NewFileReadTool(cfg.Workspace, 1<<20))
		registry.Register(tools.NewFileWriteTool(cfg.Workspace))
		registry.Register(tools.NewFileEditTool(cfg.Workspace))
		registry.Register(tools.NewWebFetchTool(8000))
		registry.Register(tools.NewWebSearchTool(5))
	}

	var mgr *mcp.Manager
	if cfg.Tools.EnableMCP {
		mgr = mcp.NewManager(&mcp.Config{Enabled: true}, logger)
		if err := mgr.Start(ctx); err != nil {
			logger.Warn("mcp manager start failed, continuing without MCP tools", "error", err)
		}
		names := mcp.RegisterTools(registry, mgr)
		logger.Info("registered MCP tools", "count", len(names))
	}

	return registry, mgr
}

func runStart(ctx context.Context, cfg rconfig.Config) error {
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := busclient.New(cfg.BaseURL, cfg.OwnerID, cfg.AgentID, busclient.WithLogger(logger))
	if err := bus.Authenticate(ctx); err != nil {
		return fmt.Errorf("toolrunner: authenticate: %w", err)
	}

	journal, err := dedup.Open(journalPath(cfg), time.Duration(cfg.RetentionHours)*time.Hour)
	if err != nil {
		return fmt.Errorf("toolrunner: open dedup journal: %w", err)
	}
	defer journal.Close()

	secretMgr := secrets.New(secrets.Config{
		BaseURL:          cfg.BaseURL,
		BootstrapFromEnv: false,
	})

	registry, mgr := buildRegistry(ctx, cfg, logger)
	if mgr != nil {
		defer mgr.Stop()
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tracer, tracerShutdown := observability.NewTracer("toolrunner")
	defer tracerShutdown(context.Background())

	runner := toolrunner.New(bus, registry, secretMgr, journal, toolrunner.Config{
		Workspace:   cfg.Workspace,
		AgentID:     cfg.AgentID,
		ToolTimeout: cfg.ToolTimeout,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
	})

	shutdown := infra.NewShutdownCoordinator(15*time.Second, logger)
	shutdown.RegisterConnection("dedup-journal", func(context.Context) error {
		return journal.Close()
	})
	if mgr != nil {
		shutdown.RegisterService("mcp-manager", func(context.Context) error {
			return mgr.Stop()
		})
	}

	logger.Info("toolrunner starting", "version", version, "workspace", cfg.Workspace, "mcp", cfg.Tools.EnableMCP)

	runErr := runner.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	shutdown.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("toolrunner: %w", runErr)
	}
	return nil
}

func runDoctor(ctx context.Context, cfg rconfig.Config) error {
	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return err
	}

	bus := busclient.New(cfg.BaseURL, cfg.OwnerID, cfg.AgentID, busclient.WithLogger(logger))
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health := infra.NewHealthCheckRegistry()
	health.RegisterSimple("breadcrumb-store-auth", func(c context.Context) error {
		return bus.Authenticate(c)
	})

	report := health.CheckAll(checkCtx)
	for _, r := range report.FailedChecks() {
		fmt.Fprintf(os.Stderr, "FAIL %s: %s\n", r.Name, r.Message)
	}
	if !report.IsHealthy() {
		return fmt.Errorf("toolrunner: doctor found %d failing check(s)", len(report.FailedChecks()))
	}
	fmt.Println("all checks passed")
	return nil
}

func journalPath(cfg rconfig.Config) string {
	if cfg.Workspace == "" {
		return ""
	}
	return "toolrunner-" + sanitizeFilename(cfg.Workspace) + ".db"
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '/' || r == ':' || r == ' ' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var missing *rconfig.ErrConfigMissing
	if errors.As(err, &missing) {
		return 2
	}
	return 1
}
