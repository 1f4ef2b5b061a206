// Package main is the entry point for the agent runner binary: it loads
// every agent.def.v1 breadcrumb in a workspace and drives each one's
// subscribe/think/act loop until told to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rcrt-dev/rcrt/internal/agentrunner"
	"github.com/rcrt-dev/rcrt/internal/busclient"
	"github.com/rcrt-dev/rcrt/internal/dedup"
	"github.com/rcrt-dev/rcrt/internal/infra"
	"github.com/rcrt-dev/rcrt/internal/llm"
	"github.com/rcrt-dev/rcrt/internal/observability"
	"github.com/rcrt-dev/rcrt/internal/ratelimit"
	"github.com/rcrt-dev/rcrt/internal/rconfig"
	"github.com/rcrt-dev/rcrt/internal/usage"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const schemaAgentDef = "agent.def.v1"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		baseURL    string
		workspace  string
	)

	root := &cobra.Command{
		Use:   "agentrunner",
		Short: "Drive every agent.def.v1 breadcrumb's think/act loop",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration overlay")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&baseURL, "base-url", "", "Breadcrumb store base URL override")
	root.PersistentFlags().StringVar(&workspace, "workspace", "", "Workspace tag override")

	root.AddCommand(
		buildStartCmd(&configPath, &logLevel, &baseURL, &workspace),
		buildVersionCmd(),
		buildDoctorCmd(&configPath, &logLevel, &baseURL, &workspace),
	)
	return root
}

func buildStartCmd(configPath, logLevel, baseURL, workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start driving agent definitions until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *logLevel, *baseURL, *workspace)
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
			fmt.Fprintf(cmd.OutOrStdout(), "agentrunner %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}

func buildDoctorCmd(configPath, logLevel, baseURL, workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *logLevel, *baseURL, *workspace)
			if err != nil {
				return err
			}
			return runDoctor(cmd.Context(), cfg)
		},
	}
}

func loadConfig(configPath, logLevel, baseURL, workspace string) (rconfig.Config, error) {
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

// newLLMClient picks a provider from the environment, the way the teacher's
// gateway selects between Anthropic and OpenAI by which API key is set.
func newLLMClient() (llm.Client, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return llm.NewAnthropicClient(key, os.Getenv("ANTHROPIC_BASE_URL"), os.Getenv("ANTHROPIC_MODEL")), nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
			return llm.NewOpenAIClientWithBaseURL(key, base, os.Getenv("OPENAI_MODEL")), nil
		}
		return llm.NewOpenAIClient(key, os.Getenv("OPENAI_MODEL")), nil
	}
	return nil, fmt.Errorf("agentrunner: no LLM provider configured (set ANTHROPIC_API_KEY or OPENAI_API_KEY)")
}

func runStart(ctx context.Context, cfg rconfig.Config) error {
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := busclient.New(cfg.BaseURL, cfg.OwnerID, cfg.AgentID, busclient.WithLogger(logger))
	if err := bus.Authenticate(ctx); err != nil {
		return fmt.Errorf("agentrunner: authenticate: %w", err)
	}

	llmClient, err := newLLMClient()
	if err != nil {
		return err
	}

	journal, err := dedup.Open(journalPath(cfg), time.Duration(cfg.RetentionHours)*time.Hour)
	if err != nil {
		return fmt.Errorf("agentrunner: open dedup journal: %w", err)
	}
	defer journal.Close()

	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 1, BurstSize: 3, Enabled: true})
	tracker := usage.NewTracker(usage.DefaultTrackerConfig())
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tracer, tracerShutdown := observability.NewTracer("agentrunner")
	defer tracerShutdown(context.Background())

	runnerCfg := agentrunner.Config{
		Workspace:           cfg.Workspace,
		ToolResponseTimeout: cfg.ToolTimeout,
		LLMTimeout:          cfg.LLMTimeout,
		Logger:              logger,
		RateLimit:           limiter,
		Usage:               tracker,
		Metrics:             metrics,
		Tracer:              tracer,
	}
	runner := agentrunner.New(bus, llmClient, journal, runnerCfg)

	shutdown := infra.NewShutdownCoordinator(15*time.Second, logger)
	shutdown.RegisterConnection("dedup-journal", func(context.Context) error {
		return journal.Close()
	})

	defs, err := loadDefinitions(ctx, bus)
	if err != nil {
		return fmt.Errorf("agentrunner: load agent definitions: %w", err)
	}
	logger.Info("agentrunner starting", "version", version, "workspace", cfg.Workspace, "agents", len(defs))

	runErr := runAll(ctx, runner, defs, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	shutdown.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("agentrunner: %w", runErr)
	}
	return nil
}

// loadDefinitions fetches and decodes every agent.def.v1 breadcrumb in the
// workspace. A definition that fails to decode is logged and skipped
// rather than aborting the whole process.
func loadDefinitions(ctx context.Context, bus *busclient.Client) ([]agentrunner.Definition, error) {
	summaries, err := bus.List(ctx, busclient.ListQuery{SchemaName: schemaAgentDef})
	if err != nil {
		return nil, err
	}

	defs := make([]agentrunner.Definition, 0, len(summaries))
	for _, s := range summaries {
		b, err := bus.Get(ctx, s.ID)
		if err != nil {
			slog.Default().Warn("agentrunner: fetch agent.def.v1 failed", "id", s.ID, "error", err)
			continue
		}
		def, err := agentrunner.DecodeDefinition(b)
		if err != nil {
			slog.Default().Warn("agentrunner: decode agent.def.v1 failed", "id", s.ID, "error", err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// runAll starts one goroutine per definition and waits for every one to
// return, which happens only when ctx is cancelled or an agent's stream
// closes permanently.
func runAll(ctx context.Context, runner *agentrunner.Runner, defs []agentrunner.Definition, logger *slog.Logger) error {
	if len(defs) == 0 {
		logger.Warn("agentrunner: no agent.def.v1 breadcrumbs found, idling until shutdown")
		<-ctx.Done()
		return ctx.Err()
	}

	var wg sync.WaitGroup
	errs := make([]error, len(defs))
	for i, def := range defs {
		wg.Add(1)
		go func(i int, def agentrunner.Definition) {
			defer wg.Done()
			errs[i] = runner.Run(ctx, def)
			if errs[i] != nil && !errors.Is(errs[i], context.Canceled) {
				logger.Error("agentrunner: agent stopped", "agent", def.Name, "error", errs[i])
			}
		}(i, def)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return ctx.Err()
}

func runDoctor(ctx context.Context, cfg rconfig.Config) error {
	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return err
	}
	if _, err := newLLMClient(); err != nil {
		fmt.Fprintf(os.Stderr, "llm: %v\n", err)
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
		return fmt.Errorf("agentrunner: doctor found %d failing check(s)", len(report.FailedChecks()))
	}
	fmt.Println("all checks passed")
	return nil
}

func journalPath(cfg rconfig.Config) string {
	if cfg.Workspace == "" {
		return ""
	}
	return "agentrunner-" + sanitizeFilename(cfg.Workspace) + ".db"
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
