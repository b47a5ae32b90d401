package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/agent"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/analyzer"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/config"
	httpserver "github.com/ronkazari-wq/lifemaster-health-api/internal/http"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/llm"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/llm/anthropic"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/logging"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/scheduler"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/snapshot"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/tokens"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/tools"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/withings"
)

var version = "dev"

var portFlag int

func main() {
	rootCmd := &cobra.Command{
		Use:   "lifemaster",
		Short: "Lifemaster - Personal health data and coaching backend",
		Long: `Lifemaster aggregates daily health measurements from Withings,
detects significant changes, and runs an AI coaching assistant over
the resulting progress journal.`,
		RunE: runServer,
	}

	rootCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Override HTTP server port")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lifemaster %s\n", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load .env files from common locations (ignore errors if not found)
	homeDir, _ := os.UserHomeDir()
	godotenv.Load(".env")
	godotenv.Load(filepath.Join(homeDir, ".env"))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}

	if err := logging.Init(cfg.DataPath); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Close()

	logging.Info("Starting lifemaster %s", version)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	store, err := storage.NewSQLiteStore(cfg.DataPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	api := withings.NewClient()
	oauth := withings.NewOAuth(api, cfg.WithingsClientID, cfg.WithingsClientSecret, cfg.WithingsRedirectURI)
	tokenManager := tokens.NewManager(store, oauth)
	normalizer := snapshot.NewNormalizer(api, cfg.FetchPolicy)

	// The service runs without an engine; analysis and chat report the
	// missing credential at request time instead of failing startup.
	var engine llm.Client
	if cfg.AnthropicAPIKey != "" {
		engine = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.Model)
		logging.Info("Reasoning engine configured, model=%s", cfg.Model)
	} else {
		logging.Warn("ANTHROPIC_API_KEY not set, analysis and chat are disabled")
	}

	an := analyzer.New(store, engine, profile, loc)
	toolManager := tools.NewManager(store)
	orchestrator := agent.New(engine, toolManager, store, an)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logging.Info("Received shutdown signal")
		cancel()
	}()

	if cfg.SyncSchedule != "" {
		syncScheduler, err := scheduler.NewScheduler(store, tokenManager, api, an, cfg, loc)
		if err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", cfg.SyncSchedule, err)
		}
		syncScheduler.Start(ctx)
		defer syncScheduler.Stop()
	} else {
		logging.Info("Background sync disabled, no schedule configured")
	}

	server := httpserver.NewServer(cfg, store, tokenManager, oauth, api, normalizer, an, orchestrator, loc)

	if err := server.Run(ctx); err != nil && err.Error() != "http: Server closed" {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
