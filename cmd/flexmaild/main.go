package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/Raywonder/flexpbx-mailer/internal/app"
	"github.com/Raywonder/flexpbx-mailer/internal/config"
	"github.com/Raywonder/flexpbx-mailer/internal/engine"
	"github.com/Raywonder/flexpbx-mailer/internal/ratelimit"
	"github.com/Raywonder/flexpbx-mailer/internal/render"
	"github.com/Raywonder/flexpbx-mailer/internal/secret"
	"github.com/Raywonder/flexpbx-mailer/internal/store"
	"github.com/Raywonder/flexpbx-mailer/internal/transport"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flexmaild",
	Short: "FlexPBX mail delivery daemon",
	Long:  `flexmaild queues, renders and delivers transactional email through a configured SMTP relay.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the delivery daemon",
	Long:  `Start the delivery worker, HTTP API and metrics endpoint.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flexmaild version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  API: %s\n", cfg.API.ListenAddr)
	fmt.Printf("  Database: %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("  Cycle interval: %s\n", cfg.Worker.CycleInterval)
	fmt.Printf("  Log retention: %d days\n", cfg.Worker.LogRetentionDays)

	return nil
}

// loadConfig loads the config file, or defaults when none is given.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

// cliLogger keeps one-shot commands quiet; structured output would
// drown the actual results.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// cliEnv holds the stack a one-shot command runs against.
type cliEnv struct {
	cfg       *config.Config
	db        *store.DB
	secrets   *secret.Store
	configs   *store.ConfigRepository
	templates *store.TemplateRepository
	logs      *store.LogRepository
	engine    *engine.Engine

	limiter *ratelimit.Limiter
	rateDB  *bolt.DB
}

// openEnv opens the same stores the daemon uses and builds a one-shot
// engine on top of them.
func openEnv() (*cliEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := cliLogger()

	db, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	secrets, err := secret.Open(cfg.Storage.KeyFile)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	rateDB, err := bolt.Open(cfg.Storage.RateDBPath, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open rate database: %w", err)
	}

	limiter, err := ratelimit.NewLimiter(rateDB, cfg.Worker.RateFlushInterval)
	if err != nil {
		rateDB.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	configs := store.NewConfigRepository(db.DB)
	templates := store.NewTemplateRepository(db.DB)

	eng := engine.New(engine.Deps{
		Configs:   configs,
		Templates: templates,
		Queue:     store.NewQueueRepository(db.DB),
		Logs:      store.NewLogRepository(db.DB),
		Renderer:  render.New(templates),
		Limiter:   limiter,
		Sender:    transport.NewSender(secrets, logger),
		Logger:    logger,
	}, engine.Options{
		RetryBase:         cfg.Worker.RetryBase,
		RetryCap:          cfg.Worker.RetryCap,
		FailFastPermanent: cfg.FailFast(),
	})

	return &cliEnv{
		cfg:       cfg,
		db:        db,
		secrets:   secrets,
		configs:   configs,
		templates: templates,
		logs:      store.NewLogRepository(db.DB),
		engine:    eng,
		limiter:   limiter,
		rateDB:    rateDB,
	}, nil
}

func (e *cliEnv) Close() {
	e.limiter.Stop()
	e.rateDB.Close()
	e.db.Close()
}
