package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Raywonder/flexpbx-mailer/internal/store"
)

var cleanupDays int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete delivery log entries older than the retention window",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "Delete log entries older than this many days")

	rootCmd.AddCommand(migrateCmd, cleanupCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}

	fmt.Printf("Database schema up to date (%s)\n", cfg.Storage.DatabasePath)
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	n, err := env.engine.ClearOldLogs(context.Background(), cleanupDays)
	if err != nil {
		return fmt.Errorf("failed to clear old logs: %w", err)
	}

	fmt.Printf("Deleted %d log entries older than %d days\n", n, cleanupDays)
	return nil
}
