package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Raywonder/flexpbx-mailer/internal/models"
)

var (
	smtpHost        string
	smtpPort        int
	smtpSecurity    string
	smtpUsername    string
	smtpPassword    string
	smtpFrom        string
	smtpFromName    string
	smtpReplyTo     string
	smtpMaxAttempts int
	smtpTimeout     time.Duration
	smtpRatePerHour int
)

var smtpConfigCmd = &cobra.Command{
	Use:   "smtp-config",
	Short: "Delivery configuration commands",
}

var smtpConfigSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save and activate a delivery configuration",
	Long: `Save a delivery configuration and make it the active one.
The password is encrypted with the local secret store before it is written.`,
	RunE: runSMTPConfigSet,
}

var smtpConfigShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active delivery configuration",
	RunE:  runSMTPConfigShow,
}

func init() {
	smtpConfigSetCmd.Flags().StringVar(&smtpHost, "host", "", "Relay hostname (required)")
	smtpConfigSetCmd.Flags().IntVar(&smtpPort, "port", 587, "Relay port")
	smtpConfigSetCmd.Flags().StringVar(&smtpSecurity, "security", "tls", "Transport security: none, tls, ssl")
	smtpConfigSetCmd.Flags().StringVar(&smtpUsername, "username", "", "Auth username")
	smtpConfigSetCmd.Flags().StringVar(&smtpPassword, "password", "", "Auth password")
	smtpConfigSetCmd.Flags().StringVar(&smtpFrom, "from", "", "From address (required)")
	smtpConfigSetCmd.Flags().StringVar(&smtpFromName, "from-name", "", "From display name")
	smtpConfigSetCmd.Flags().StringVar(&smtpReplyTo, "reply-to", "", "Reply-To address")
	smtpConfigSetCmd.Flags().IntVar(&smtpMaxAttempts, "max-attempts", 3, "Delivery attempts per item")
	smtpConfigSetCmd.Flags().DurationVar(&smtpTimeout, "timeout", 30*time.Second, "Send timeout")
	smtpConfigSetCmd.Flags().IntVar(&smtpRatePerHour, "rate-per-hour", 0, "Hourly send cap (0 = unlimited)")

	smtpConfigCmd.AddCommand(smtpConfigSetCmd, smtpConfigShowCmd)
	rootCmd.AddCommand(smtpConfigCmd)
}

func runSMTPConfigSet(cmd *cobra.Command, args []string) error {
	if smtpHost == "" {
		return fmt.Errorf("--host is required")
	}
	if smtpFrom == "" {
		return fmt.Errorf("--from is required")
	}

	security := models.SecurityMode(smtpSecurity)
	switch security {
	case models.SecurityNone, models.SecurityTLS, models.SecuritySSL:
	default:
		return fmt.Errorf("invalid security mode: %s", smtpSecurity)
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	cfg := &models.SMTPConfig{
		Host:        smtpHost,
		Port:        smtpPort,
		Security:    security,
		Username:    smtpUsername,
		FromAddress: smtpFrom,
		FromName:    smtpFromName,
		ReplyTo:     smtpReplyTo,
		MaxAttempts: smtpMaxAttempts,
		SendTimeout: smtpTimeout,
		RatePerHour: smtpRatePerHour,
		Active:      true,
	}

	if smtpPassword != "" {
		enc, iv, err := env.secrets.Encrypt(smtpPassword)
		if err != nil {
			return fmt.Errorf("failed to encrypt password: %w", err)
		}
		cfg.PasswordEnc = enc
		cfg.PasswordIV = iv
	}

	if err := env.configs.Save(context.Background(), cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Configuration %d saved and activated (%s:%d)\n", cfg.ID, cfg.Host, cfg.Port)
	return nil
}

func runSMTPConfigShow(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	cfg, err := env.configs.Active(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg == nil {
		fmt.Println("No active delivery configuration")
		return nil
	}

	fmt.Printf("ID:            %d\n", cfg.ID)
	fmt.Printf("Host:          %s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("Security:      %s\n", cfg.Security)
	if cfg.Username != "" {
		fmt.Printf("Username:      %s\n", cfg.Username)
	}
	if cfg.PasswordEnc != "" {
		fmt.Printf("Password:      (encrypted)\n")
	}
	fmt.Printf("From:          %s", cfg.FromAddress)
	if cfg.FromName != "" {
		fmt.Printf(" (%s)", cfg.FromName)
	}
	fmt.Println()
	if cfg.ReplyTo != "" {
		fmt.Printf("Reply-To:      %s\n", cfg.ReplyTo)
	}
	fmt.Printf("Max attempts:  %d\n", cfg.MaxAttempts)
	fmt.Printf("Send timeout:  %s\n", cfg.SendTimeout)
	if cfg.RatePerHour > 0 {
		fmt.Printf("Rate cap:      %d/hour\n", cfg.RatePerHour)
	} else {
		fmt.Printf("Rate cap:      unlimited\n")
	}
	return nil
}
