package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var testTo string

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message through the active configuration",
	Long: `Send a test message synchronously, bypassing the queue.
The command exits non-zero when the relay rejects the message.`,
	RunE: runTest,
}

func init() {
	testCmd.Flags().StringVar(&testTo, "to", "", "Recipient address (required)")
	testCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.engine.SubmitTest(context.Background(), testTo); err != nil {
		return fmt.Errorf("test send failed: %w", err)
	}

	fmt.Printf("Test message sent to %s\n", testTo)
	return nil
}
