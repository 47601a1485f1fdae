package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsDays int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue management commands",
}

var queueSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show item counts per status",
	RunE:  runQueueSummary,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daily delivery statistics",
	RunE:  runQueueStats,
}

var queueRetryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Requeue all failed items for another round of attempts",
	RunE:  runQueueRetryFailed,
}

var queueShowCmd = &cobra.Command{
	Use:   "show <item_id>",
	Short: "Show item details",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueShow,
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one delivery cycle and exit",
	RunE:  runCycle,
}

func init() {
	queueStatsCmd.Flags().IntVar(&statsDays, "days", 7, "Number of trailing days to report")

	queueCmd.AddCommand(queueSummaryCmd, queueStatsCmd, queueRetryFailedCmd, queueShowCmd)
	rootCmd.AddCommand(queueCmd, cycleCmd)
}

func runQueueSummary(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	counts, err := env.engine.QueueSummary(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get queue summary: %w", err)
	}

	if len(counts) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%d\n", c.Status, c.Count)
	}
	return w.Flush()
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	counts, err := env.engine.Statistics(context.Background(), statsDays)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	if len(counts) == 0 {
		fmt.Printf("No deliveries in the last %d days\n", statsDays)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tSTATUS\tCOUNT")
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%s\t%d\n", c.Date, c.Status, c.Count)
	}
	return w.Flush()
}

func runQueueRetryFailed(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	n, err := env.engine.RetryFailed(context.Background())
	if err != nil {
		return fmt.Errorf("failed to retry failed items: %w", err)
	}

	fmt.Printf("Requeued %d failed items\n", n)
	return nil
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	item, err := env.engine.Message(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get item: %w", err)
	}
	if item == nil {
		return fmt.Errorf("item not found: %s", args[0])
	}

	fmt.Printf("ID:            %s\n", item.ID)
	if item.TemplateKey != "" {
		fmt.Printf("Template:      %s\n", item.TemplateKey)
	}
	fmt.Printf("Recipient:     %s\n", item.Recipient)
	fmt.Printf("Subject:       %s\n", item.Subject)
	fmt.Printf("Status:        %s\n", item.Status)
	fmt.Printf("Attempts:      %d/%d\n", item.Attempts, item.MaxAttempts)
	fmt.Printf("Scheduled for: %s\n", item.ScheduledFor.Format("2006-01-02 15:04:05"))
	if item.LastError != "" {
		fmt.Printf("Last error:    %s\n", item.LastError)
	}
	fmt.Printf("Created:       %s\n", item.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runCycle(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.engine.RunCycle(context.Background())
	if err != nil {
		return fmt.Errorf("delivery cycle failed: %w", err)
	}

	fmt.Printf("Processed: %d\n", res.Processed)
	fmt.Printf("Sent:      %d\n", res.Sent)
	fmt.Printf("Failed:    %d\n", res.Failed)
	fmt.Printf("Deferred:  %d\n", res.Deferred)
	return nil
}
