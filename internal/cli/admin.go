package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Commit buffered writes and publish a new snapshot",
	Args:  cobra.NoArgs,
	RunE:  runCommitCmd("flush"),
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the published segments into one",
	Args:  cobra.NoArgs,
	RunE:  runCommitCmd("merge"),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(statsCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runCommitCmd(op string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		c := newClient(endpoint, requestTimeout, 1)
		outcome, err := c.commit(commandContext(cmd), op)
		if err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		if outcome.NoOp {
			cmd.Printf("Nothing to %s, generation %d unchanged\n", op, outcome.Generation)
			return nil
		}
		cmd.Printf("Published generation %d\n", outcome.Generation)
		cmd.Printf("  added:     %d\n", outcome.Added)
		cmd.Printf("  deleted:   %d\n", outcome.Deleted)
		cmd.Printf("  segments:  %d\n", outcome.Segments)
		cmd.Printf("  documents: %d\n", outcome.Documents)
		cmd.Printf("  took:      %s\n", outcome.Duration.Round(time.Microsecond))
		return nil
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	c := newClient(endpoint, requestTimeout, 1)
	stats, err := c.stats(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	cmd.Printf("Generation:        %d\n", stats.Generation)
	cmd.Printf("Documents:         %d\n", stats.DocumentCount)
	cmd.Printf("Segments:          %d\n", stats.SegmentCount)
	cmd.Printf("Pending buffered:  %d\n", stats.PendingBufferedCount)
	cmd.Printf("Pending deletes:   %d\n", stats.PendingDeletes)
	cmd.Printf("Commit state:      %s\n", stats.CommitState)
	if !stats.LastCommitTimestamp.IsZero() {
		cmd.Printf("Last commit:       %s\n", stats.LastCommitTimestamp.Format(time.RFC3339))
	}
	if stats.LastCommitError != "" {
		cmd.Printf("Last commit error: %s\n", stats.LastCommitError)
	}
	return nil
}
