// Package cli implements searchctl, the command line client for searchd.
package cli

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	endpoint       string
	requestTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "searchctl",
	Short: "Command line client for the searchd index server",
	Long: `searchctl talks to a running searchd over HTTP. It can generate and
index sample blog posts, run queries, benchmark the search path and drive
commits and merges by hand.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "http://localhost:8080", "base URL of the searchd server")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 10*time.Second, "per request timeout")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
