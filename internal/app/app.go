package app

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "insightpipe",
	Short: "Cluster customer insights and open tickets for urgent problems",
	Long: `insightpipe ingests per-feedback insights, clusters them by shared keywords
every five insights per organization, asks a reasoning service for a
recommendation on each significant cluster and opens a ticket when the
recommendation is high impact and immediate.`,
	SilenceUsage: true,
}

func Main() {
	// A missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
