package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/leadwatch/core/pkg/logger"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

var storeKind string

var rootCmd = &cobra.Command{
	Use:   "cron",
	Short: "Lead scheduling and change-monitoring engine",
	Long: `Runs the two periodic tick families: due batch jobs (search, analysis or both)
and due monitoring watches (diff against baseline, record trigger events, notify).

Examples:
  cron serve                          # start both tick families
  cron run-job 6f1c...                # run one scheduled job now
  cron check-watch 91ab...            # check one watch now
  cron next-run --time 09:00 --days weekdays
  cron migrate                        # apply the embedded schema`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetupLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", storePostgres, "repository backend: postgres or memory")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runJobCmd)
	rootCmd.AddCommand(checkWatchCmd)
	rootCmd.AddCommand(nextRunCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
