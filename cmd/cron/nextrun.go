package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/leadwatch/core/internal/config"
	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/schedule"
)

var (
	nextRunTime  string
	nextRunDays  string
	nextRunFrom  string
	nextRunCount int
)

var nextRunCmd = &cobra.Command{
	Use:   "next-run",
	Short: "Print the next run times for a schedule",
	Example: `  cron next-run --time 09:00 --days weekdays
  cron next-run --time 18:30 --days weekends --from 2025-03-07T19:00:00Z --count 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := config.Load().Location()
		if err != nil {
			return err
		}

		from := time.Now().In(loc)
		if nextRunFrom != "" {
			parsed, err := time.Parse(time.RFC3339, nextRunFrom)
			if err != nil {
				return errors.Wrapf(err, "invalid --from %q", nextRunFrom)
			}
			from = parsed.In(loc)
		}

		days := models.ScheduleDays(nextRunDays)
		for i := 0; i < nextRunCount; i++ {
			next, err := schedule.NextRun(nextRunTime, days, from)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", next.Format(time.RFC3339), next.Weekday())
			from = next
		}
		return nil
	},
}

func init() {
	nextRunCmd.Flags().StringVar(&nextRunTime, "time", "09:00", "time of day, HH:MM or HH:MM:SS")
	nextRunCmd.Flags().StringVar(&nextRunDays, "days", string(models.ScheduleDaysAll), "all, weekdays or weekends")
	nextRunCmd.Flags().StringVar(&nextRunFrom, "from", "", "reference instant in RFC3339, defaults to now")
	nextRunCmd.Flags().IntVar(&nextRunCount, "count", 1, "number of consecutive runs to print")
}
