package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var runJobCmd = &cobra.Command{
	Use:   "run-job <job-id>",
	Short: "Run one scheduled job now, regardless of next_run_at",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context(), storeKind)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Scheduler.JobTimeout+time.Minute)
		defer cancel()

		job, err := e.jobs.GetJob(ctx, args[0])
		if err != nil {
			return errors.Wrapf(err, "load job %s", args[0])
		}

		exec, runErr := e.batchExecutor().Run(ctx, *job)
		if exec == nil && runErr == nil {
			e.log.Warn().Str("action", "job_skipped").Str("job_id", job.ID).Msg("Job already has a running execution")
			return nil
		}
		if exec != nil {
			if err := printJSON(exec); err != nil {
				return err
			}
		}
		return runErr
	},
}

var checkWatchCmd = &cobra.Command{
	Use:   "check-watch <watch-id>",
	Short: "Check one monitoring watch now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context(), storeKind)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		watch, err := e.watches.GetWatch(ctx, args[0])
		if err != nil {
			return errors.Wrapf(err, "load watch %s", args[0])
		}

		result, err := e.monitoringExecutor().Check(ctx, *watch)
		if err != nil {
			return err
		}
		return printJSON(struct {
			EntityFound bool        `json:"entity_found"`
			Notified    bool        `json:"notified"`
			NotifyError string      `json:"notify_error,omitempty"`
			Events      interface{} `json:"events"`
		}{
			EntityFound: result.EntityFound,
			Notified:    result.Notified,
			NotifyError: errString(result.NotifyErr),
			Events:      result.Events,
		})
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
