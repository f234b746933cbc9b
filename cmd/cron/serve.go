package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leadwatch/core/pkg/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the batch and monitoring tick families",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context(), storeKind)
		if err != nil {
			return err
		}
		defer e.Close()

		managerCfg := &jobs.ManagerConfig{
			Location:   e.loc,
			JobTimeout: e.cfg.Scheduler.TickBudget(),
		}
		if e.locks != nil {
			managerCfg.LockManager = e.locks
		}
		manager := jobs.NewJobManager(managerCfg)

		batchTick := jobs.NewBatchJobsTick(jobs.BatchJobsTickConfig{
			Schedule:         e.cfg.Scheduler.BatchSpec,
			Jobs:             e.jobs,
			Executor:         e.batchExecutor(),
			Clock:            e.clock(),
			BatchSize:        e.cfg.Scheduler.BatchSize,
			InterruptedAfter: e.cfg.Scheduler.InterruptedAfter,
		})
		if err := manager.RegisterJob(batchTick); err != nil {
			return err
		}

		monitoringTick := jobs.NewMonitoringTick(jobs.MonitoringTickConfig{
			Schedule:   e.cfg.Scheduler.MonitoringSpec,
			Watches:    e.watches,
			Executor:   e.monitoringExecutor(),
			Clock:      e.clock(),
			BatchSize:  e.cfg.Scheduler.BatchSize,
			StaleAfter: e.cfg.Scheduler.WatchStaleAfter,
		})
		if err := manager.RegisterJob(monitoringTick); err != nil {
			return err
		}

		manager.Start()
		e.log.Info().
			Str("action", "service_started").
			Int("job_count", len(manager.GetJobs())).
			Str("store", storeKind).
			Str("timezone", e.loc.String()).
			Msg("Cron job service started")

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		e.log.Info().Str("action", "shutdown").Msg("Shutting down cron job service")
		manager.Stop()
		e.log.Info().Str("action", "stopped").Msg("Cron job service stopped")
		return nil
	},
}
