package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobpipe/internal/metrics"
	"github.com/amishk599/jobpipe/internal/pipeline"
	"github.com/amishk599/jobpipe/internal/scheduler"
)

const reclassifyBatchLimit = 200

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler daemon",
	Long:  "Runs ingestion, URL validation and reclassification on their cron schedules; blocks until SIGINT/SIGTERM.",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	logger.Info("config loaded",
		"sources", len(cfg.Sources),
		"store", cfg.Store.Driver,
		"llm", cfg.LLM.Enabled,
		"ingest", cfg.Schedule.Ingest,
		"validate", cfg.Schedule.Validate,
		"reclassify", cfg.Schedule.Reclassify,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, sources, err := a.buildPipeline(ctx, "")
	if err != nil {
		return err
	}
	validator, err := a.buildValidator()
	if err != nil {
		return err
	}

	var jobs []scheduler.Job
	if spec := cfg.Schedule.Ingest; spec != "" {
		for _, src := range sources {
			jobs = append(jobs, scheduler.Job{
				Name: "ingest:" + src.Name,
				Spec: spec,
				Run:  ingestJob(runner, src),
			})
		}
	}
	if spec := cfg.Schedule.Validate; spec != "" {
		jobs = append(jobs, scheduler.Job{
			Name: "validate-urls",
			Spec: spec,
			Run: func(ctx context.Context) error {
				rep, err := validator.Run(ctx)
				if err != nil {
					return err
				}
				return rep.Err()
			},
		})
	}
	if spec := cfg.Schedule.Reclassify; spec != "" {
		jobs = append(jobs, scheduler.Job{
			Name: "reclassify",
			Spec: spec,
			Run: func(ctx context.Context) error {
				rep, err := runner.Reclassify(ctx, reclassifyBatchLimit)
				if err != nil {
					return err
				}
				return rep.Err()
			},
		})
	}
	if len(jobs) == 0 {
		logger.Error("nothing to schedule")
		return errors.New("no scheduled jobs: set schedule.ingest, schedule.validate or schedule.reclassify")
	}

	if addr := resolveMetricsAddr(cfg); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, logger); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	sched, err := scheduler.NewScheduler(jobs, logger)
	if err != nil {
		return err
	}
	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
		return err
	}

	logger.Info("goodbye")
	return nil
}

func ingestJob(runner *pipeline.Runner, src pipeline.Source) func(context.Context) error {
	return func(ctx context.Context) error {
		rep, err := runner.Run(ctx, src)
		if err != nil {
			return err
		}
		return rep.Err()
	}
}
