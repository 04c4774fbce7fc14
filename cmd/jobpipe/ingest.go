package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobpipe/internal/report"
)

var (
	ingestSource string
	ingestDryRun bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion batch per source and exit",
	Long: "Fetches every enabled source (or just --source), filters, deduplicates and classifies the postings,\n" +
		"then prints a batch report. Exits non-zero if any batch recorded a failure.",
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestSource, "source", "s", "", "run only the named source")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "use an in-memory store and skip LLM calls")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}
	if ingestDryRun {
		cfg.LLM.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, ingestDryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, sources, err := a.buildPipeline(ctx, ingestSource)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return errors.New("no enabled sources")
	}

	var errs []error
	for _, src := range sources {
		rep, err := runner.Run(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		fmt.Fprintln(os.Stdout, report.Batch(rep))
		if err := rep.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
