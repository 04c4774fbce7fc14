package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobpipe/internal/report"
)

var validateLimit int

var validateCmd = &cobra.Command{
	Use:   "validate-urls",
	Short: "Re-check apply URLs that are due and update their status",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().IntVar(&validateLimit, "limit", 0, "maximum records to check (default: liveness.batch_limit)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}
	if validateLimit > 0 {
		cfg.Liveness.BatchLimit = validateLimit
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	validator, err := a.buildValidator()
	if err != nil {
		return err
	}
	rep, err := validator.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(report.Validation(rep))
	return rep.Err()
}
