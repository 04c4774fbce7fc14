package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobpipe/internal/report"
)

var reclassifyLimit int

var reclassifyCmd = &cobra.Command{
	Use:   "reclassify",
	Short: "Classify records that are pending or whose last classification failed",
	RunE:  runReclassify,
}

func init() {
	reclassifyCmd.Flags().IntVar(&reclassifyLimit, "limit", 200, "maximum records to classify")
	rootCmd.AddCommand(reclassifyCmd)
}

func runReclassify(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, _, err := a.buildPipeline(ctx, "")
	if err != nil {
		return err
	}
	rep, err := runner.Reclassify(ctx, reclassifyLimit)
	if err != nil {
		return err
	}
	fmt.Println(report.Batch(rep))
	return rep.Err()
}
