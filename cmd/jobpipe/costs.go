package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobpipe/internal/ai"
	"github.com/amishk599/jobpipe/internal/report"
)

var costsSince time.Duration

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Summarize LLM spend from the classification attempt log",
	RunE:  runCosts,
}

func init() {
	costsCmd.Flags().DurationVar(&costsSince, "since", 30*24*time.Hour, "look back this far")
	rootCmd.AddCommand(costsCmd)
}

func runCosts(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	attempts, err := a.store.ListAttempts(ctx, time.Now().Add(-costsSince))
	if err != nil {
		return err
	}
	fmt.Println(report.Costs(ai.Summarize(attempts)))
	return nil
}
