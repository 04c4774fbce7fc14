package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobpipe/internal/config"
	"github.com/amishk599/jobpipe/internal/filter"
	"github.com/amishk599/jobpipe/internal/report"
)

var (
	feedCity    string
	reviewLimit int
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "List records whose apply URL is not known dead",
	Long: "Lists the consumer feed. With --city, includes records scoped to that city\n" +
		"plus region-wide and remote records that cover it.",
	RunE: runFeed,
}

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List the operator review queue",
	RunE:  runReviews,
}

func init() {
	feedCmd.Flags().StringVar(&feedCity, "city", "", "city code from the pattern file, e.g. lon")
	reviewsCmd.Flags().IntVar(&reviewLimit, "limit", 50, "maximum items to show")
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(reviewsCmd)
}

func runFeed(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	var codes []string
	if feedCity != "" {
		ps, err := config.LoadPatterns(cfg.Resolve(cfg.Patterns))
		if err != nil {
			return err
		}
		locations, err := filter.NewLocationFilter(ps.Location)
		if err != nil {
			return err
		}
		codes = locations.InclusiveCodes(feedCity)
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.store.ActiveFeed(ctx, codes)
	if err != nil {
		return err
	}
	fmt.Println(report.Feed(recs))
	return nil
}

func runReviews(cmd *cobra.Command, args []string) error {
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

	items, err := a.store.ListReviews(ctx, reviewLimit)
	if err != nil {
		return err
	}
	fmt.Println(report.Reviews(items))
	return nil
}
