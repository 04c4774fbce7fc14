package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobpipe/internal/ai"
	"github.com/amishk599/jobpipe/internal/config"
	"github.com/amishk599/jobpipe/internal/dedup"
	"github.com/amishk599/jobpipe/internal/lock"
	"github.com/amishk599/jobpipe/internal/model"
	"github.com/amishk599/jobpipe/internal/preview"
)

const previewFetchTimeout = 2 * time.Minute

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Browse one source's postings and filter decisions interactively (TUI)",
	Long:  "Shows the source picker, fetches the chosen source without storing anything, then opens the split-pane preview.",
	RunE:  runPreviewCmd,
}

func init() {
	rootCmd.AddCommand(previewCmd)
}

func runPreviewCmd(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	// The TUI owns the terminal from here on.
	quiet := silentLogger()
	ctx := context.Background()
	a, err := newApp(ctx, cfg, quiet, true)
	if err != nil {
		return err
	}
	defer a.Close()

	classifier, err := a.buildClassifier(ctx)
	if err != nil {
		return err
	}
	if classifier == nil {
		classifier = ai.NewNopClassifier()
	}
	return runPreview(a, classifier)
}

func runPreview(a *app, classifier preview.Classifier) error {
	enabled, err := selectSources(a.cfg, "")
	if err != nil {
		return err
	}
	if len(enabled) == 0 {
		fmt.Println("No enabled sources in config.")
		return nil
	}

	for {
		src, ok, err := preview.RunSourcePicker(enabled)
		if err != nil {
			return fmt.Errorf("picker: %w", err)
		}
		if !ok {
			return nil
		}

		entries, err := previewSource(a, src)
		if err != nil {
			fmt.Printf("Error previewing %s: %v\n", src.Name, err)
			continue
		}

		wantQuit, err := preview.Run(entries, classifier)
		if err != nil {
			fmt.Printf("TUI error: %v\n", err)
		}
		if wantQuit {
			return nil
		}
	}
}

func previewSource(a *app, src config.SourceConfig) ([]preview.Entry, error) {
	sources, err := a.buildSources([]config.SourceConfig{src})
	if err != nil {
		return nil, err
	}
	s := sources[0]

	norm, err := a.newNormalizer()
	if err != nil {
		return nil, err
	}
	engine := dedup.NewEngine(a.store, lock.NewKeyedMutex(), norm, a.logger)
	evaluate := func(payloads []model.Payload) ([]preview.Entry, preview.Summary) {
		return preview.Build(payloads, s.Chain, engine.Hash)
	}

	loaded, err := preview.RunLoader(src.Name, previewFetchTimeout, s.Fetcher.FetchPayloads, evaluate)
	if err != nil {
		return nil, err
	}
	fmt.Printf("%s: %s in %s\n", src.Name, loaded.Summary, loaded.Elapsed.Round(time.Millisecond))
	return loaded.Entries, nil
}
