package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserFetcher renders a page in a real browser and returns its HTML.
type BrowserFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ChromeFetcher drives headless Chrome through chromedp. Requires a Chrome
// or Chromium binary on the host.
type ChromeFetcher struct {
	timeout   time.Duration
	userAgent string
	settle    time.Duration
}

// NewChromeFetcher creates a fetcher that gives each page timeout to load.
func NewChromeFetcher(timeout time.Duration, userAgent string) *ChromeFetcher {
	return &ChromeFetcher{timeout: timeout, userAgent: userAgent, settle: 2 * time.Second}
}

// Fetch navigates to url, waits for the body and a short settle period for
// challenge scripts, then returns the rendered HTML.
func (f *ChromeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if f.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.userAgent))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, f.timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(f.settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser fetch %s: %w", url, err)
	}
	return html, nil
}
