package liveness

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amishk599/jobpipe/internal/metrics"
	"github.com/amishk599/jobpipe/internal/model"
)

// URLChecker is what the validator needs from a Checker.
type URLChecker interface {
	Check(ctx context.Context, url string) Outcome
}

// ValidationReport counts one validator run.
type ValidationReport struct {
	Selected    int
	Checked     int
	ByStatus    map[model.URLStatus]int
	Escalated   int
	NewlyClosed int
	Skipped     int // became terminal between selection and write
	StoreErrors int
	Duration    time.Duration
}

// Err reports a nonzero failure count as an error.
func (r ValidationReport) Err() error {
	if r.StoreErrors > 0 {
		return errors.New("url validation: store errors while writing status")
	}
	return nil
}

// Options configures a Validator.
type Options struct {
	RecheckAfter time.Duration
	BatchLimit   int
	Concurrency  int
}

// Validator re-checks due records and writes their new status.
type Validator struct {
	store   model.URLStatusStore
	checker URLChecker
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// NewValidator creates a Validator.
func NewValidator(store model.URLStatusStore, checker URLChecker, opts Options, logger *slog.Logger) *Validator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Validator{store: store, checker: checker, opts: opts, logger: logger, now: time.Now}
}

// Run checks records whose url_checked_at is unset or older than
// RecheckAfter, oldest first, at most BatchLimit of them. Terminal records
// are never selected.
func (v *Validator) Run(ctx context.Context) (ValidationReport, error) {
	start := v.now()
	report := ValidationReport{ByStatus: make(map[model.URLStatus]int)}

	due, err := v.store.DueForURLCheck(ctx, start.Add(-v.opts.RecheckAfter), v.opts.BatchLimit)
	if err != nil {
		return report, err
	}
	report.Selected = len(due)
	v.logger.Info("url validation started", "due", len(due), "concurrency", v.opts.Concurrency)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Concurrency)

	for _, rec := range due {
		if rec.URLStatus.IsTerminal() {
			continue
		}
		g.Go(func() error {
			out := v.checker.Check(gctx, rec.OriginalURL)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			next, terr := Transition(rec.URLStatus, out.Status)
			var werr error
			if terr == nil {
				werr = v.store.UpdateURLStatus(gctx, rec.JobHash, next, v.now())
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case terr != nil || errors.Is(werr, model.ErrNotFound):
				report.Skipped++
				return nil
			case werr != nil:
				report.StoreErrors++
				metrics.ErrorsTotal.WithLabelValues("url_status_write").Inc()
				v.logger.Error("writing url status", "job_hash", rec.JobHash, "error", werr)
				return nil
			}

			report.Checked++
			report.ByStatus[next]++
			metrics.URLChecks.WithLabelValues(string(next)).Inc()
			if out.Escalated {
				report.Escalated++
			}
			if next.IsTerminal() && !rec.URLStatus.IsTerminal() {
				report.NewlyClosed++
			}
			level := slog.LevelDebug
			if next != rec.URLStatus {
				level = slog.LevelInfo
			}
			v.logger.Log(gctx, level, "url checked",
				"job_hash", rec.JobHash,
				"url", rec.OriginalURL,
				"from", rec.URLStatus,
				"to", next,
				"http_code", out.HTTPCode,
				"detail", out.Detail,
			)
			return nil
		})
	}

	err = g.Wait()
	report.Duration = v.now().Sub(start)
	v.logger.Info("url validation finished",
		"checked", report.Checked,
		"closed", report.NewlyClosed,
		"escalated", report.Escalated,
		"store_errors", report.StoreErrors,
		"duration", report.Duration,
	)
	return report, err
}
