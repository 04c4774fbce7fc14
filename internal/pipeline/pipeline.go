// Package pipeline runs one ingestion batch for one source:
// fetch → normalize → filter → dedup → classify → store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amishk599/jobpipe/internal/ai"
	"github.com/amishk599/jobpipe/internal/dedup"
	"github.com/amishk599/jobpipe/internal/filter"
	"github.com/amishk599/jobpipe/internal/metrics"
	"github.com/amishk599/jobpipe/internal/model"
	"github.com/amishk599/jobpipe/internal/normalize"
)

// Classifier enriches one canonical record. The error is reserved for
// cancellation; provider exhaustion is reported in the Outcome.
type Classifier interface {
	Classify(ctx context.Context, in ai.Input) (ai.Outcome, error)
}

// Source is one configured feed: its fetcher already wrapped in retry and
// rate-limit decorators, and the filter chain built from its patterns.
type Source struct {
	Name    string
	Kind    model.Source
	Fetcher model.SourceFetcher
	Chain   *filter.Chain
}

// Options tunes a Runner. Zero values fall back to small defaults.
type Options struct {
	IngestConcurrency   int
	ClassifyConcurrency int
}

// Runner owns everything shared between batches. It holds no per-batch
// state, so concurrent Run calls for different sources are safe.
type Runner struct {
	store      model.Store
	engine     *dedup.Engine
	classifier Classifier
	notifier   model.Notifier
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// NewRunner wires a Runner. A nil classifier leaves new records pending;
// a nil notifier only persists review items.
func NewRunner(store model.Store, engine *dedup.Engine, classifier Classifier, notifier model.Notifier, opts Options, logger *slog.Logger) *Runner {
	if opts.IngestConcurrency <= 0 {
		opts.IngestConcurrency = 4
	}
	if opts.ClassifyConcurrency <= 0 {
		opts.ClassifyConcurrency = 2
	}
	return &Runner{
		store:      store,
		engine:     engine,
		classifier: classifier,
		notifier:   notifier,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// candidate is a posting that passed every gate.
type candidate struct {
	posting model.NormalizedPosting
	scope   model.LocationScope
}

// batch is the mutable state of one Run.
type batch struct {
	mu       sync.Mutex
	report   *BatchReport
	reviews  []model.ReviewItem
	classify map[string]struct{}
	order    []string
}

func (b *batch) review(item model.ReviewItem) {
	b.mu.Lock()
	b.reviews = append(b.reviews, item)
	b.mu.Unlock()
}

func (b *batch) queueClassification(hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.classify[hash]; ok {
		return
	}
	b.classify[hash] = struct{}{}
	b.order = append(b.order, hash)
}

// Run processes one batch. The returned error is set when the source could
// not be fetched or ctx ended; per-posting failures are counted in the
// report, and report.Err() turns a nonzero failure count into an error.
func (r *Runner) Run(ctx context.Context, src Source) (*BatchReport, error) {
	start := time.Now()
	b := &batch{
		report:   &BatchReport{Source: src.Kind, Name: src.Name},
		classify: make(map[string]struct{}),
	}
	defer func() {
		b.report.Duration = time.Since(start)
		metrics.BatchDuration.WithLabelValues(src.Name).Observe(b.report.Duration.Seconds())
	}()

	payloads, err := src.Fetcher.FetchPayloads(ctx)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("fetch").Inc()
		return b.report, fmt.Errorf("fetching %s: %w", src.Name, err)
	}
	b.report.Fetched = len(payloads)

	postings, failures := normalize.Batch(payloads)
	for _, f := range failures {
		r.logger.Warn("dropping malformed payload", "source", src.Name, "index", f.Index, "error", f.Err)
	}
	b.report.Malformed = len(failures)
	r.count(src.Name, "malformed", len(failures))

	candidates := r.filter(src, postings, b.report)

	if err := r.ingest(ctx, src, candidates, b); err != nil {
		return b.report, err
	}
	if err := r.classifyQueued(ctx, b.order, b); err != nil {
		return b.report, err
	}

	if b.report.Failures() > 0 {
		b.reviews = append(b.reviews, model.ReviewItem{
			Kind:      model.ReviewBatchFailures,
			Detail:    b.report.String(),
			CreatedAt: r.now(),
		})
	}
	r.surface(ctx, b.reviews)

	r.logger.Info("batch complete",
		"source", src.Name,
		"fetched", b.report.Fetched,
		"malformed", b.report.Malformed,
		"filtered", b.report.Filtered(),
		"new", b.report.New,
		"merged", b.report.Merged+b.report.MergedUpgraded,
		"repeat", b.report.Repeat,
		"classified", b.report.Classified,
		"classification_failed", b.report.ClassificationFailed,
		"superseded", b.report.Superseded,
		"integrity_violations", b.report.IntegrityViolations,
		"cost_usd", b.report.Cost,
	)
	return b.report, nil
}

// filter runs every posting through the gate chain. Nothing rejected here
// ever reaches the store or a provider.
func (r *Runner) filter(src Source, postings []model.NormalizedPosting, rep *BatchReport) []candidate {
	var out []candidate
	for _, p := range postings {
		d := src.Chain.Evaluate(p)
		if !d.Passed {
			switch d.RejectedBy {
			case filter.GateTitle:
				rep.FilteredTitle++
			case filter.GateLocation:
				rep.FilteredLocation++
			case filter.GateAgency:
				rep.FilteredAgency++
			}
			r.logger.Debug("posting filtered", "source", src.Name, "title", p.Title, "gate", d.RejectedBy, "reason", d.Reason)
			continue
		}
		out = append(out, candidate{posting: p, scope: d.Scope})
	}
	r.count(src.Name, "filtered_title", rep.FilteredTitle)
	r.count(src.Name, "filtered_location", rep.FilteredLocation)
	r.count(src.Name, "filtered_agency", rep.FilteredAgency)
	return out
}

// ingest folds candidates into the store in parallel. The engine holds a
// per-hash lock, so only postings resolving to the same job serialize.
func (r *Runner) ingest(ctx context.Context, src Source, candidates []candidate, b *batch) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.IngestConcurrency)
	for _, c := range candidates {
		g.Go(func() error {
			res, err := r.engine.Ingest(gctx, c.posting, c.scope)
			var violation *model.DedupIntegrityViolation
			switch {
			case errors.As(err, &violation):
				r.logger.Error("dedup integrity violation",
					"source", src.Name,
					"job_hash", violation.JobHash,
					"stored", violation.Stored,
					"incoming", violation.Incoming,
				)
				metrics.ErrorsTotal.WithLabelValues("dedup_integrity").Inc()
				b.mu.Lock()
				b.report.IntegrityViolations++
				b.mu.Unlock()
				b.review(model.ReviewItem{
					Kind:      model.ReviewDedupIntegrity,
					JobHash:   violation.JobHash,
					Employer:  c.posting.CompanyName,
					Title:     c.posting.Title,
					URL:       c.posting.PostingURL,
					Detail:    violation.Error(),
					CreatedAt: r.now(),
				})
				return nil
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Error("ingest failed", "source", src.Name, "title", c.posting.Title, "error", err)
				metrics.ErrorsTotal.WithLabelValues("store").Inc()
				b.mu.Lock()
				b.report.StoreErrors++
				b.mu.Unlock()
				return nil
			}

			metrics.PostingsTotal.WithLabelValues(src.Name, string(res.Outcome)).Inc()
			b.mu.Lock()
			b.report.addOutcome(res.Outcome)
			b.mu.Unlock()
			if res.Outcome.NeedsClassification() {
				b.queueClassification(res.Record.JobHash)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ingesting %s: %w", src.Name, err)
	}
	return ctx.Err()
}

// classifyQueued classifies each hash once, re-reading the record so a
// posting merged later in the same batch is classified on its best text.
func (r *Runner) classifyQueued(ctx context.Context, hashes []string, b *batch) error {
	if r.classifier == nil || len(hashes) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.ClassifyConcurrency)
	for _, hash := range hashes {
		g.Go(func() error {
			rec, err := r.store.GetByHash(gctx, hash)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Error("loading record for classification", "job_hash", hash, "error", err)
				b.mu.Lock()
				b.report.StoreErrors++
				b.mu.Unlock()
				return nil
			}
			return r.classifyOne(gctx, rec, b)
		})
	}
	return g.Wait()
}

// classifyOne runs the classifier and persists the result, the attempt log
// and, on exhaustion, a review item. A failed record is kept, never dropped.
func (r *Runner) classifyOne(ctx context.Context, rec *model.CanonicalRecord, b *batch) error {
	out, err := r.classifier.Classify(ctx, ai.InputFromRecord(rec))
	if err != nil {
		return err
	}
	observeAttempts(out.Attempts)

	storeErrs := 0
	if len(out.Attempts) > 0 {
		if err := r.store.RecordAttempts(ctx, out.Attempts); err != nil {
			r.logger.Error("recording classification attempts", "job_hash", rec.JobHash, "error", err)
			storeErrs++
		}
	}

	status, result := model.ClassificationClassified, out.Result
	if !out.OK() {
		status, result = model.ClassificationFailed, nil
	}
	saved, err := r.saveClassification(ctx, rec, status, result)
	if err != nil {
		r.logger.Error("saving classification", "job_hash", rec.JobHash, "status", status, "error", err)
		storeErrs++
	}

	var cost float64
	for _, a := range out.Attempts {
		cost += a.Cost
	}

	b.mu.Lock()
	b.report.Cost += cost
	b.report.StoreErrors += storeErrs
	switch {
	case err == nil && !saved:
		b.report.Superseded++
	case out.OK():
		b.report.Classified++
	default:
		b.report.ClassificationFailed++
	}
	b.mu.Unlock()

	if out.OK() || (err == nil && !saved) {
		return nil
	}
	detail := "no provider produced a valid classification"
	if out.Failure != nil {
		detail = out.Failure.Error()
	}
	r.logger.Error("classification exhausted", "job_hash", rec.JobHash, "attempts", len(out.Attempts), "error", detail)
	metrics.ErrorsTotal.WithLabelValues("classification_failed").Inc()
	b.review(model.ReviewItem{
		Kind:      model.ReviewClassificationFailed,
		JobHash:   rec.JobHash,
		Employer:  rec.EmployerName,
		Title:     rec.TitleDisplay,
		URL:       rec.OriginalURL,
		Detail:    detail,
		CreatedAt: r.now(),
	})
	return nil
}

// saveClassification writes the outcome under the record's hash lock, and
// only if the description it was computed from is still the stored one. A
// merge that replaced the text meanwhile has left the record pending for the
// next pass, so the stale result is dropped and false is returned.
func (r *Runner) saveClassification(ctx context.Context, rec *model.CanonicalRecord, status model.ClassificationStatus, result *model.ClassificationResult) (bool, error) {
	release, err := r.engine.Lock(ctx, rec.JobHash)
	if err != nil {
		return false, err
	}
	defer release()

	cur, err := r.store.GetByHash(ctx, rec.JobHash)
	if err != nil {
		return false, err
	}
	if cur.DescriptionText != rec.DescriptionText {
		r.logger.Info("classification superseded by newer description", "job_hash", rec.JobHash)
		return false, nil
	}
	return true, r.store.SaveClassification(ctx, rec.JobHash, status, result)
}

// Reclassify retries records left pending or failed by earlier batches.
func (r *Runner) Reclassify(ctx context.Context, limit int) (*BatchReport, error) {
	start := time.Now()
	b := &batch{report: &BatchReport{Name: "reclassify"}, classify: make(map[string]struct{})}
	if r.classifier == nil {
		return b.report, errors.New("reclassify: no classifier configured")
	}

	recs, err := r.store.PendingClassification(ctx, limit)
	if err != nil {
		return b.report, fmt.Errorf("listing pending classifications: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.ClassifyConcurrency)
	for i := range recs {
		g.Go(func() error { return r.classifyOne(gctx, &recs[i], b) })
	}
	if err := g.Wait(); err != nil {
		return b.report, err
	}
	b.report.Duration = time.Since(start)
	r.surface(ctx, b.reviews)

	r.logger.Info("reclassify complete",
		"selected", len(recs),
		"classified", b.report.Classified,
		"classification_failed", b.report.ClassificationFailed,
		"superseded", b.report.Superseded,
		"cost_usd", b.report.Cost,
	)
	return b.report, nil
}

// surface persists review items and forwards them to the notifier. Both are
// best effort: the counts in the report already carry the failure.
func (r *Runner) surface(ctx context.Context, items []model.ReviewItem) {
	if len(items) == 0 {
		return
	}
	for _, item := range items {
		if err := r.store.EnqueueReview(ctx, item); err != nil {
			r.logger.Error("enqueueing review item", "kind", item.Kind, "job_hash", item.JobHash, "error", err)
		}
	}
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(items); err != nil {
		r.logger.Warn("notifying operators", "items", len(items), "error", err)
	}
}

func (r *Runner) count(source, outcome string, n int) {
	if n > 0 {
		metrics.PostingsTotal.WithLabelValues(source, outcome).Add(float64(n))
	}
}

func observeAttempts(attempts []model.ClassificationAttempt) {
	for _, a := range attempts {
		// A provider that answered but broke the contract still billed tokens.
		result := "ok"
		switch {
		case a.ParseSuccess:
		case a.InputTokens+a.OutputTokens > 0:
			result = "invalid"
		default:
			result = "error"
		}
		metrics.LLMAttempts.WithLabelValues(a.Provider, result, fmt.Sprint(a.FallbackTriggered)).Inc()
		metrics.LLMCost.WithLabelValues(a.Provider).Add(a.Cost)
		metrics.LLMLatency.WithLabelValues(a.Provider).Observe(a.Latency.Seconds())
	}
}
