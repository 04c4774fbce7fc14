package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amishk599/jobpipe/internal/model"
	"github.com/amishk599/jobpipe/internal/ratelimit"
	"github.com/amishk599/jobpipe/internal/retry"
)

// Input is what the classifier sees of a canonical record.
type Input struct {
	JobHash     string
	Title       string
	Employer    string
	Location    string
	Description string
	Quality     model.DescriptionQuality
}

// InputFromRecord builds classifier input from a stored record.
func InputFromRecord(rec *model.CanonicalRecord) Input {
	return Input{
		JobHash:     rec.JobHash,
		Title:       rec.TitleDisplay,
		Employer:    rec.EmployerName,
		Location:    rec.LocationText,
		Description: rec.DescriptionText,
		Quality:     rec.DescriptionQuality,
	}
}

// Outcome is either a Result or a Failure, never both. Attempts lists every
// provider call made on the way, successful or not.
type Outcome struct {
	Result   *model.ClassificationResult
	Attempts []model.ClassificationAttempt
	Failure  *model.ClassificationFailure
}

// OK reports whether a schema-valid result was produced.
func (o Outcome) OK() bool { return o.Result != nil }

// Options configures a Classifier.
type Options struct {
	Primary             Backend
	Secondary           *Backend
	Limiter             *ratelimit.ProviderLimiter
	Ontology            *SkillOntology
	MaxDescriptionChars int
	RetryBackoff        time.Duration
}

// Classifier runs the provider fallback chain for one posting at a time.
// It is safe for concurrent use.
type Classifier struct {
	primary   Backend
	secondary *Backend
	limiter   *ratelimit.ProviderLimiter
	post      *postProcessor
	maxChars  int
	backoff   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewClassifier creates a Classifier.
func NewClassifier(opts Options, logger *slog.Logger) *Classifier {
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewProviderLimiter(2, 1)
	}
	return &Classifier{
		primary:   opts.Primary,
		secondary: opts.Secondary,
		limiter:   opts.Limiter,
		post:      &postProcessor{ontology: opts.Ontology, logger: logger},
		maxChars:  opts.MaxDescriptionChars,
		backoff:   opts.RetryBackoff,
		logger:    logger,
		now:       time.Now,
	}
}

// step is one state of the fallback chain.
type step struct {
	backend  Backend
	simple   bool
	fallback bool
}

// Classify runs primary, one primary retry after backoff, then the
// secondary with the simplified prompt. The returned error is only set
// when ctx ends; provider exhaustion is reported in Outcome.Failure.
func (c *Classifier) Classify(ctx context.Context, in Input) (Outcome, error) {
	var out Outcome

	primary := step{backend: c.primary}
	res, att, err := c.attempt(ctx, in, primary)
	out.Attempts = append(out.Attempts, att)
	if err == nil {
		out.Result = res
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}

	lastErr := err
	if shouldRetry(err) {
		delay := retry.BackoffDelay(c.backoff, 1, err)
		c.logger.Warn("retrying classification on primary",
			"job_hash", in.JobHash,
			"provider", c.primary.Provider.Name(),
			"delay", delay,
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return out, err
		}
		res, att, err = c.attempt(ctx, in, primary)
		out.Attempts = append(out.Attempts, att)
		if err == nil {
			out.Result = res
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		lastErr = err
	}

	if c.secondary != nil {
		c.logger.Warn("falling back to secondary provider",
			"job_hash", in.JobHash,
			"provider", c.secondary.Provider.Name(),
			"error", lastErr,
		)
		res, att, err = c.attempt(ctx, in, step{backend: *c.secondary, simple: true, fallback: true})
		out.Attempts = append(out.Attempts, att)
		if err == nil {
			out.Result = res
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		lastErr = err
	}

	out.Failure = &model.ClassificationFailure{
		JobHash:  in.JobHash,
		Attempts: len(out.Attempts),
		Err:      lastErr,
	}
	return out, nil
}

// attempt makes one provider call and always returns the attempt record.
func (c *Classifier) attempt(ctx context.Context, in Input, s step) (*model.ClassificationResult, model.ClassificationAttempt, error) {
	p := s.backend.Provider
	att := model.ClassificationAttempt{
		JobHash:           in.JobHash,
		Provider:          p.Name(),
		Model:             p.Model(),
		FallbackTriggered: s.fallback,
		At:                c.now(),
	}
	fail := func(err error) (*model.ClassificationResult, model.ClassificationAttempt, error) {
		att.Error = err.Error()
		return nil, att, err
	}

	if err := c.limiter.Wait(ctx, p.Name()); err != nil {
		return fail(err)
	}

	prompt, err := renderPrompt(in, c.maxChars, s.simple)
	if err != nil {
		return fail(err)
	}
	req := Request{System: systemPrompt, Prompt: prompt}
	if !s.simple {
		req.SchemaName = classificationName
		req.Schema = providerSchema()
	}

	callCtx := ctx
	if s.backend.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.backend.Timeout)
		defer cancel()
	}

	start := time.Now()
	comp, err := p.Complete(callCtx, req)
	att.Latency = time.Since(start)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s call timed out after %s: %w", p.Name(), s.backend.Timeout, err)
		}
		return fail(err)
	}

	if comp.Model != "" {
		att.Model = comp.Model
	}
	att.InputTokens = comp.InputTokens
	att.OutputTokens = comp.OutputTokens
	att.Cost = s.backend.Pricing.Cost(comp.InputTokens, comp.OutputTokens)

	raw, err := decodeClassification(comp.Text)
	if err != nil {
		return fail(err)
	}

	res := c.post.apply(in, raw)
	res.Provider = p.Name()
	res.Model = att.Model
	att.ParseSuccess = true
	return res, att, nil
}

// decodeClassification validates text against the schema and decodes it.
// Overlong summaries are clipped first; every other violation fails.
func decodeClassification(text string) (rawClassification, error) {
	text = cleanJSONBlock(text)

	var generic map[string]any
	if err := json.Unmarshal([]byte(text), &generic); err != nil {
		return rawClassification{}, &ParseError{Err: err}
	}
	if summary, ok := generic["summary"].(string); ok {
		generic["summary"] = clipRunes(summary, maxSummaryRunes)
	}
	normalized, err := json.Marshal(generic)
	if err != nil {
		return rawClassification{}, &ParseError{Err: err}
	}

	if err := ValidateClassification(normalized); err != nil {
		return rawClassification{}, err
	}

	var raw rawClassification
	if err := json.Unmarshal(normalized, &raw); err != nil {
		return rawClassification{}, &ParseError{Err: err}
	}
	return raw, nil
}

// shouldRetry covers transport errors, 429/5xx, per-call timeouts and
// responses that broke the output contract.
func shouldRetry(err error) bool {
	var perr *ParseError
	var verr *ValidationError
	if errors.As(err, &perr) || errors.As(err, &verr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return retry.IsRetryable(err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
