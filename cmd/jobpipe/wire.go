package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/amishk599/jobpipe/internal/adapter"
	"github.com/amishk599/jobpipe/internal/ai"
	"github.com/amishk599/jobpipe/internal/config"
	"github.com/amishk599/jobpipe/internal/dedup"
	"github.com/amishk599/jobpipe/internal/filter"
	"github.com/amishk599/jobpipe/internal/liveness"
	"github.com/amishk599/jobpipe/internal/lock"
	"github.com/amishk599/jobpipe/internal/model"
	"github.com/amishk599/jobpipe/internal/notifier"
	"github.com/amishk599/jobpipe/internal/pipeline"
	"github.com/amishk599/jobpipe/internal/ratelimit"
	"github.com/amishk599/jobpipe/internal/retry"
	"github.com/amishk599/jobpipe/internal/store"
)

// app holds the long-lived components a command needs. Close releases them
// in reverse order of construction.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    model.Store
	client   *http.Client
	notifier model.Notifier
	limiter  *ratelimit.SourceRateLimiter
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) (*app, error) {
	st, err := store.Open(ctx, cfg.Store, dryRun)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if dryRun {
		logger.Info("dry-run mode enabled, nothing will be persisted")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		client:  httpClient,
		limiter: ratelimit.NewSourceRateLimiter(cfg.RateLimit.MinDelay, cfg.RateLimit.SourceOverrides),
		closers: []func() error{st.Close},
	}
	if dryRun {
		a.notifier = notifier.NewLogNotifier(logger)
	} else {
		a.notifier = setupNotifier(cfg, httpClient, logger)
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// createFetcher builds the raw adapter for a configured source.
func createFetcher(src config.SourceConfig, httpClient *http.Client) (model.SourceFetcher, error) {
	switch src.Kind {
	case "greenhouse":
		return adapter.NewGreenhouseAdapter(src.BoardToken, src.Company, httpClient), nil
	case "lever":
		return adapter.NewLeverAdapter(src.BoardToken, src.Company, httpClient), nil
	case "adzuna":
		return adapter.NewAdzunaAdapter(src.AppID, src.AppKey, src.Country, src.What, src.Where, httpClient), nil
	}
	return nil, fmt.Errorf("source %s: unsupported kind %q", src.Name, src.Kind)
}

// wrapFetcher rate limits every attempt, including retries.
func (a *app) wrapFetcher(src config.SourceConfig, inner model.SourceFetcher) model.SourceFetcher {
	limited := ratelimit.NewRateLimitedFetcher(inner, a.limiter, src.Kind)
	return retry.NewRetryFetcher(limited, a.cfg.Retry.MaxRetries, a.cfg.Retry.BaseDelay, a.logger)
}

// selectSources returns the enabled sources, or only the named one.
func selectSources(cfg *config.Config, name string) ([]config.SourceConfig, error) {
	if name != "" {
		src, ok := cfg.SourceByName(name)
		if !ok {
			return nil, fmt.Errorf("no source named %q", name)
		}
		return []config.SourceConfig{src}, nil
	}
	var out []config.SourceConfig
	for _, s := range cfg.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

// buildSources resolves fetchers and filter chains.
func (a *app) buildSources(srcs []config.SourceConfig) ([]pipeline.Source, error) {
	var out []pipeline.Source
	for _, sc := range srcs {
		ps, err := a.cfg.PatternsFor(sc)
		if err != nil {
			return nil, err
		}
		chain, err := filter.NewChain(sc.Source(), ps, a.cfg.StrictPatterns, a.logger)
		if err != nil {
			return nil, err
		}
		fetcher, err := createFetcher(sc, a.client)
		if err != nil {
			return nil, err
		}
		out = append(out, pipeline.Source{
			Name:    sc.Name,
			Kind:    sc.Source(),
			Fetcher: a.wrapFetcher(sc, fetcher),
			Chain:   chain,
		})
		a.logger.Info("registered source", "name", sc.Name, "kind", sc.Kind)
	}
	return out, nil
}

// newNormalizer builds the title normalizer from every configured pattern
// file, selected for this run or not, so a posting hashes the same under
// `ingest --source` as under the daemon.
func (a *app) newNormalizer() (*dedup.Normalizer, error) {
	terms, err := a.cfg.LocationVocabulary()
	if err != nil {
		return nil, err
	}
	return dedup.NewNormalizer(terms), nil
}

// buildClassifier returns nil when classification is disabled. The result is
// an interface so that nil stays an untyped nil.
func (a *app) buildClassifier(ctx context.Context) (pipeline.Classifier, error) {
	llm := a.cfg.LLM
	if !llm.Enabled {
		a.logger.Info("llm classification disabled, records stay pending")
		return nil, nil
	}

	primary, err := a.buildBackend(ctx, llm.Primary)
	if err != nil {
		return nil, fmt.Errorf("llm.primary: %w", err)
	}
	var secondary *ai.Backend
	if llm.Secondary != nil {
		b, err := a.buildBackend(ctx, *llm.Secondary)
		if err != nil {
			return nil, fmt.Errorf("llm.secondary: %w", err)
		}
		secondary = &b
	}

	overrides, err := config.LoadSkillOntology(a.cfg.Resolve(a.cfg.Skills))
	if err != nil {
		return nil, err
	}
	ontology, err := ai.NewSkillOntology(overrides)
	if err != nil {
		return nil, err
	}

	a.logger.Info("llm classification enabled",
		"primary", primary.Provider.Name()+"/"+primary.Provider.Model(),
		"secondary", secondary != nil,
		"skills", ontology.Len(),
	)
	return ai.NewClassifier(ai.Options{
		Primary:             primary,
		Secondary:           secondary,
		Limiter:             ratelimit.NewProviderLimiter(llm.RequestsPerSecond, max(1, llm.Concurrency)),
		Ontology:            ontology,
		MaxDescriptionChars: llm.MaxDescriptionChars,
		RetryBackoff:        llm.RetryBackoff,
	}, a.logger), nil
}

func (a *app) buildBackend(ctx context.Context, p config.ProviderConfig) (ai.Backend, error) {
	var provider ai.LLMProvider
	switch p.Kind {
	case "openai":
		provider = ai.NewOpenAIProvider(p.BaseURL, p.APIKey, p.Model, &http.Client{Timeout: p.Timeout})
	case "gemini":
		gp, err := ai.NewGeminiProvider(ctx, p.APIKey, p.Model)
		if err != nil {
			return ai.Backend{}, err
		}
		a.closers = append(a.closers, gp.Close)
		provider = gp
	default:
		return ai.Backend{}, fmt.Errorf("unsupported provider kind %q", p.Kind)
	}
	return ai.Backend{
		Provider: provider,
		Pricing:  ai.Pricing{InputPerMTok: p.InputPricePerMTok, OutputPerMTok: p.OutputPricePerMTok},
		Timeout:  p.Timeout,
	}, nil
}

func (a *app) buildLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Lock.Driver != "redis" {
		return lock.NewKeyedMutex(), nil
	}
	client, err := lock.NewRedisClient(ctx, a.cfg.Lock.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	a.logger.Info("using redis locks", "ttl", a.cfg.Lock.TTL.String())
	return lock.NewRedisLocker(client, a.cfg.Lock.TTL, a.logger), nil
}

// buildRunner wires the dedup engine and classifier into a pipeline runner.
func (a *app) buildRunner(ctx context.Context, classifier pipeline.Classifier) (*pipeline.Runner, error) {
	norm, err := a.newNormalizer()
	if err != nil {
		return nil, err
	}
	locker, err := a.buildLocker(ctx)
	if err != nil {
		return nil, err
	}
	engine := dedup.NewEngine(a.store, locker, norm, a.logger)
	return pipeline.NewRunner(a.store, engine, classifier, a.notifier, pipeline.Options{
		ClassifyConcurrency: a.cfg.LLM.Concurrency,
	}, a.logger), nil
}

// buildPipeline is the full ingest path for the selected sources.
func (a *app) buildPipeline(ctx context.Context, sourceName string) (*pipeline.Runner, []pipeline.Source, error) {
	srcs, err := selectSources(a.cfg, sourceName)
	if err != nil {
		return nil, nil, err
	}
	sources, err := a.buildSources(srcs)
	if err != nil {
		return nil, nil, err
	}
	classifier, err := a.buildClassifier(ctx)
	if err != nil {
		return nil, nil, err
	}
	runner, err := a.buildRunner(ctx, classifier)
	if err != nil {
		return nil, nil, err
	}
	return runner, sources, nil
}

func (a *app) buildValidator() (*liveness.Validator, error) {
	lc := a.cfg.Liveness
	var browser liveness.BrowserFetcher
	if lc.Browser {
		browser = liveness.NewChromeFetcher(lc.BrowserTimeout, lc.UserAgent)
	}
	checker, err := liveness.NewChecker(&http.Client{Timeout: lc.Timeout}, liveness.CheckerOptions{
		UserAgent:       lc.UserAgent,
		Soft404Patterns: lc.Soft404Patterns,
		BlockedPatterns: lc.BlockedPatterns,
		Browser:         browser,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	return liveness.NewValidator(a.store, checker, liveness.Options{
		RecheckAfter: lc.RecheckAfter,
		BatchLimit:   lc.BatchLimit,
		Concurrency:  lc.Concurrency,
	}, a.logger), nil
}
