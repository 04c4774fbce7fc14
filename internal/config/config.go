package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amishk599/jobpipe/internal/model"
)

// Config is the root configuration for a jobpipe process. It is loaded once
// and passed explicitly into each component constructor.
type Config struct {
	Store          StoreConfig
	Lock           LockConfig
	Sources        []SourceConfig
	Patterns       string // default pattern file, used by sources without their own
	StrictPatterns bool   // contradictory include/exclude literals fail the batch
	Skills         string // optional skill ontology file
	LLM            LLMConfig
	Liveness       LivenessConfig
	RateLimit      RateLimitConfig
	Retry          RetryConfig
	Notification   NotificationConfig
	Metrics        MetricsConfig
	Schedule       ScheduleConfig

	dir string // directory of the config file, used to resolve relative paths
}

// StoreConfig selects the canonical store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// LockConfig selects how writes to the same job_hash are serialized.
type LockConfig struct {
	Driver   string        // "memory" or "redis"
	RedisURL string        // required for redis
	TTL      time.Duration // lease on a redis lock
}

// SourceConfig describes one configured source adapter.
type SourceConfig struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`    // adzuna | greenhouse | lever
	Company    string   `yaml:"company"` // display name for single-employer boards
	BoardToken string   `yaml:"board_token"`
	Country    string   `yaml:"country"` // adzuna country code, e.g. "gb"
	AppID      string   `yaml:"app_id"`
	AppKey     string   `yaml:"app_key"`
	What       []string `yaml:"what"`  // adzuna title queries
	Where      []string `yaml:"where"` // adzuna location queries
	Patterns   string   `yaml:"patterns"`
	Enabled    bool     `yaml:"enabled"`
}

// Source maps the adapter kind onto the source vocabulary.
func (s SourceConfig) Source() model.Source {
	switch s.Kind {
	case "adzuna":
		return model.SourceAggregator
	case "greenhouse":
		return model.SourceATSA
	case "lever":
		return model.SourceATSB
	}
	return ""
}

// ProviderConfig configures one LLM provider.
type ProviderConfig struct {
	Kind               string // "openai" or "gemini"
	BaseURL            string
	Model              string
	APIKey             string
	Timeout            time.Duration
	InputPricePerMTok  float64
	OutputPricePerMTok float64
}

// LLMConfig controls the classification subsystem.
type LLMConfig struct {
	Enabled             bool
	Primary             ProviderConfig
	Secondary           *ProviderConfig
	MaxDescriptionChars int
	RequestsPerSecond   float64
	Concurrency         int
	RetryBackoff        time.Duration
}

// LivenessConfig controls the URL validator.
type LivenessConfig struct {
	RecheckAfter    time.Duration
	Timeout         time.Duration
	Concurrency     int
	BatchLimit      int
	Browser         bool
	BrowserTimeout  time.Duration
	UserAgent       string
	Soft404Patterns []string
	BlockedPatterns []string
}

// RateLimitConfig controls source-level rate limiting.
type RateLimitConfig struct {
	MinDelay        time.Duration            // minimum gap between requests to the same source kind
	SourceOverrides map[string]time.Duration // per-kind overrides
}

// MinDelayFor returns the configured delay for the given source kind, falling back to MinDelay.
func (r RateLimitConfig) MinDelayFor(kind string) time.Duration {
	if d, ok := r.SourceOverrides[kind]; ok {
		return d
	}
	return r.MinDelay
}

// RetryConfig controls source fetch retries.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// NotificationConfig controls which notifier receives operator alerts.
type NotificationConfig struct {
	Type       string `yaml:"type"`        // "log" or "slack"
	WebhookURL string `yaml:"webhook_url"` // required if type is "slack"
}

// MetricsConfig enables the prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// ScheduleConfig holds cron specs for the daemon. Empty specs are not scheduled.
type ScheduleConfig struct {
	Ingest     string `yaml:"ingest"`
	Validate   string `yaml:"validate"`
	Reclassify string `yaml:"reclassify"`
}

const (
	defaultOpenAIBaseURL       = "https://api.openai.com/v1"
	defaultMaxDescriptionChars = 50000
	defaultUserAgent           = "Mozilla/5.0 (compatible; jobpipe/1.0)"
)

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	Store          StoreConfig        `yaml:"store"`
	Lock           rawLockConfig      `yaml:"lock"`
	Sources        []SourceConfig     `yaml:"sources"`
	Patterns       string             `yaml:"patterns"`
	StrictPatterns bool               `yaml:"strict_patterns"`
	Skills         string             `yaml:"skills"`
	LLM            rawLLMConfig       `yaml:"llm"`
	Liveness       rawLivenessConfig  `yaml:"liveness"`
	RateLimit      rawRateLimitConfig `yaml:"rate_limit"`
	Retry          rawRetryConfig     `yaml:"retry"`
	Notification   NotificationConfig `yaml:"notification"`
	Metrics        MetricsConfig      `yaml:"metrics"`
	Schedule       ScheduleConfig     `yaml:"schedule"`
}

type rawLockConfig struct {
	Driver   string `yaml:"driver"`
	RedisURL string `yaml:"redis_url"`
	TTL      string `yaml:"ttl"`
}

type rawProviderConfig struct {
	Kind               string  `yaml:"kind"`
	BaseURL            string  `yaml:"base_url"`
	Model              string  `yaml:"model"`
	APIKey             string  `yaml:"api_key"`
	Timeout            string  `yaml:"timeout"`
	InputPricePerMTok  float64 `yaml:"input_price_per_mtok"`
	OutputPricePerMTok float64 `yaml:"output_price_per_mtok"`
}

type rawLLMConfig struct {
	Enabled             bool               `yaml:"enabled"`
	Primary             rawProviderConfig  `yaml:"primary"`
	Secondary           *rawProviderConfig `yaml:"secondary"`
	MaxDescriptionChars int                `yaml:"max_description_chars"`
	RequestsPerSecond   float64            `yaml:"requests_per_second"`
	Concurrency         int                `yaml:"concurrency"`
	RetryBackoff        string             `yaml:"retry_backoff"`
}

type rawLivenessConfig struct {
	RecheckAfter    string   `yaml:"recheck_after"`
	Timeout         string   `yaml:"timeout"`
	Concurrency     int      `yaml:"concurrency"`
	BatchLimit      int      `yaml:"batch_limit"`
	Browser         bool     `yaml:"browser"`
	BrowserTimeout  string   `yaml:"browser_timeout"`
	UserAgent       string   `yaml:"user_agent"`
	Soft404Patterns []string `yaml:"soft_404_patterns"`
	BlockedPatterns []string `yaml:"blocked_patterns"`
}

type rawRateLimitConfig struct {
	MinDelay        string            `yaml:"min_delay"`
	SourceOverrides map[string]string `yaml:"source_overrides"`
}

type rawRetryConfig struct {
	MaxRetries *int   `yaml:"max_retries"`
	BaseDelay  string `yaml:"base_delay"`
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg, err := fromRaw(raw)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromRaw(raw rawConfig) (*Config, error) {
	var err error
	cfg := &Config{
		Store:          raw.Store,
		Sources:        raw.Sources,
		Patterns:       raw.Patterns,
		StrictPatterns: raw.StrictPatterns,
		Skills:         raw.Skills,
		Notification:   raw.Notification,
		Metrics:        raw.Metrics,
		Schedule:       raw.Schedule,
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		cfg.Store.DSN = "jobpipe.db"
	}

	cfg.Lock = LockConfig{Driver: raw.Lock.Driver, RedisURL: raw.Lock.RedisURL}
	if cfg.Lock.Driver == "" {
		cfg.Lock.Driver = "memory"
	}
	if cfg.Lock.TTL, err = parseDuration("lock.ttl", raw.Lock.TTL, 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.LLM, err = llmFromRaw(raw.LLM); err != nil {
		return nil, err
	}
	if cfg.Liveness, err = livenessFromRaw(raw.Liveness); err != nil {
		return nil, err
	}

	minDelay, err := parseDuration("rate_limit.min_delay", raw.RateLimit.MinDelay, 2*time.Second)
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]time.Duration)
	for kind, v := range raw.RateLimit.SourceOverrides {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse rate_limit.source_overrides[%q]: %w", kind, err)
		}
		overrides[kind] = d
	}
	cfg.RateLimit = RateLimitConfig{MinDelay: minDelay, SourceOverrides: overrides}

	cfg.Retry.MaxRetries = 2
	if raw.Retry.MaxRetries != nil {
		cfg.Retry.MaxRetries = *raw.Retry.MaxRetries
	}
	if cfg.Retry.BaseDelay, err = parseDuration("retry.base_delay", raw.Retry.BaseDelay, 5*time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

func llmFromRaw(raw rawLLMConfig) (LLMConfig, error) {
	primary, err := providerFromRaw("llm.primary", raw.Primary)
	if err != nil {
		return LLMConfig{}, err
	}
	out := LLMConfig{
		Enabled:             raw.Enabled,
		Primary:             primary,
		MaxDescriptionChars: raw.MaxDescriptionChars,
		RequestsPerSecond:   raw.RequestsPerSecond,
		Concurrency:         raw.Concurrency,
	}
	if raw.Secondary != nil {
		secondary, err := providerFromRaw("llm.secondary", *raw.Secondary)
		if err != nil {
			return LLMConfig{}, err
		}
		out.Secondary = &secondary
	}
	if out.MaxDescriptionChars <= 0 {
		out.MaxDescriptionChars = defaultMaxDescriptionChars
	}
	if out.RequestsPerSecond <= 0 {
		out.RequestsPerSecond = 2
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 4
	}
	if out.RetryBackoff, err = parseDuration("llm.retry_backoff", raw.RetryBackoff, 2*time.Second); err != nil {
		return LLMConfig{}, err
	}
	return out, nil
}

func providerFromRaw(field string, raw rawProviderConfig) (ProviderConfig, error) {
	timeout, err := parseDuration(field+".timeout", raw.Timeout, 60*time.Second)
	if err != nil {
		return ProviderConfig{}, err
	}
	p := ProviderConfig{
		Kind:               raw.Kind,
		BaseURL:            raw.BaseURL,
		Model:              raw.Model,
		APIKey:             raw.APIKey,
		Timeout:            timeout,
		InputPricePerMTok:  raw.InputPricePerMTok,
		OutputPricePerMTok: raw.OutputPricePerMTok,
	}
	if p.Kind == "" {
		p.Kind = "openai"
	}
	if p.Kind == "openai" && p.BaseURL == "" {
		p.BaseURL = defaultOpenAIBaseURL
	}
	return p, nil
}

func livenessFromRaw(raw rawLivenessConfig) (LivenessConfig, error) {
	var err error
	out := LivenessConfig{
		Concurrency:     raw.Concurrency,
		BatchLimit:      raw.BatchLimit,
		Browser:         raw.Browser,
		UserAgent:       raw.UserAgent,
		Soft404Patterns: raw.Soft404Patterns,
		BlockedPatterns: raw.BlockedPatterns,
	}
	if out.RecheckAfter, err = parseDuration("liveness.recheck_after", raw.RecheckAfter, 72*time.Hour); err != nil {
		return out, err
	}
	if out.Timeout, err = parseDuration("liveness.timeout", raw.Timeout, 20*time.Second); err != nil {
		return out, err
	}
	if out.BrowserTimeout, err = parseDuration("liveness.browser_timeout", raw.BrowserTimeout, 45*time.Second); err != nil {
		return out, err
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 4
	}
	if out.BatchLimit <= 0 {
		out.BatchLimit = 500
	}
	if out.UserAgent == "" {
		out.UserAgent = defaultUserAgent
	}
	return out, nil
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, value, err)
	}
	return d, nil
}

// Resolve returns path relative to the config file's directory unless it is absolute.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// SourceByName returns the named source config.
func (c *Config) SourceByName(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", cfg.Store.Driver)
	}
	if cfg.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}

	switch cfg.Lock.Driver {
	case "memory":
	case "redis":
		if cfg.Lock.RedisURL == "" {
			return fmt.Errorf("lock.redis_url is required when lock.driver is \"redis\"")
		}
	default:
		return fmt.Errorf("lock.driver must be memory or redis, got %q", cfg.Lock.Driver)
	}

	enabled := 0
	names := make(map[string]bool)
	for _, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources: every source needs a name")
		}
		if names[s.Name] {
			return fmt.Errorf("sources: duplicate name %q", s.Name)
		}
		names[s.Name] = true
		if s.Source() == "" {
			return fmt.Errorf("sources[%s]: unknown kind %q (want adzuna, greenhouse or lever)", s.Name, s.Kind)
		}
		if s.Kind != "adzuna" && s.BoardToken == "" {
			return fmt.Errorf("sources[%s]: board_token is required for %s", s.Name, s.Kind)
		}
		if s.Patterns == "" && cfg.Patterns == "" {
			return fmt.Errorf("sources[%s]: no pattern file (set sources[].patterns or patterns)", s.Name)
		}
		if s.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one source must be enabled")
	}

	if cfg.Notification.Type == "slack" {
		if cfg.Notification.WebhookURL == "" {
			return fmt.Errorf("notification.webhook_url is required when type is \"slack\"")
		}
		if !strings.HasPrefix(cfg.Notification.WebhookURL, "https://hooks.slack.com/") {
			return fmt.Errorf("notification.webhook_url must start with https://hooks.slack.com/")
		}
	}

	if cfg.LLM.Enabled {
		if err := validateProvider("llm.primary", cfg.LLM.Primary); err != nil {
			return err
		}
		if cfg.LLM.Secondary != nil {
			if err := validateProvider("llm.secondary", *cfg.LLM.Secondary); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateProvider(field string, p ProviderConfig) error {
	switch p.Kind {
	case "openai", "gemini":
	default:
		return fmt.Errorf("%s.kind must be openai or gemini, got %q", field, p.Kind)
	}
	if p.APIKey == "" {
		return fmt.Errorf("%s.api_key is required when llm.enabled is true", field)
	}
	if p.Model == "" {
		return fmt.Errorf("%s.model is required when llm.enabled is true", field)
	}
	return nil
}
