package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amishk599/jobpipe/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validPatterns = `
title:
  include: ["data engineer", "product manager"]
  exclude: ["intern"]
location:
  cities:
    lon: ["london"]
  regions:
    uk:
      patterns: ["united kingdom", "uk"]
      cities: [lon]
  remote: ["remote"]
agency:
  exact: ["hays"]
  keywords: ["recruitment"]
`

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "patterns.yaml", validPatterns)
	path := writeFile(t, dir, "config.yaml", `
patterns: patterns.yaml
sources:
  - name: acme-board
    kind: greenhouse
    company: Acme
    board_token: acme
    enabled: true
  - name: adzuna-gb
    kind: adzuna
    country: gb
    what: ["data engineer"]
    where: ["london"]
    enabled: true
llm:
  enabled: true
  primary:
    model: gpt-4o-mini
    api_key: sk-test
    timeout: 10s
  secondary:
    kind: gemini
    model: gemini-1.5-flash
    api_key: g-test
liveness:
  recheck_after: 48h
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "jobpipe.db" {
		t.Errorf("Store = %+v, want sqlite defaults", cfg.Store)
	}
	if len(cfg.Sources) != 2 || cfg.Sources[0].Source() != model.SourceATSA || cfg.Sources[1].Source() != model.SourceAggregator {
		t.Errorf("Sources = %+v", cfg.Sources)
	}
	if cfg.LLM.Primary.BaseURL != defaultOpenAIBaseURL {
		t.Errorf("Primary.BaseURL = %q, want default", cfg.LLM.Primary.BaseURL)
	}
	if cfg.LLM.Primary.Timeout != 10*time.Second {
		t.Errorf("Primary.Timeout = %v, want 10s", cfg.LLM.Primary.Timeout)
	}
	if cfg.LLM.Secondary == nil || cfg.LLM.Secondary.Kind != "gemini" {
		t.Errorf("Secondary = %+v, want gemini", cfg.LLM.Secondary)
	}
	if cfg.LLM.MaxDescriptionChars != 50000 {
		t.Errorf("MaxDescriptionChars = %d, want 50000", cfg.LLM.MaxDescriptionChars)
	}
	if cfg.Liveness.RecheckAfter != 48*time.Hour {
		t.Errorf("RecheckAfter = %v, want 48h", cfg.Liveness.RecheckAfter)
	}
	if cfg.Retry.MaxRetries != 2 {
		t.Errorf("Retry.MaxRetries = %d, want 2", cfg.Retry.MaxRetries)
	}

	ps, err := cfg.PatternsFor(cfg.Sources[0])
	if err != nil {
		t.Fatalf("PatternsFor: %v", err)
	}
	if len(ps.Title.Include) != 2 || ps.Location.Regions["uk"].Cities[0] != "lon" {
		t.Errorf("patterns = %+v", ps)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("Load: expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "sources: [broken")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load: expected error for invalid YAML")
	}
}

func TestLoad_NoEnabledSources(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
patterns: p.yaml
sources:
  - name: acme
    kind: lever
    board_token: acme
    enabled: false
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load: expected validation error when no source is enabled")
	}
}

func TestLoad_UnknownSourceKind(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
patterns: p.yaml
sources:
  - name: acme
    kind: workday
    board_token: acme
    enabled: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for unknown source kind")
	}
}

func TestLoad_RedisLockNeedsURL(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
patterns: p.yaml
lock:
  driver: redis
sources:
  - name: acme
    kind: lever
    board_token: acme
    enabled: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for redis lock without redis_url")
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("JOBPIPE_TEST_KEY", "sk-from-env")
	path := writeFile(t, t.TempDir(), "config.yaml", `
patterns: p.yaml
sources:
  - name: acme
    kind: lever
    board_token: acme
    enabled: true
llm:
  enabled: true
  primary:
    model: gpt-4o-mini
    api_key: ${JOBPIPE_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Primary.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want sk-from-env", cfg.LLM.Primary.APIKey)
	}
}

func TestLoadPatterns_MissingFileIsConfigurationError(t *testing.T) {
	_, err := LoadPatterns(filepath.Join(t.TempDir(), "missing.yaml"))
	var fce *model.FilterConfigurationError
	if !errors.As(err, &fce) {
		t.Fatalf("err = %v, want FilterConfigurationError", err)
	}
}

func TestLoadPatterns_EmptyIncludeIsConfigurationError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "p.yaml", `
title:
  exclude: ["intern"]
location:
  remote: ["remote"]
`)
	_, err := LoadPatterns(path)
	var fce *model.FilterConfigurationError
	if !errors.As(err, &fce) {
		t.Fatalf("err = %v, want FilterConfigurationError", err)
	}
}

func TestPatternsFor_TagsSource(t *testing.T) {
	cfg := &Config{Patterns: filepath.Join(t.TempDir(), "nope.yaml")}
	_, err := cfg.PatternsFor(SourceConfig{Name: "x", Kind: "lever"})
	var fce *model.FilterConfigurationError
	if !errors.As(err, &fce) {
		t.Fatalf("err = %v, want FilterConfigurationError", err)
	}
	if fce.Source != model.SourceATSB {
		t.Errorf("Source = %q, want ats-b", fce.Source)
	}
}

func TestLoadSkillOntology(t *testing.T) {
	path := writeFile(t, t.TempDir(), "skills.yaml", `
skills:
  python: prog
  dbt: data_eng
`)
	m, err := LoadSkillOntology(path)
	if err != nil {
		t.Fatalf("LoadSkillOntology: %v", err)
	}
	if m["dbt"] != "data_eng" || len(m) != 2 {
		t.Errorf("ontology = %v", m)
	}

	empty, err := LoadSkillOntology("")
	if err != nil || len(empty) != 0 {
		t.Errorf("empty path = %v, %v", empty, err)
	}
}

func TestPatternSet_LocationTerms(t *testing.T) {
	path := writeFile(t, t.TempDir(), "p.yaml", validPatterns)
	ps, err := LoadPatterns(path)
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	terms := ps.LocationTerms()
	want := map[string]bool{"london": true, "united kingdom": true, "uk": true, "remote": true}
	if len(terms) != len(want) {
		t.Fatalf("terms = %v", terms)
	}
	for _, term := range terms {
		if !want[term] {
			t.Errorf("unexpected term %q", term)
		}
	}
}

const bavariaPatterns = `
title:
  include: ["data engineer"]
location:
  cities:
    muc: ["munich"]
  regions:
    de:
      patterns: ["bavaria"]
      cities: [muc]
`

func TestLocationVocabulary_IncludesDisabledSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "patterns.yaml", validPatterns)
	writeFile(t, dir, "de.yaml", bavariaPatterns)
	path := writeFile(t, dir, "config.yaml", `
patterns: patterns.yaml
sources:
  - name: acme
    kind: lever
    board_token: acme
    enabled: true
  - name: de-board
    kind: greenhouse
    board_token: de
    patterns: de.yaml
    enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	terms, err := cfg.LocationVocabulary()
	if err != nil {
		t.Fatalf("LocationVocabulary: %v", err)
	}
	have := make(map[string]bool)
	for _, term := range terms {
		have[term] = true
	}
	for _, want := range []string{"london", "remote", "munich", "bavaria"} {
		if !have[want] {
			t.Errorf("vocabulary missing %q: %v", want, terms)
		}
	}
}
