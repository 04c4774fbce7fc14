package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/amishk599/jobpipe/internal/model"
)

// PatternSet is the opaque pattern configuration the filters consume for one source.
type PatternSet struct {
	Title    TitlePatterns    `yaml:"title"`
	Location LocationPatterns `yaml:"location"`
	Agency   AgencyPatterns   `yaml:"agency"`
}

// TitlePatterns are case-insensitive substrings; a "re:" prefix marks a regex.
type TitlePatterns struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// LocationPatterns map location text onto tracked cities, regions, or remote.
type LocationPatterns struct {
	Cities  map[string][]string       `yaml:"cities"`
	Regions map[string]RegionPatterns `yaml:"regions"`
	Remote  []string                  `yaml:"remote"`
}

// RegionPatterns is a country- or region-wide scope and the city codes inside it.
type RegionPatterns struct {
	Patterns []string `yaml:"patterns"`
	Cities   []string `yaml:"cities"`
}

// AgencyPatterns is the hard recruitment-agency blocklist.
type AgencyPatterns struct {
	Exact    []string `yaml:"exact"`
	Keywords []string `yaml:"keywords"`
}

// LoadPatterns reads a pattern file. A missing file is a filter configuration
// error rather than an empty pattern set.
func LoadPatterns(path string) (*PatternSet, error) {
	if path == "" {
		return nil, &model.FilterConfigurationError{Reason: "no pattern file configured"}
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &model.FilterConfigurationError{Reason: fmt.Sprintf("pattern file %s not found", path), Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("read patterns %s: %w", path, err)
	}

	var ps PatternSet
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, &model.FilterConfigurationError{Reason: fmt.Sprintf("parse pattern file %s", path), Err: err}
	}
	if len(ps.Title.Include) == 0 {
		return nil, &model.FilterConfigurationError{Reason: fmt.Sprintf("%s: title.include is empty", path)}
	}
	if len(ps.Location.Cities) == 0 && len(ps.Location.Regions) == 0 && len(ps.Location.Remote) == 0 {
		return nil, &model.FilterConfigurationError{Reason: fmt.Sprintf("%s: location has no cities, regions or remote patterns", path)}
	}
	return &ps, nil
}

// PatternsFor loads the pattern file for a source, falling back to the default file.
func (c *Config) PatternsFor(src SourceConfig) (*PatternSet, error) {
	path := src.Patterns
	if path == "" {
		path = c.Patterns
	}
	ps, err := LoadPatterns(c.Resolve(path))
	if err != nil {
		var fce *model.FilterConfigurationError
		if errors.As(err, &fce) {
			fce.Source = src.Source()
		}
		return nil, err
	}
	return ps, nil
}

// LoadSkillOntology reads a skills file mapping skill name to family code.
// An empty path returns an empty map so the embedded defaults apply.
func LoadSkillOntology(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skills %s: %w", path, err)
	}
	var raw struct {
		Skills map[string]string `yaml:"skills"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse skills %s: %w", path, err)
	}
	if raw.Skills == nil {
		raw.Skills = map[string]string{}
	}
	return raw.Skills, nil
}

// LocationTerms lists every city, region and remote pattern. The dedup
// normalizer strips these from titles.
func (ps *PatternSet) LocationTerms() []string {
	var terms []string
	for _, pats := range ps.Location.Cities {
		terms = append(terms, pats...)
	}
	for _, region := range ps.Location.Regions {
		terms = append(terms, region.Patterns...)
	}
	return append(terms, ps.Location.Remote...)
}

// LocationVocabulary unions LocationTerms over the default pattern file and
// every source's own file, enabled or not. job_hash depends on this list, so
// it must not vary with which sources a run selects.
func (c *Config) LocationVocabulary() ([]string, error) {
	paths := []string{c.Patterns}
	for _, s := range c.Sources {
		paths = append(paths, s.Patterns)
	}
	seen := make(map[string]bool)
	var terms []string
	for _, path := range paths {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		ps, err := LoadPatterns(c.Resolve(path))
		if err != nil {
			return nil, err
		}
		terms = append(terms, ps.LocationTerms()...)
	}
	return terms, nil
}
