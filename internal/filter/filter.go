// Package filter holds the pre-classification gates. Each gate is pure
// pattern matching; the chain evaluates them cheapest first and stops at the
// first rejection.
package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/amishk599/jobpipe/internal/config"
	"github.com/amishk599/jobpipe/internal/model"
)

// Gate names the filter that rejected a posting.
type Gate string

const (
	GateTitle    Gate = "title"
	GateLocation Gate = "location"
	GateAgency   Gate = "agency"
)

// Decision is the chain's verdict for one posting. Scope is only set when
// the posting passed.
type Decision struct {
	Passed     bool
	RejectedBy Gate
	Reason     string
	Scope      model.LocationScope
}

// pattern is a case-insensitive literal or, with a "re:" prefix, a regex.
type pattern struct {
	raw     string
	literal string
	re      *regexp.Regexp
}

func compile(field string, raws []string) ([]pattern, error) {
	out := make([]pattern, 0, len(raws))
	for _, raw := range raws {
		if expr, ok := strings.CutPrefix(raw, "re:"); ok {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid regex %q: %w", field, expr, err)
			}
			out = append(out, pattern{raw: raw, re: re})
			continue
		}
		lit := strings.ToLower(strings.TrimSpace(raw))
		if lit == "" {
			continue
		}
		out = append(out, pattern{raw: raw, literal: lit})
	}
	return out, nil
}

// matchSubstring reports whether p occurs anywhere in lower.
func (p pattern) matchSubstring(lower string) bool {
	if p.re != nil {
		return p.re.MatchString(lower)
	}
	return strings.Contains(lower, p.literal)
}

func firstMatch(patterns []pattern, lower string) (pattern, bool) {
	for _, p := range patterns {
		if p.matchSubstring(lower) {
			return p, true
		}
	}
	return pattern{}, false
}

// TitleFilter rejects titles that match any exclude pattern or no include pattern.
type TitleFilter struct {
	include []pattern
	exclude []pattern
}

// NewTitleFilter compiles the title patterns. A literal present in both lists
// is contradictory: it is logged and exclude wins, or with strict set it is a
// configuration error.
func NewTitleFilter(tp config.TitlePatterns, strict bool, logger *slog.Logger) (*TitleFilter, error) {
	if len(tp.Include) == 0 {
		return nil, &model.FilterConfigurationError{Reason: "title.include is empty"}
	}
	include, err := compile("title.include", tp.Include)
	if err != nil {
		return nil, &model.FilterConfigurationError{Reason: "title patterns", Err: err}
	}
	exclude, err := compile("title.exclude", tp.Exclude)
	if err != nil {
		return nil, &model.FilterConfigurationError{Reason: "title patterns", Err: err}
	}

	for _, c := range contradictions(include, exclude) {
		if strict {
			return nil, &model.FilterConfigurationError{
				Reason: fmt.Sprintf("title pattern %q is in both include and exclude", c),
			}
		}
		logger.Warn("contradictory title pattern, exclude wins", "pattern", c)
	}
	return &TitleFilter{include: include, exclude: exclude}, nil
}

func contradictions(include, exclude []pattern) []string {
	ex := make(map[string]bool, len(exclude))
	for _, p := range exclude {
		if p.re == nil {
			ex[p.literal] = true
		} else {
			ex[p.raw] = true
		}
	}
	var out []string
	for _, p := range include {
		key := p.literal
		if p.re != nil {
			key = p.raw
		}
		if ex[key] {
			out = append(out, key)
		}
	}
	return out
}

// Match reports whether the title passes, and a reason when it does not.
func (f *TitleFilter) Match(title string) (bool, string) {
	lower := strings.ToLower(title)
	if p, ok := firstMatch(f.exclude, lower); ok {
		return false, fmt.Sprintf("title matches exclude pattern %q", p.raw)
	}
	if _, ok := firstMatch(f.include, lower); !ok {
		return false, "title matches no include pattern"
	}
	return true, ""
}

// Chain evaluates title, then location, then agency.
type Chain struct {
	source   model.Source
	title    *TitleFilter
	location *LocationFilter
	agency   *AgencyFilter
}

// NewChain builds all three gates from one source's pattern set. Any
// problem with the patterns is a *model.FilterConfigurationError tagged with
// the source.
func NewChain(src model.Source, ps *config.PatternSet, strict bool, logger *slog.Logger) (*Chain, error) {
	if ps == nil {
		return nil, &model.FilterConfigurationError{Source: src, Reason: "no pattern set"}
	}
	title, err := NewTitleFilter(ps.Title, strict, logger.With("source", src))
	if err != nil {
		return nil, tagSource(err, src)
	}
	location, err := NewLocationFilter(ps.Location)
	if err != nil {
		return nil, tagSource(err, src)
	}
	agency, err := NewAgencyFilter(ps.Agency)
	if err != nil {
		return nil, tagSource(err, src)
	}
	return &Chain{source: src, title: title, location: location, agency: agency}, nil
}

func tagSource(err error, src model.Source) error {
	var fce *model.FilterConfigurationError
	if errors.As(err, &fce) && fce.Source == "" {
		fce.Source = src
	}
	return err
}

// Evaluate runs the gates in order and stops at the first rejection.
func (c *Chain) Evaluate(p model.NormalizedPosting) Decision {
	if ok, reason := c.title.Match(p.Title); !ok {
		return Decision{RejectedBy: GateTitle, Reason: reason}
	}
	scope, ok := c.location.Resolve(p.LocationText)
	if !ok {
		return Decision{RejectedBy: GateLocation, Reason: fmt.Sprintf("location %q is not tracked", p.LocationText)}
	}
	if blocked, reason := c.agency.Match(p.CompanyName); blocked {
		return Decision{RejectedBy: GateAgency, Reason: reason}
	}
	return Decision{Passed: true, Scope: scope}
}

// Locations exposes the location gate for feed scope expansion.
func (c *Chain) Locations() *LocationFilter {
	return c.location
}
