package filter

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/amishk599/jobpipe/internal/config"
	"github.com/amishk599/jobpipe/internal/model"
)

// RemoteCode is the scope code for postings open to remote work.
const RemoteCode = "remote"

type scopePatterns struct {
	code     string
	patterns []pattern
}

// LocationFilter maps location text onto a tracked city, region or remote.
// Literals match on word boundaries so "uk" does not match "ukraine".
type LocationFilter struct {
	cities        []scopePatterns
	regions       []scopePatterns
	remote        []pattern
	regionsByCity map[string][]string
}

// NewLocationFilter compiles the location patterns.
func NewLocationFilter(lp config.LocationPatterns) (*LocationFilter, error) {
	if len(lp.Cities) == 0 && len(lp.Regions) == 0 && len(lp.Remote) == 0 {
		return nil, &model.FilterConfigurationError{Reason: "location has no cities, regions or remote patterns"}
	}
	f := &LocationFilter{regionsByCity: make(map[string][]string)}

	for _, code := range sortedKeys(lp.Cities) {
		ps, err := compile("location.cities."+code, lp.Cities[code])
		if err != nil {
			return nil, &model.FilterConfigurationError{Reason: "location patterns", Err: err}
		}
		f.cities = append(f.cities, scopePatterns{code: code, patterns: ps})
	}
	for _, code := range sortedKeys(lp.Regions) {
		rp := lp.Regions[code]
		ps, err := compile("location.regions."+code, rp.Patterns)
		if err != nil {
			return nil, &model.FilterConfigurationError{Reason: "location patterns", Err: err}
		}
		f.regions = append(f.regions, scopePatterns{code: code, patterns: ps})
		for _, city := range rp.Cities {
			if _, ok := lp.Cities[city]; !ok {
				return nil, &model.FilterConfigurationError{
					Reason: fmt.Sprintf("region %q lists unknown city %q", code, city),
				}
			}
			f.regionsByCity[city] = append(f.regionsByCity[city], code)
		}
	}
	remote, err := compile("location.remote", lp.Remote)
	if err != nil {
		return nil, &model.FilterConfigurationError{Reason: "location patterns", Err: err}
	}
	f.remote = remote
	return f, nil
}

// Resolve returns the most specific tracked scope for the location text:
// a city beats a region, a region beats remote. Among cities, the one named
// earliest in the text wins.
func (f *LocationFilter) Resolve(location string) (model.LocationScope, bool) {
	text := " " + foldLocation(location) + " "
	if code, ok := earliest(f.cities, text); ok {
		return model.LocationScope{Kind: model.ScopeCity, Code: code}, true
	}
	if code, ok := earliest(f.regions, text); ok {
		return model.LocationScope{Kind: model.ScopeRegion, Code: code}, true
	}
	for _, p := range f.remote {
		if matchWord(p, text) >= 0 {
			return model.LocationScope{Kind: model.ScopeRemote, Code: RemoteCode}, true
		}
	}
	return model.LocationScope{}, false
}

// InclusiveCodes returns every scope code whose postings belong in a view of
// the given city: the city itself, each region containing it, and remote.
func (f *LocationFilter) InclusiveCodes(cityCode string) []string {
	codes := []string{cityCode}
	codes = append(codes, f.regionsByCity[cityCode]...)
	return append(codes, RemoteCode)
}

func earliest(scopes []scopePatterns, text string) (string, bool) {
	best, bestPos := "", -1
	for _, sp := range scopes {
		for _, p := range sp.patterns {
			pos := matchWord(p, text)
			if pos >= 0 && (bestPos < 0 || pos < bestPos) {
				best, bestPos = sp.code, pos
			}
		}
	}
	return best, bestPos >= 0
}

// matchWord returns the position of p in the padded, folded text, or -1.
func matchWord(p pattern, text string) int {
	if p.re != nil {
		loc := p.re.FindStringIndex(text)
		if loc == nil {
			return -1
		}
		return loc[0]
	}
	return strings.Index(text, " "+foldLocation(p.literal)+" ")
}

// foldLocation lowercases and turns punctuation into single spaces.
func foldLocation(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
