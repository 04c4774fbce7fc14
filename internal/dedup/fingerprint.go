// Package dedup decides whether a normalized posting is a new job, a repeat
// sighting, or the same job seen through another source.
package dedup

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	bracketed = regexp.MustCompile(`\(([^)]*)\)|\[([^\]]*)\]`)
	separator = regexp.MustCompile(`\s+[-–—|/]\s+|,\s*`)
)

// Words that may trail a title as a location or arrangement qualifier.
var defaultLocationTokens = []string{
	"remote", "hybrid", "onsite", "on", "site", "office", "in", "based", "first",
	"uk", "us", "usa", "eu", "emea", "europe", "worldwide", "anywhere", "global",
	"united", "kingdom", "states", "or", "and",
}

var seniorityAliases = map[string]string{
	"senior": "senior",
	"sr":     "senior",
	"snr":    "senior",
	"junior": "junior",
	"jr":     "junior",
	"jnr":    "junior",
}

// Gender markers common on European boards: (m/f/d), (w/m/d), (h/f).
var genderMarker = regexp.MustCompile(`^[mfwdhx]( [mfwdhx])+$`)

var legalSuffixes = map[string]bool{
	"ltd": true, "limited": true, "inc": true, "incorporated": true, "llc": true,
	"llp": true, "gmbh": true, "plc": true, "corp": true, "corporation": true,
	"co": true, "sa": true, "ag": true, "bv": true, "sas": true,
}

// Normalizer produces the normalized employer and title that feed the
// fingerprint. It must be built from the same location terms for every
// source, or the same job would hash differently per source.
type Normalizer struct {
	locationTokens map[string]bool
}

// NewNormalizer builds a Normalizer. extraLocationTerms are usually every
// city, region and remote literal across all pattern files.
func NewNormalizer(extraLocationTerms []string) *Normalizer {
	n := &Normalizer{locationTokens: make(map[string]bool)}
	for _, t := range defaultLocationTokens {
		n.locationTokens[t] = true
	}
	for _, term := range extraLocationTerms {
		if strings.HasPrefix(term, "re:") {
			continue
		}
		for _, tok := range strings.Fields(NormalizeText(term)) {
			n.locationTokens[tok] = true
		}
	}
	return n
}

var defaultNormalizer = NewNormalizer(nil)

// NormalizeText lowercases, turns punctuation into spaces, and collapses
// whitespace.
func NormalizeText(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		if r == '&' || r == '+' || r == '#' {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// NormalizeEmployer is NormalizeText plus removal of trailing legal suffixes.
func NormalizeEmployer(name string) string {
	toks := strings.Fields(NormalizeText(name))
	for len(toks) > 1 && legalSuffixes[toks[len(toks)-1]] {
		toks = toks[:len(toks)-1]
	}
	return strings.Join(toks, " ")
}

// Title normalizes a job title. Location and arrangement qualifiers in
// brackets or trailing segments are dropped; a seniority qualifier is kept
// but moved to the front with abbreviations expanded, so "Sr. Data
// Engineer" and "Data Engineer (Senior) - London" normalize alike.
func (n *Normalizer) Title(title string) string {
	var seniority string
	lower := strings.ToLower(title)

	lower = bracketed.ReplaceAllStringFunc(lower, func(group string) string {
		inner := NormalizeText(group)
		switch {
		case inner == "":
			return " "
		case seniorityAliases[inner] != "":
			seniority = seniorityAliases[inner]
			return " "
		case genderMarker.MatchString(inner), n.isLocation(inner):
			return " "
		}
		return " " + inner + " "
	})

	segments := separator.Split(lower, -1)
	for len(segments) > 1 {
		last := NormalizeText(segments[len(segments)-1])
		if s := seniorityAliases[last]; s != "" {
			seniority = s
		} else if last != "" && !n.isLocation(last) {
			break
		}
		segments = segments[:len(segments)-1]
	}

	toks := strings.Fields(NormalizeText(strings.Join(segments, " ")))
	for i, tok := range toks {
		if s := seniorityAliases[tok]; s != "" {
			toks[i] = s
		}
	}
	if seniority != "" && (len(toks) == 0 || toks[0] != seniority) {
		toks = append([]string{seniority}, toks...)
	}
	return strings.Join(toks, " ")
}

func (n *Normalizer) isLocation(text string) bool {
	toks := strings.Fields(text)
	if len(toks) == 0 {
		return false
	}
	for _, tok := range toks {
		if !n.locationTokens[tok] {
			return false
		}
	}
	return true
}

// Fingerprint is the job_hash: sha256 over the normalized employer, the
// normalized title and the city code.
func (n *Normalizer) Fingerprint(employer, title, cityCode string) string {
	key := NormalizeEmployer(employer) + "\n" + n.Title(title) + "\n" + strings.ToLower(strings.TrimSpace(cityCode))
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h[:])
}

// NormalizeTitle normalizes with the default location vocabulary.
func NormalizeTitle(title string) string {
	return defaultNormalizer.Title(title)
}

// Fingerprint computes a job_hash with the default location vocabulary.
func Fingerprint(employer, title, cityCode string) string {
	return defaultNormalizer.Fingerprint(employer, title, cityCode)
}
