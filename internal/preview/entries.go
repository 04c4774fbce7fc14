// Package preview is the interactive filter preview: it fetches one source,
// runs the gates without writing anything, and lets an operator browse why
// each posting passed or was rejected.
package preview

import (
	"fmt"
	"sort"

	"github.com/amishk599/jobpipe/internal/filter"
	"github.com/amishk599/jobpipe/internal/model"
	"github.com/amishk599/jobpipe/internal/normalize"
)

// Entry is one posting and the chain's verdict on it. JobHash is only set
// for postings that passed, since a hash needs a resolved location scope.
type Entry struct {
	Posting  model.NormalizedPosting
	Decision filter.Decision
	JobHash  string
}

// Summary counts how a preview batch split across the gates.
type Summary struct {
	Fetched   int
	Malformed int
	Passed    int
	Rejected  map[filter.Gate]int
}

func (s Summary) String() string {
	return fmt.Sprintf("fetched=%d malformed=%d passed=%d title=%d location=%d agency=%d",
		s.Fetched, s.Malformed, s.Passed,
		s.Rejected[filter.GateTitle], s.Rejected[filter.GateLocation], s.Rejected[filter.GateAgency])
}

// Build normalizes payloads and evaluates each posting. hash computes the
// job_hash for passing postings; nil leaves JobHash empty.
func Build(payloads []model.Payload, chain *filter.Chain, hash func(model.NormalizedPosting, model.LocationScope) string) ([]Entry, Summary) {
	postings, failures := normalize.Batch(payloads)
	sum := Summary{Fetched: len(payloads), Malformed: len(failures), Rejected: map[filter.Gate]int{}}

	entries := make([]Entry, 0, len(postings))
	for _, p := range postings {
		e := Entry{Posting: p, Decision: chain.Evaluate(p)}
		if e.Decision.Passed {
			sum.Passed++
			if hash != nil {
				e.JobHash = hash(p, e.Decision.Scope)
			}
		} else {
			sum.Rejected[e.Decision.RejectedBy]++
		}
		entries = append(entries, e)
	}
	sortEntriesByDate(entries)
	return entries, sum
}

// Passing returns the entries that cleared every gate.
func Passing(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Decision.Passed {
			out = append(out, e)
		}
	}
	return out
}

func sortEntriesByDate(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Posting.PostedAt, entries[j].Posting.PostedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
}
