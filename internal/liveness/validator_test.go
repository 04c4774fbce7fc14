package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobpipe/internal/model"
	"github.com/amishk599/jobpipe/internal/store"
)

type fakeChecker struct {
	mu      sync.Mutex
	results map[string]Outcome
	seen    []string
}

func (f *fakeChecker) Check(_ context.Context, url string) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, url)
	if out, ok := f.results[url]; ok {
		return out
	}
	return Outcome{Status: model.URLActive, HTTPCode: 200}
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func seedRecord(t *testing.T, s *store.MemoryStore, hash string, status model.URLStatus, checkedAt *time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertEmployer(ctx, model.Employer{Name: "acme", DisplayName: "Acme", CreatedAt: now}))
	require.NoError(t, s.Insert(ctx, &model.CanonicalRecord{
		ID:                   hash,
		JobHash:              hash,
		EmployerName:         "acme",
		TitleDisplay:         "Data Engineer",
		CityCode:             "lon",
		ScopeKind:            model.ScopeCity,
		ClassificationStatus: model.ClassificationPending,
		DataSource:           model.SourceATSA,
		DescriptionSource:    model.SourceATSA,
		DescriptionQuality:   model.QualityFull,
		OriginalURL:          "https://jobs.example.com/" + hash,
		PostedDate:           now.AddDate(0, 0, -20),
		LastSeenDate:         now.AddDate(0, 0, -1),
		URLStatus:            status,
		URLCheckedAt:         checkedAt,
		CreatedAt:            now.AddDate(0, 0, -20),
		UpdatedAt:            now.AddDate(0, 0, -1),
	}))
}

func at(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func newTestValidator(s *store.MemoryStore, c URLChecker, limit int) *Validator {
	v := NewValidator(s, c, Options{RecheckAfter: 72 * time.Hour, BatchLimit: limit, Concurrency: 3}, discardLogger())
	v.now = func() time.Time { return now }
	return v
}

func TestRun_TerminalRecordsAreNeverRefetched(t *testing.T) {
	s := store.NewMemoryStore()
	seedRecord(t, s, "stale-active", model.URLActive, at(5*24*time.Hour))
	seedRecord(t, s, "never-checked", model.URLActive, nil)
	seedRecord(t, s, "dead-404", model.URLNotFound, at(30*24*time.Hour))
	seedRecord(t, s, "dead-soft", model.URLSoft404, at(30*24*time.Hour))
	seedRecord(t, s, "fresh", model.URLActive, at(time.Hour))
	seedRecord(t, s, "flaky", model.URLError, at(4*24*time.Hour))

	checker := &fakeChecker{results: map[string]Outcome{
		"https://jobs.example.com/stale-active": {Status: model.URLSoft404, HTTPCode: 200},
		"https://jobs.example.com/flaky":        {Status: model.URLActive, HTTPCode: 200},
	}}
	report, err := newTestValidator(s, checker, 100).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.ElementsMatch(t, []string{
		"https://jobs.example.com/stale-active",
		"https://jobs.example.com/never-checked",
		"https://jobs.example.com/flaky",
	}, checker.seen)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.NewlyClosed)
	assert.Equal(t, 2, report.ByStatus[model.URLActive])

	dead, err := s.GetByHash(context.Background(), "dead-404")
	require.NoError(t, err)
	assert.Equal(t, model.URLNotFound, dead.URLStatus)
	assert.Equal(t, *at(30 * 24 * time.Hour), *dead.URLCheckedAt, "terminal url_checked_at must not move")

	closed, err := s.GetByHash(context.Background(), "stale-active")
	require.NoError(t, err)
	assert.Equal(t, model.URLSoft404, closed.URLStatus)
	assert.Equal(t, now, *closed.URLCheckedAt)
}

func TestRun_OldestFirstUnderBudget(t *testing.T) {
	s := store.NewMemoryStore()
	seedRecord(t, s, "checked-4d", model.URLActive, at(4*24*time.Hour))
	seedRecord(t, s, "checked-9d", model.URLActive, at(9*24*time.Hour))
	seedRecord(t, s, "never", model.URLActive, nil)

	checker := &fakeChecker{}
	report, err := newTestValidator(s, checker, 2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Selected)
	assert.ElementsMatch(t, []string{
		"https://jobs.example.com/never",
		"https://jobs.example.com/checked-9d",
	}, checker.seen)
}

func TestRun_ErrorAndUnverifiableStayOpen(t *testing.T) {
	s := store.NewMemoryStore()
	seedRecord(t, s, "timeout", model.URLActive, nil)
	seedRecord(t, s, "bot-wall", model.URLActive, nil)

	checker := &fakeChecker{results: map[string]Outcome{
		"https://jobs.example.com/timeout":  {Status: model.URLError, Detail: "timeout"},
		"https://jobs.example.com/bot-wall": {Status: model.URLUnverifiable, Escalated: true},
	}}
	report, err := newTestValidator(s, checker, 10).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.NewlyClosed)
	assert.Equal(t, 1, report.Escalated)

	feed, err := s.ActiveFeed(context.Background(), []string{"lon"})
	require.NoError(t, err)
	assert.Len(t, feed, 2, "ambiguous records stay in the feed")
}
