package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/amishk599/jobpipe/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stores runs fn against every implementation that shares the contract.
func stores(t *testing.T, fn func(t *testing.T, s model.Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(hash, employer string) *model.CanonicalRecord {
	id := "ext-" + hash
	return &model.CanonicalRecord{
		ID:                   "id-" + hash,
		JobHash:              hash,
		EmployerName:         employer,
		TitleDisplay:         "Senior Data Engineer",
		CityCode:             "lon",
		ScopeKind:            model.ScopeCity,
		LocationText:         "London",
		ClassificationStatus: model.ClassificationPending,
		DataSource:           model.SourceAggregator,
		SourceJobID:          &id,
		DescriptionSource:    model.SourceAggregator,
		DescriptionQuality:   model.QualityTruncated,
		DescriptionText:      "excerpt",
		OriginalURL:          "https://example.com/" + hash,
		PostedDate:           base,
		LastSeenDate:         base,
		URLStatus:            model.URLActive,
		CreatedAt:            base,
		UpdatedAt:            base,
	}
}

func seed(t *testing.T, s model.Store, recs ...*model.CanonicalRecord) {
	t.Helper()
	ctx := context.Background()
	for _, r := range recs {
		if err := s.UpsertEmployer(ctx, model.Employer{Name: r.EmployerName, DisplayName: r.EmployerName, CreatedAt: base}); err != nil {
			t.Fatalf("UpsertEmployer: %v", err)
		}
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("Insert %s: %v", r.JobHash, err)
		}
	}
}

func TestInsertThenGet(t *testing.T) {
	stores(t, func(t *testing.T, s model.Store) {
		rec := record("h1", "acme")
		rec.Classification = &model.ClassificationResult{JobFamily: "data", Seniority: "senior"}
		seed(t, s, rec)

		got, err := s.GetByHash(context.Background(), "h1")
		if err != nil {
			t.Fatalf("GetByHash: %v", err)
		}
		if got.EmployerName != "acme" || got.SourceJobID == nil || *got.SourceJobID != "ext-h1" {
			t.Errorf("record = %+v", got)
		}
		if got.Classification == nil || got.Classification.JobFamily != "data" {
			t.Errorf("Classification = %+v", got.Classification)
		}
		if !got.PostedDate.Equal(base) || got.URLCheckedAt != nil {
			t.Errorf("times: posted %v checked %v", got.PostedDate, got.URLCheckedAt)
		}
	})
}

func TestGetByHashUnknownIsNotFound(t *testing.T) {
	stores(t, func(t *testing.T, s model.Store) {
		_, err := s.GetByHash(context.Background(), "missing")
		if !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestInsertDuplicateHash(t *testing.T) {
	stores(t, func(t *testing.T, s model.Store) {
		seed(t, s, record("h1", "acme"))
		dup := record("h1", "acme")
		dup.ID = "another-id"
		err := s.Insert(context.Background(), dup)
		if !errors.Is(err, model.ErrDuplicateHash) {
			t.Fatalf("err = %v, want ErrDuplicateHash", err)
		}
	})
}

func TestInsertWithoutEmployerIsRejected(t *testing.T) {
	stores(t, func(t *testing.T, s model.Store) {
		err := s.Insert(context.Background(), record("h1", "ghost"))
		if !errors.Is(err, model.ErrEmployerMissing) {
			t.Fatalf("err = %v, want ErrEmployerMissing", err)
		}
	})
}

func TestUpdateKeepsPostedDate(t *testing.T) {
	stores(t, func(t *testing.T, s model.Store) {
		seed(t, s, record("h1", "acme"))
		ctx := context.Background()

		rec, _ := s.GetByHash(ctx, "h1")
		rec.PostedDate = base.Add(72 * time.Hour)
		rec.LastSeenDate = base.Add(48 * time.Hour)
		rec.Deduplicated = true
		src := model.SourceATSA
		rec.MergedFromSource = &src
		if err := s.Update(ctx, rec); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := s.GetByHash(ctx, "h1")
		if !got.PostedDate.Equal(base) {
			t.Errorf("PostedDate changed to %v", got.PostedDate)
		}
		if !got.LastSeenDate.Equal(base.Add(48*time.Hour)) || !got.Deduplicated {
			t.Errorf("record = %+v", got)
		}
		if got.MergedFromSource == nil || *got.MergedFromSource != model.SourceATSA {
			t.Errorf("MergedFromSource = %v", got.MergedFromSource)
		}
	})
}

func TestUpdateLeavesClassificationToSave(t *testing.T) {
	stores(t, func(t *testing.T, s model.Store) {
		seed(t, s, record("h1", "acme"))
		ctx := context.Background()

		stale, _ := s.GetByHash(ctx, "h1")
		result := &model.ClassificationResult{JobFamily: "data", Seniority: "senior", Provider: "fake", Model: "fake-1"}
		if err := s.SaveClassification(ctx, "h1", model.ClassificationClassified, result); err != nil {
			t.Fatalf("SaveClassification: %v", err)
		}

		// Same text: the save made after the read survives.
		stale.LastSeenDate = base.Add(time.Hour)
		if err := s.Update(ctx, stale); err != nil {
			t.Fatalf("Update: %v", err)
		}
		got, _ := s.GetByHash(ctx, "h1")
		if got.ClassificationStatus != model.ClassificationClassified || got.Classification == nil || got.Classification.Seniority != "senior" {
			t.Errorf("after refresh: status %s classification %+v", got.ClassificationStatus, got.Classification)
		}

		// New text: the record goes back to pending and keeps the old result until reclassified.
		stale.DescriptionText = "A longer description with Python and SQL."
		if err := s.Update(ctx, stale); err != nil {
			t.Fatalf("Update: %v", err)
		}
		got, _ = s.GetByHash(ctx, "h1")
		if got.ClassificationStatus != model.ClassificationPending || got.Classification == nil {
			t.Errorf("after new text: status %s classification %+v", got.ClassificationStatus, got.Classification)
		}
	})
}

func TestDueForURLCheckOrderingAndTerminality(t *testing.T) {
	stores(t, func(t *testing.T, s model.Store) {
		ctx := context.Background()
		never := record("never", "acme")
		old := record("old", "acme")
		recent := record("recent", "acme")
		dead := record("dead", "acme")
		older := record("older", "acme")
		seed(t, s, never, old, recent, dead, older)

		mustStatus(t, s, "old", model.URLActive, base.Add(-5*24*time.Hour))
		mustStatus(t, s, "older", model.URLError, base.Add(-9*24*time.Hour))
		mustStatus(t, s, "recent", model.URLActive, base.Add(-time.Hour))
		mustStatus(t, s, "dead", model.URLNotFound, base.Add(-30*24*time.Hour))

		due, err := s.DueForURLCheck(ctx, base.Add(-3*24*time.Hour), 10)
		if err != nil {
			t.Fatalf("DueForURLCheck: %v", err)
		}
		var got []string
		for _, r := range due {
			got = append(got, r.JobHash)
		}
		want := []string{"never", "older", "old"}
		if len(got) != len(want) {
			t.Fatalf("due = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("due = %v, want %v", got, want)
			}
		}

		limited, _ := s.DueForURLCheck(ctx, base.Add(-3*24*time.Hour), 1)
		if len(limited) != 1 || limited[0].JobHash != "never" {
			t.Errorf("limited = %v", limited)
		}

		err = s.UpdateURLStatus(ctx, "dead", model.URLActive, base)
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("terminal update err = %v, want ErrNotFound", err)
		}
		deadRec, _ := s.GetByHash(ctx, "dead")
		if deadRec.URLStatus != model.URLNotFound || !deadRec.URLCheckedAt.Equal(base.Add(-30*24*time.Hour)) {
			t.Errorf("terminal record changed: %+v", deadRec)
		}
	})
}

func mustStatus(t *testing.T, s model.Store, hash string, status model.URLStatus, at time.Time) {
	t.Helper()
	if err := s.UpdateURLStatus(context.Background(), hash, status, at); err != nil {
		t.Fatalf("UpdateURLStatus %s: %v", hash, err)
	}
}

func TestActiveFeedExcludesTerminalAndFiltersScope(t *testing.T) {
	stores(t, func(t *testing.T, s model.Store) {
		ctx := context.Background()
		lon := record("lon", "acme")
		uk := record("uk", "acme")
		uk.CityCode, uk.ScopeKind = "uk", model.ScopeRegion
		remote := record("remote", "acme")
		remote.CityCode, remote.ScopeKind = "remote", model.ScopeRemote
		man := record("man", "acme")
		man.CityCode = "man"
		soft := record("soft", "acme")
		blocked := record("blocked", "acme")
		seed(t, s, lon, uk, remote, man, soft, blocked)
		mustStatus(t, s, "soft", model.URLSoft404, base)
		mustStatus(t, s, "blocked", model.URLUnverifiable, base)

		feed, err := s.ActiveFeed(ctx, []string{"lon", "uk", "remote"})
		if err != nil {
			t.Fatalf("ActiveFeed: %v", err)
		}
		got := map[string]bool{}
		for _, r := range feed {
			got[r.JobHash] = true
		}
		for _, want := range []string{"lon", "uk", "remote", "blocked"} {
			if !got[want] {
				t.Errorf("feed missing %s", want)
			}
		}
		if got["soft"] || got["man"] {
			t.Errorf("feed = %v, should exclude soft_404 and other cities", got)
		}

		all, _ := s.ActiveFeed(ctx, nil)
		if len(all) != 5 {
			t.Errorf("unscoped feed len = %d, want 5", len(all))
		}
	})
}

func TestClassificationAndAttempts(t *testing.T) {
	stores(t, func(t *testing.T, s model.Store) {
		ctx := context.Background()
		seed(t, s, record("h1", "acme"), record("h2", "acme"))

		result := &model.ClassificationResult{JobFamily: "data", Provider: "openai"}
		if err := s.SaveClassification(ctx, "h1", model.ClassificationClassified, result); err != nil {
			t.Fatalf("SaveClassification: %v", err)
		}
		if err := s.SaveClassification(ctx, "h2", model.ClassificationFailed, nil); err != nil {
			t.Fatalf("SaveClassification failed: %v", err)
		}

		pending, err := s.PendingClassification(ctx, 10)
		if err != nil {
			t.Fatalf("PendingClassification: %v", err)
		}
		if len(pending) != 1 || pending[0].JobHash != "h2" {
			t.Errorf("pending = %+v", pending)
		}

		attempts := []model.ClassificationAttempt{
			{JobHash: "h1", Provider: "openai", Model: "gpt", Latency: 1500 * time.Millisecond, InputTokens: 1000, OutputTokens: 200, Cost: 0.01, ParseSuccess: true, At: base},
			{JobHash: "h2", Provider: "gemini", Model: "flash", FallbackTriggered: true, Error: "boom", At: base.Add(time.Minute)},
		}
		if err := s.RecordAttempts(ctx, attempts); err != nil {
			t.Fatalf("RecordAttempts: %v", err)
		}
		got, err := s.ListAttempts(ctx, base.Add(30*time.Second))
		if err != nil {
			t.Fatalf("ListAttempts: %v", err)
		}
		if len(got) != 1 || got[0].Provider != "gemini" || !got[0].FallbackTriggered || got[0].Error != "boom" {
			t.Errorf("attempts = %+v", got)
		}
		all, _ := s.ListAttempts(ctx, time.Time{})
		if len(all) != 2 || all[0].Latency != 1500*time.Millisecond || !all[0].ParseSuccess {
			t.Errorf("all attempts = %+v", all)
		}
	})
}

func TestReviewQueue(t *testing.T) {
	stores(t, func(t *testing.T, s model.Store) {
		ctx := context.Background()
		for i, kind := range []model.ReviewKind{model.ReviewDedupIntegrity, model.ReviewClassificationFailed} {
			err := s.EnqueueReview(ctx, model.ReviewItem{Kind: kind, JobHash: "h", Detail: "d", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
			if err != nil {
				t.Fatalf("EnqueueReview: %v", err)
			}
		}
		items, err := s.ListReviews(ctx, 10)
		if err != nil {
			t.Fatalf("ListReviews: %v", err)
		}
		if len(items) != 2 || items[0].Kind != model.ReviewClassificationFailed {
			t.Errorf("items = %+v", items)
		}
	})
}
