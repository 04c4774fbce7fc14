package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/amishk599/jobpipe/internal/adapter"
	"github.com/amishk599/jobpipe/internal/ai"
	"github.com/amishk599/jobpipe/internal/config"
	"github.com/amishk599/jobpipe/internal/dedup"
	"github.com/amishk599/jobpipe/internal/filter"
	"github.com/amishk599/jobpipe/internal/lock"
	"github.com/amishk599/jobpipe/internal/model"
	"github.com/amishk599/jobpipe/internal/store"
)

// --- Mock/Fake Implementations ---

// MockFetcher returns a canned slice of payloads or an error.
type MockFetcher struct {
	Payloads []model.Payload
	Err      error
}

func (m *MockFetcher) FetchPayloads(_ context.Context) ([]model.Payload, error) {
	return m.Payloads, m.Err
}

// CountingClassifier succeeds for every input unless its hash is in fail.
type CountingClassifier struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (c *CountingClassifier) Classify(_ context.Context, in ai.Input) (ai.Outcome, error) {
	c.mu.Lock()
	c.calls = append(c.calls, in.JobHash)
	failing := c.fail[in.JobHash]
	c.mu.Unlock()

	att := model.ClassificationAttempt{JobHash: in.JobHash, Provider: "fake", Model: "fake-1", InputTokens: 100, OutputTokens: 50, Cost: 0.001, At: time.Now()}
	if failing {
		att.Error = "provider down"
		fallback := att
		fallback.FallbackTriggered = true
		return ai.Outcome{
			Attempts: []model.ClassificationAttempt{att, fallback},
			Failure:  &model.ClassificationFailure{JobHash: in.JobHash, Attempts: 2, Err: errors.New("provider down")},
		}, nil
	}
	att.ParseSuccess = true
	return ai.Outcome{
		Result:   &model.ClassificationResult{JobFamily: "data", Seniority: "mid", Provider: "fake", Model: "fake-1"},
		Attempts: []model.ClassificationAttempt{att},
	}, nil
}

func (c *CountingClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// MergingClassifier runs during once, inside its first Classify call, then
// classifies like CountingClassifier. It records the descriptions it saw.
type MergingClassifier struct {
	CountingClassifier
	during       func(ctx context.Context)
	once         sync.Once
	descriptions []string
}

func (c *MergingClassifier) Classify(ctx context.Context, in ai.Input) (ai.Outcome, error) {
	c.mu.Lock()
	c.descriptions = append(c.descriptions, in.Description)
	c.mu.Unlock()
	c.once.Do(func() { c.during(ctx) })
	return c.CountingClassifier.Classify(ctx, in)
}

// RecordingNotifier records which review items were sent to Notify.
type RecordingNotifier struct {
	mu       sync.Mutex
	Notified []model.ReviewItem
}

func (n *RecordingNotifier) Notify(items []model.ReviewItem) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Notified = append(n.Notified, items...)
	return nil
}

func (n *RecordingNotifier) Kinds() map[model.ReviewKind]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := map[model.ReviewKind]int{}
	for _, item := range n.Notified {
		out[item.Kind]++
	}
	return out
}

// --- Helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPatterns() *config.PatternSet {
	return &config.PatternSet{
		Title: config.TitlePatterns{
			Include: []string{"data engineer"},
			Exclude: []string{"intern"},
		},
		Location: config.LocationPatterns{
			Cities: map[string][]string{"lon": {"london"}},
			Remote: []string{"remote"},
		},
		Agency: config.AgencyPatterns{
			Exact:    []string{"Hays"},
			Keywords: []string{"recruitment"},
		},
	}
}

func testSource(t *testing.T, name string, kind model.Source, payloads ...model.Payload) Source {
	t.Helper()
	chain, err := filter.NewChain(kind, testPatterns(), false, discardLogger())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return Source{Name: name, Kind: kind, Fetcher: &MockFetcher{Payloads: payloads}, Chain: chain}
}

func greenhouse(id int, employer, title string) adapter.GreenhousePayload {
	p := adapter.GreenhousePayload{
		ID:          int64(id),
		Title:       title,
		AbsoluteURL: fmt.Sprintf("https://boards.example.com/%d", id),
		Content:     "&lt;p&gt;We are hiring a data engineer to build pipelines in Python and dbt.&lt;/p&gt;",
		Company:     employer,
	}
	p.Location.Name = "London, UK"
	return p
}

func adzuna(id int, employer, title string) adapter.AdzunaPayload {
	p := adapter.AdzunaPayload{
		ID:          fmt.Sprintf("az-%d", id),
		Title:       title,
		Description: "Data engineer role...",
		RedirectURL: fmt.Sprintf("https://aggregator.example.com/land/%d", id),
	}
	p.Company.DisplayName = employer
	p.Location.DisplayName = "London"
	return p
}

func newRunner(st model.Store, c Classifier, n model.Notifier) *Runner {
	engine := dedup.NewEngine(st, lock.NewKeyedMutex(), nil, discardLogger())
	return NewRunner(st, engine, c, n, Options{IngestConcurrency: 8, ClassifyConcurrency: 4}, discardLogger())
}

// --- Tests ---

func TestRun_HundredPostingScenario(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	classifier := &CountingClassifier{}
	runner := newRunner(st, classifier, &RecordingNotifier{})

	// Ten jobs are already canonical from the ATS board.
	var seed []model.Payload
	for i := 0; i < 10; i++ {
		seed = append(seed, greenhouse(i+1, fmt.Sprintf("Employer %02d", i), "Data Engineer"))
	}
	if _, err := runner.Run(ctx, testSource(t, "board", model.SourceATSA, seed...)); err != nil {
		t.Fatalf("seed Run: %v", err)
	}
	seedCalls := classifier.Calls()

	var payloads []model.Payload
	for i := 0; i < 30; i++ {
		payloads = append(payloads, adzuna(100+i, fmt.Sprintf("Talent %02d Recruitment", i), "Data Engineer"))
	}
	for i := 0; i < 20; i++ {
		payloads = append(payloads, adzuna(200+i, fmt.Sprintf("Employer %02d", i), "Sales Executive"))
	}
	for i := 0; i < 50; i++ {
		// Employers 00-09 duplicate the seeded jobs; 10-49 are new.
		payloads = append(payloads, adzuna(300+i, fmt.Sprintf("Employer %02d", i), "Data Engineer"))
	}

	rep, err := runner.Run(ctx, testSource(t, "aggregator", model.SourceAggregator, payloads...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Fetched != 100 {
		t.Errorf("Fetched = %d, want 100", rep.Fetched)
	}
	if rep.FilteredAgency != 30 || rep.FilteredTitle != 20 || rep.FilteredLocation != 0 {
		t.Errorf("filtered = agency %d title %d location %d, want 30/20/0", rep.FilteredAgency, rep.FilteredTitle, rep.FilteredLocation)
	}
	if rep.New != 40 {
		t.Errorf("New = %d, want 40", rep.New)
	}
	if rep.Merged+rep.MergedUpgraded != 10 {
		t.Errorf("merged = %d, want 10", rep.Merged+rep.MergedUpgraded)
	}
	if got := classifier.Calls() - seedCalls; got != 40 {
		t.Errorf("classifier calls = %d, want 40", got)
	}
	if rep.Classified != 40 {
		t.Errorf("Classified = %d, want 40", rep.Classified)
	}
	if st.Len() != 50 {
		t.Errorf("store has %d records, want 50", st.Len())
	}
	if err := rep.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}

	// Truncated aggregator text never replaces a full board description.
	rec, err := st.GetByHash(ctx, dedup.Fingerprint("Employer 03", "Data Engineer", "lon"))
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if !rec.Deduplicated || rec.DescriptionQuality != model.QualityFull || rec.DataSource != model.SourceATSA {
		t.Errorf("merged record = %+v", rec)
	}
	if rec.ClassificationStatus != model.ClassificationClassified {
		t.Errorf("ClassificationStatus = %s, want classified", rec.ClassificationStatus)
	}
}

func TestRun_UpgradeTriggersReclassification(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	classifier := &CountingClassifier{}
	runner := newRunner(st, classifier, nil)

	if _, err := runner.Run(ctx, testSource(t, "aggregator", model.SourceAggregator, adzuna(1, "Acme", "Data Engineer"))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rep, err := runner.Run(ctx, testSource(t, "board", model.SourceATSA, greenhouse(9, "Acme Ltd", "Data Engineer")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.MergedUpgraded != 1 {
		t.Errorf("MergedUpgraded = %d, want 1", rep.MergedUpgraded)
	}
	if classifier.Calls() != 2 {
		t.Errorf("classifier calls = %d, want 2", classifier.Calls())
	}
}

func TestRun_IntegrityViolationIsQueuedNotMerged(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	notifier := &RecordingNotifier{}
	runner := newRunner(st, &CountingClassifier{}, notifier)

	// Two distinct requisitions from one board collapse to the same hash.
	src := testSource(t, "board", model.SourceATSA,
		greenhouse(1, "Acme", "Data Engineer"),
		greenhouse(2, "Acme", "Data Engineer"),
	)
	rep, err := runner.Run(ctx, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.New != 1 || rep.IntegrityViolations != 1 {
		t.Errorf("new = %d violations = %d, want 1/1", rep.New, rep.IntegrityViolations)
	}
	if rep.Err() == nil {
		t.Error("Err() = nil, want error for nonzero violations")
	}
	kinds := notifier.Kinds()
	if kinds[model.ReviewDedupIntegrity] != 1 || kinds[model.ReviewBatchFailures] != 1 {
		t.Errorf("notified kinds = %v", kinds)
	}
	queued, _ := st.ListReviews(ctx, 10)
	if len(queued) != 2 {
		t.Errorf("review queue has %d items, want 2", len(queued))
	}
}

func TestRun_ClassificationFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	hash := dedup.Fingerprint("Acme", "Data Engineer", "lon")
	classifier := &CountingClassifier{fail: map[string]bool{hash: true}}
	notifier := &RecordingNotifier{}
	runner := newRunner(st, classifier, notifier)

	rep, err := runner.Run(ctx, testSource(t, "board", model.SourceATSA, greenhouse(1, "Acme", "Data Engineer")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.ClassificationFailed != 1 || rep.Classified != 0 {
		t.Errorf("failed = %d classified = %d, want 1/0", rep.ClassificationFailed, rep.Classified)
	}
	if rep.Cost <= 0 {
		t.Errorf("Cost = %v, want failed attempts to be billed", rep.Cost)
	}

	rec, err := st.GetByHash(ctx, hash)
	if err != nil {
		t.Fatalf("record dropped: %v", err)
	}
	if rec.ClassificationStatus != model.ClassificationFailed {
		t.Errorf("ClassificationStatus = %s, want failed", rec.ClassificationStatus)
	}
	attempts, _ := st.ListAttempts(ctx, time.Time{})
	if len(attempts) != 2 {
		t.Errorf("attempt log has %d entries, want 2", len(attempts))
	}
	if notifier.Kinds()[model.ReviewClassificationFailed] != 1 {
		t.Errorf("notified kinds = %v", notifier.Kinds())
	}

	// The provider recovers; reclassify picks the record up.
	classifier.mu.Lock()
	classifier.fail = nil
	classifier.mu.Unlock()

	again, err := runner.Reclassify(ctx, 10)
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	if again.Classified != 1 {
		t.Errorf("reclassified = %d, want 1", again.Classified)
	}
	rec, _ = st.GetByHash(ctx, hash)
	if rec.ClassificationStatus != model.ClassificationClassified || rec.Classification == nil {
		t.Errorf("after reclassify: status %s classification %+v", rec.ClassificationStatus, rec.Classification)
	}
}

func TestRun_MalformedPayloadDoesNotStopBatch(t *testing.T) {
	st := store.NewMemoryStore()
	runner := newRunner(st, nil, nil)

	broken := greenhouse(2, "", "Data Engineer")
	rep, err := runner.Run(context.Background(), testSource(t, "board", model.SourceATSA,
		greenhouse(1, "Acme", "Data Engineer"),
		broken,
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Malformed != 1 || rep.New != 1 {
		t.Errorf("malformed = %d new = %d, want 1/1", rep.Malformed, rep.New)
	}
	if rep.Err() == nil {
		t.Error("Err() = nil, want malformed payloads to surface")
	}
}

func TestRun_NilClassifierLeavesPending(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	runner := newRunner(st, nil, nil)

	if _, err := runner.Run(ctx, testSource(t, "board", model.SourceATSA, greenhouse(1, "Acme", "Data Engineer"))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	pending, _ := st.PendingClassification(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
	if _, err := runner.Reclassify(ctx, 10); err == nil {
		t.Error("Reclassify without classifier: expected error")
	}
}

func TestRun_FetchError(t *testing.T) {
	notifier := &RecordingNotifier{}
	runner := newRunner(store.NewMemoryStore(), &CountingClassifier{}, notifier)
	src := testSource(t, "board", model.SourceATSA)
	src.Fetcher = &MockFetcher{Err: errors.New("network down")}

	if _, err := runner.Run(context.Background(), src); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(notifier.Notified) != 0 {
		t.Error("notifier should not be called on fetch error")
	}
}

func TestBatchReport_Err(t *testing.T) {
	rep := &BatchReport{Name: "x", New: 3, Classified: 3}
	if rep.Err() != nil {
		t.Errorf("Err() = %v, want nil", rep.Err())
	}
	rep.StoreErrors = 1
	if rep.Err() == nil {
		t.Error("Err() = nil with a store error")
	}
}

func TestRun_MergeDuringClassificationLeavesRecordPending(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	classifier := &MergingClassifier{}
	runner := newRunner(st, classifier, nil)

	full := model.NormalizedPosting{
		Source:             model.SourceATSA,
		SourceJobID:        strPtr("9"),
		Title:              "Data Engineer",
		CompanyName:        "Acme",
		LocationText:       "London",
		DescriptionText:    "The full description: Python, dbt and Airflow on GCP.",
		DescriptionQuality: model.QualityFull,
		PostingURL:         "https://boards.example.com/9",
	}
	classifier.during = func(ctx context.Context) {
		res, err := runner.engine.Ingest(ctx, full, model.LocationScope{Kind: model.ScopeCity, Code: "lon"})
		if err != nil {
			t.Errorf("Ingest: %v", err)
			return
		}
		if res.Outcome != dedup.OutcomeMergedUpgraded {
			t.Errorf("Outcome = %v, want merged upgraded", res.Outcome)
		}
	}

	rep, err := runner.Run(ctx, testSource(t, "aggregator", model.SourceAggregator, adzuna(1, "Acme", "Data Engineer")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Superseded != 1 || rep.Classified != 0 || rep.ClassificationFailed != 0 {
		t.Errorf("superseded = %d classified = %d failed = %d, want 1/0/0", rep.Superseded, rep.Classified, rep.ClassificationFailed)
	}
	if rep.Err() != nil {
		t.Errorf("Err() = %v, want nil", rep.Err())
	}

	hash := dedup.Fingerprint("Acme", "Data Engineer", "lon")
	rec, err := st.GetByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if rec.ClassificationStatus != model.ClassificationPending || rec.Classification != nil {
		t.Fatalf("status %s classification %+v, want pending with no stale result", rec.ClassificationStatus, rec.Classification)
	}

	again, err := runner.Reclassify(ctx, 10)
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	if again.Classified != 1 {
		t.Errorf("reclassified = %d, want 1", again.Classified)
	}
	if last := classifier.descriptions[len(classifier.descriptions)-1]; last != full.DescriptionText {
		t.Errorf("last classified description = %q, want the merged text", last)
	}
}

func strPtr(s string) *string { return &s }
