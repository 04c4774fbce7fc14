package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amishk599/jobpipe/internal/model"
)

// MemoryStore keeps everything in process. It backs dry runs: the batch
// still dedups against itself and reports accurate counts, but nothing
// outlives the process.
type MemoryStore struct {
	mu        sync.Mutex
	employers map[string]model.Employer
	records   map[string]model.CanonicalRecord
	attempts  []model.ClassificationAttempt
	reviews   []model.ReviewItem
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		employers: make(map[string]model.Employer),
		records:   make(map[string]model.CanonicalRecord),
	}
}

// GetByHash returns a copy of the stored record.
func (m *MemoryStore) GetByHash(_ context.Context, jobHash string) (*model.CanonicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[jobHash]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}

// Insert enforces the same constraints as the SQL stores.
func (m *MemoryStore) Insert(_ context.Context, r *model.CanonicalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.employers[r.EmployerName]; !ok {
		return fmt.Errorf("inserting record %s: %w", r.JobHash, model.ErrEmployerMissing)
	}
	if _, ok := m.records[r.JobHash]; ok {
		return fmt.Errorf("inserting record %s: %w", r.JobHash, model.ErrDuplicateHash)
	}
	m.records[r.JobHash] = *r
	return nil
}

// Update writes the mutable fields of an existing record. The
// classification is left alone; a changed description resets its status.
func (m *MemoryStore) Update(_ context.Context, r *model.CanonicalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[r.JobHash]
	if !ok {
		return fmt.Errorf("record %s: %w", r.JobHash, model.ErrNotFound)
	}
	next := *r
	next.ID = cur.ID
	next.EmployerName = cur.EmployerName
	next.DataSource = cur.DataSource
	next.SourceJobID = cur.SourceJobID
	next.PostedDate = cur.PostedDate
	next.CreatedAt = cur.CreatedAt
	next.URLStatus = cur.URLStatus
	next.URLCheckedAt = cur.URLCheckedAt
	next.Classification = cur.Classification
	next.ClassificationStatus = cur.ClassificationStatus
	if next.DescriptionText != cur.DescriptionText {
		next.ClassificationStatus = model.ClassificationPending
	}
	m.records[r.JobHash] = next
	return nil
}

// UpsertEmployer creates the employer if it does not exist yet.
func (m *MemoryStore) UpsertEmployer(_ context.Context, e model.Employer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.employers[e.Name]; !ok {
		m.employers[e.Name] = e
	}
	return nil
}

// SaveClassification sets the status and, when non-nil, the result.
func (m *MemoryStore) SaveClassification(_ context.Context, jobHash string, status model.ClassificationStatus, result *model.ClassificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[jobHash]
	if !ok {
		return fmt.Errorf("record %s: %w", jobHash, model.ErrNotFound)
	}
	r.ClassificationStatus = status
	if result != nil {
		r.Classification = result
	}
	r.UpdatedAt = time.Now().UTC()
	m.records[jobHash] = r
	return nil
}

// RecordAttempts appends to the attempt log.
func (m *MemoryStore) RecordAttempts(_ context.Context, attempts []model.ClassificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempts...)
	return nil
}

// ListAttempts returns attempts at or after since, oldest first.
func (m *MemoryStore) ListAttempts(_ context.Context, since time.Time) ([]model.ClassificationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ClassificationAttempt
	for _, a := range m.attempts {
		if !a.At.Before(since) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// PendingClassification returns pending or failed records, least recently
// touched first.
func (m *MemoryStore) PendingClassification(_ context.Context, limit int) ([]model.CanonicalRecord, error) {
	return m.selectRecords(limit, func(r model.CanonicalRecord) bool {
		return r.ClassificationStatus == model.ClassificationPending || r.ClassificationStatus == model.ClassificationFailed
	}, func(a, b model.CanonicalRecord) bool { return a.UpdatedAt.Before(b.UpdatedAt) }), nil
}

// DueForURLCheck mirrors the SQL ordering: never-checked first, then oldest.
func (m *MemoryStore) DueForURLCheck(_ context.Context, checkedBefore time.Time, limit int) ([]model.CanonicalRecord, error) {
	return m.selectRecords(limit, func(r model.CanonicalRecord) bool {
		return !r.URLStatus.IsTerminal() && (r.URLCheckedAt == nil || r.URLCheckedAt.Before(checkedBefore))
	}, func(a, b model.CanonicalRecord) bool {
		switch {
		case a.URLCheckedAt == nil:
			return b.URLCheckedAt != nil || a.ID < b.ID
		case b.URLCheckedAt == nil:
			return false
		}
		return a.URLCheckedAt.Before(*b.URLCheckedAt)
	}), nil
}

// UpdateURLStatus refuses to move a record out of a terminal state.
func (m *MemoryStore) UpdateURLStatus(_ context.Context, jobHash string, status model.URLStatus, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[jobHash]
	if !ok || r.URLStatus.IsTerminal() {
		return fmt.Errorf("record %s: %w", jobHash, model.ErrNotFound)
	}
	r.URLStatus = status
	t := checkedAt
	r.URLCheckedAt = &t
	r.UpdatedAt = checkedAt
	m.records[jobHash] = r
	return nil
}

// ActiveFeed returns non-dead records in the given scopes, newest first.
func (m *MemoryStore) ActiveFeed(_ context.Context, scopeCodes []string) ([]model.CanonicalRecord, error) {
	codes := make(map[string]bool, len(scopeCodes))
	for _, c := range scopeCodes {
		codes[c] = true
	}
	return m.selectRecords(0, func(r model.CanonicalRecord) bool {
		return !r.URLStatus.IsTerminal() && (len(codes) == 0 || codes[r.CityCode])
	}, func(a, b model.CanonicalRecord) bool { return a.PostedDate.After(b.PostedDate) }), nil
}

// EnqueueReview adds an item to the review queue.
func (m *MemoryStore) EnqueueReview(_ context.Context, item model.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews = append(m.reviews, item)
	return nil
}

// ListReviews returns the newest review items.
func (m *MemoryStore) ListReviews(_ context.Context, limit int) ([]model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ReviewItem, 0, len(m.reviews))
	for i := len(m.reviews) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.reviews[i])
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryStore) selectRecords(limit int, keep func(model.CanonicalRecord) bool, less func(a, b model.CanonicalRecord) bool) []model.CanonicalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CanonicalRecord
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
