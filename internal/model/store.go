package model

import (
	"context"
	"time"
)

// SourceFetcher fetches source-native payloads (e.g. one Greenhouse board).
type SourceFetcher interface {
	FetchPayloads(ctx context.Context) ([]Payload, error)
}

// RecordStore is the canonical store surface used by the dedup engine.
// GetByHash returns ErrNotFound when no record has the hash.
type RecordStore interface {
	GetByHash(ctx context.Context, jobHash string) (*CanonicalRecord, error)
	Insert(ctx context.Context, rec *CanonicalRecord) error
	Update(ctx context.Context, rec *CanonicalRecord) error
	UpsertEmployer(ctx context.Context, e Employer) error
}

// ClassificationStore persists classifier output and the attempt log.
type ClassificationStore interface {
	SaveClassification(ctx context.Context, jobHash string, status ClassificationStatus, result *ClassificationResult) error
	RecordAttempts(ctx context.Context, attempts []ClassificationAttempt) error
	ListAttempts(ctx context.Context, since time.Time) ([]ClassificationAttempt, error)
	PendingClassification(ctx context.Context, limit int) ([]CanonicalRecord, error)
}

// URLStatusStore is what the liveness validator needs.
type URLStatusStore interface {
	DueForURLCheck(ctx context.Context, checkedBefore time.Time, limit int) ([]CanonicalRecord, error)
	UpdateURLStatus(ctx context.Context, jobHash string, status URLStatus, checkedAt time.Time) error
}

// FeedStore gives consumers read access to records that are not dead.
type FeedStore interface {
	ActiveFeed(ctx context.Context, scopeCodes []string) ([]CanonicalRecord, error)
}

// ReviewQueue is the operator-visible queue for decisions the pipeline must not guess.
type ReviewQueue interface {
	EnqueueReview(ctx context.Context, item ReviewItem) error
	ListReviews(ctx context.Context, limit int) ([]ReviewItem, error)
}

// Store is the full canonical store.
type Store interface {
	RecordStore
	ClassificationStore
	URLStatusStore
	FeedStore
	ReviewQueue
	Close() error
}

// Notifier sends operator alerts.
type Notifier interface {
	Notify(items []ReviewItem) error
}
