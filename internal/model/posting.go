package model

import (
	"fmt"
	"time"
)

// Source identifies where a posting was observed.
type Source string

const (
	SourceAggregator Source = "api-aggregator" // salary/search API (Adzuna)
	SourceATSA       Source = "ats-a"          // Greenhouse boards
	SourceATSB       Source = "ats-b"          // Lever postings
)

// ParseSource converts a raw string into a Source.
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceAggregator, SourceATSA, SourceATSB:
		return src, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// DescriptionQuality records whether a source hands us the full posting text
// or an excerpt. Truncated text must not feed skills/arrangement aggregates.
type DescriptionQuality string

const (
	QualityFull      DescriptionQuality = "full"
	QualityTruncated DescriptionQuality = "truncated"
)

// Rank orders qualities so a richer description can supersede a poorer one.
func (q DescriptionQuality) Rank() int {
	if q == QualityFull {
		return 1
	}
	return 0
}

// Payload is a source-native job representation. Each adapter defines its own
// concrete variant; only the normalizer looks inside.
type Payload interface {
	Source() Source
}

// NormalizedPosting is the shared shape every source is converted into. It
// lives for one ingestion run.
type NormalizedPosting struct {
	Source             Source  `validate:"required,oneof=api-aggregator ats-a ats-b"`
	SourceJobID        *string // nullable external id
	Title              string  `validate:"required"`
	CompanyName        string  `validate:"required"`
	LocationText       string
	DescriptionText    string
	DescriptionQuality DescriptionQuality `validate:"required,oneof=full truncated"`
	PostingURL         string             `validate:"required,url"`
	PostedAt           *time.Time
}

// ExternalID returns the source job id or "" when the source has none.
func (p NormalizedPosting) ExternalID() string {
	if p.SourceJobID == nil {
		return ""
	}
	return *p.SourceJobID
}
