package model

import "time"

// URLStatus is the liveness state of a canonical record's posting URL.
type URLStatus string

const (
	URLActive       URLStatus = "active"
	URLNotFound     URLStatus = "404"
	URLGone         URLStatus = "410"
	URLSoft404      URLStatus = "soft_404"
	URLBlocked      URLStatus = "blocked"
	URLUnverifiable URLStatus = "unverifiable"
	URLError        URLStatus = "error"
	URLRedirect     URLStatus = "redirect"
)

// TerminalURLStatuses are never re-checked.
var TerminalURLStatuses = []URLStatus{URLNotFound, URLGone, URLSoft404}

// IsTerminal reports whether s is a dead state that ends URL checking.
func (s URLStatus) IsTerminal() bool {
	switch s {
	case URLNotFound, URLGone, URLSoft404:
		return true
	}
	return false
}

// ClassificationStatus tracks where a record is in the LLM enrichment step.
type ClassificationStatus string

const (
	ClassificationPending    ClassificationStatus = "pending"
	ClassificationClassified ClassificationStatus = "classified"
	ClassificationFailed     ClassificationStatus = "failed"
)

// ScopeKind describes how a posting's location mapped to a tracked area.
type ScopeKind string

const (
	ScopeCity   ScopeKind = "city"
	ScopeRegion ScopeKind = "region"
	ScopeRemote ScopeKind = "remote"
)

// LocationScope is the location filter's verdict: which tracked area a
// posting belongs to. Code is the city_code used in the fingerprint.
type LocationScope struct {
	Kind ScopeKind
	Code string
}

// Employer is keyed by its lowercase canonical name.
type Employer struct {
	Name        string
	DisplayName string
	CreatedAt   time.Time
}

// CanonicalRecord is the deduplicated, enriched unit of value. JobHash is
// unique across the store.
type CanonicalRecord struct {
	ID                   string
	JobHash              string
	EmployerName         string
	TitleDisplay         string
	CityCode             string
	ScopeKind            ScopeKind
	LocationText         string
	Classification       *ClassificationResult
	ClassificationStatus ClassificationStatus
	DataSource           Source
	SourceJobID          *string
	DescriptionSource    Source
	DescriptionQuality   DescriptionQuality
	DescriptionText      string
	Deduplicated         bool
	MergedFromSource     *Source
	OriginalURL          string
	OriginalURLSecondary *string
	PostedDate           time.Time
	LastSeenDate         time.Time
	URLStatus            URLStatus
	URLCheckedAt         *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ReviewKind labels items pushed to the operator-visible queue.
type ReviewKind string

const (
	ReviewDedupIntegrity       ReviewKind = "dedup_integrity"
	ReviewClassificationFailed ReviewKind = "classification_failed"
	ReviewBatchFailures        ReviewKind = "batch_failures"
)

// ReviewItem is something that needs a policy decision from an operator
// rather than a guess from the pipeline.
type ReviewItem struct {
	Kind      ReviewKind
	JobHash   string
	Employer  string
	Title     string
	URL       string
	Detail    string
	CreatedAt time.Time
}
