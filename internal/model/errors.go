package model

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an HTTP
// date. Returns zero if absent, unparseable or already past.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

var (
	// ErrEmployerMissing is returned by a store when a record references an
	// employer row that does not exist yet.
	ErrEmployerMissing = errors.New("employer does not exist")
	// ErrDuplicateHash is returned when inserting a job_hash that is already stored.
	ErrDuplicateHash = errors.New("job_hash already exists")
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("not found")
)

// MalformedSourcePayloadError means a source payload could not be normalized.
// The posting is dropped; the rest of the batch continues.
type MalformedSourcePayloadError struct {
	Source Source
	Reason string
	Err    error
}

func (e *MalformedSourcePayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s payload: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s payload: %s", e.Source, e.Reason)
}

func (e *MalformedSourcePayloadError) Unwrap() error { return e.Err }

// FilterConfigurationError means the pattern configuration is missing or
// inconsistent. It fails the whole batch.
type FilterConfigurationError struct {
	Source Source
	Reason string
	Err    error
}

func (e *FilterConfigurationError) Error() string {
	msg := "filter configuration"
	if e.Source != "" {
		msg += " for " + string(e.Source)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FilterConfigurationError) Unwrap() error { return e.Err }

// ClassificationFailure means every provider was exhausted. The record stays
// stored as pending retry.
type ClassificationFailure struct {
	JobHash  string
	Attempts int
	Err      error
}

func (e *ClassificationFailure) Error() string {
	return fmt.Sprintf("classification failed for %s after %d attempts: %v", e.JobHash, e.Attempts, e.Err)
}

func (e *ClassificationFailure) Unwrap() error { return e.Err }

// DedupIntegrityViolation means a job_hash matched a stored record whose
// identity is incompatible with the incoming posting. Nothing is merged.
type DedupIntegrityViolation struct {
	JobHash  string
	Stored   string
	Incoming string
}

func (e *DedupIntegrityViolation) Error() string {
	return fmt.Sprintf("job_hash %s collision: stored %q vs incoming %q", e.JobHash, e.Stored, e.Incoming)
}

// URLCheckTransientError is a network or timeout failure while checking a
// URL. The record is retried next cycle.
type URLCheckTransientError struct {
	URL string
	Err error
}

func (e *URLCheckTransientError) Error() string {
	return fmt.Sprintf("url check %s: %v", e.URL, e.Err)
}

func (e *URLCheckTransientError) Unwrap() error { return e.Err }
