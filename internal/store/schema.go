package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amishk599/jobpipe/internal/model"
)

// sqliteSchema is applied on open. Times are unix nanoseconds so ordering
// and NULL handling are plain integer comparisons.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS employers (
		name         TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		created_at   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		id                     TEXT PRIMARY KEY,
		job_hash               TEXT NOT NULL UNIQUE,
		employer_name          TEXT NOT NULL REFERENCES employers(name),
		title_display          TEXT NOT NULL,
		city_code              TEXT NOT NULL,
		scope_kind             TEXT NOT NULL,
		location_text          TEXT NOT NULL,
		classification         TEXT,
		classification_status  TEXT NOT NULL,
		data_source            TEXT NOT NULL,
		source_job_id          TEXT,
		description_source     TEXT NOT NULL,
		description_quality    TEXT NOT NULL,
		description_text       TEXT NOT NULL,
		deduplicated           INTEGER NOT NULL DEFAULT 0,
		merged_from_source     TEXT,
		original_url           TEXT NOT NULL,
		original_url_secondary TEXT,
		posted_date            INTEGER NOT NULL,
		last_seen_date         INTEGER NOT NULL,
		url_status             TEXT NOT NULL,
		url_checked_at         INTEGER,
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS records_url_check ON records (url_status, url_checked_at)`,
	`CREATE INDEX IF NOT EXISTS records_city ON records (city_code)`,
	`CREATE TABLE IF NOT EXISTS classification_attempts (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		job_hash           TEXT NOT NULL,
		provider           TEXT NOT NULL,
		model              TEXT NOT NULL,
		latency_ms         INTEGER NOT NULL,
		input_tokens       INTEGER NOT NULL,
		output_tokens      INTEGER NOT NULL,
		cost               REAL NOT NULL,
		parse_success      INTEGER NOT NULL,
		fallback_triggered INTEGER NOT NULL,
		error              TEXT NOT NULL DEFAULT '',
		at                 INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS attempts_at ON classification_attempts (at)`,
	`CREATE TABLE IF NOT EXISTS review_queue (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT NOT NULL,
		job_hash   TEXT NOT NULL DEFAULT '',
		employer   TEXT NOT NULL DEFAULT '',
		title      TEXT NOT NULL DEFAULT '',
		url        TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
}

const recordColumns = `id, job_hash, employer_name, title_display, city_code, scope_kind, location_text,
	classification, classification_status, data_source, source_job_id, description_source,
	description_quality, description_text, deduplicated, merged_from_source, original_url,
	original_url_secondary, posted_date, last_seen_date, url_status, url_checked_at, created_at, updated_at`

// terminalList renders the terminal statuses as a quoted SQL list.
func terminalList() string {
	quoted := make([]string, len(model.TerminalURLStatuses))
	for i, s := range model.TerminalURLStatuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}

func encodeClassification(c *model.ClassificationResult) (*string, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode classification: %w", err)
	}
	s := string(b)
	return &s, nil
}

func decodeClassification(s *string) (*model.ClassificationResult, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var c model.ClassificationResult
	if err := json.Unmarshal([]byte(*s), &c); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	return &c, nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func optNanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := toNanos(*t)
	return &n
}

func optTime(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}

func optSource(s *model.Source) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func toOptSource(s *string) *model.Source {
	if s == nil {
		return nil
	}
	v := model.Source(*s)
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
