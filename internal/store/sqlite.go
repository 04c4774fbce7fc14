package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/amishk599/jobpipe/internal/model"
)

// SQLiteStore is the default canonical store: a single SQLite file with a
// unique job_hash and an enforced foreign key to employers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One writer at a time; parallel classification writes queue here.
	db.SetMaxOpenConns(1)

	// Verify the connection is alive.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// mapError converts constraint failures into the model sentinels.
func mapError(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	code := se.Code()
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY,
		code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "FOREIGN KEY"):
		return fmt.Errorf("%w: %v", model.ErrEmployerMissing, err)
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "UNIQUE"):
		return fmt.Errorf("%w: %v", model.ErrDuplicateHash, err)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*model.CanonicalRecord, error) {
	var (
		r                                              model.CanonicalRecord
		classification, sourceJobID, merged, secondary *string
		dataSource, descSource, quality, scope, status string
		urlStatus                                      string
		dedup                                          int
		posted, lastSeen, created, updated             int64
		checked                                        *int64
	)
	err := row.Scan(&r.ID, &r.JobHash, &r.EmployerName, &r.TitleDisplay, &r.CityCode, &scope, &r.LocationText,
		&classification, &status, &dataSource, &sourceJobID, &descSource,
		&quality, &r.DescriptionText, &dedup, &merged, &r.OriginalURL,
		&secondary, &posted, &lastSeen, &urlStatus, &checked, &created, &updated)
	if err != nil {
		return nil, err
	}
	if r.Classification, err = decodeClassification(classification); err != nil {
		return nil, err
	}
	r.ScopeKind = model.ScopeKind(scope)
	r.ClassificationStatus = model.ClassificationStatus(status)
	r.DataSource = model.Source(dataSource)
	r.SourceJobID = sourceJobID
	r.DescriptionSource = model.Source(descSource)
	r.DescriptionQuality = model.DescriptionQuality(quality)
	r.Deduplicated = dedup != 0
	r.MergedFromSource = toOptSource(merged)
	r.OriginalURLSecondary = secondary
	r.PostedDate = fromNanos(posted)
	r.LastSeenDate = fromNanos(lastSeen)
	r.URLStatus = model.URLStatus(urlStatus)
	r.URLCheckedAt = optTime(checked)
	r.CreatedAt = fromNanos(created)
	r.UpdatedAt = fromNanos(updated)
	return &r, nil
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.CanonicalRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetByHash returns the record with the given job_hash or model.ErrNotFound.
func (s *SQLiteStore) GetByHash(ctx context.Context, jobHash string) (*model.CanonicalRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE job_hash = ?", jobHash)
	r, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", jobHash, err)
	}
	return r, nil
}

// Insert adds a new record. A taken job_hash is model.ErrDuplicateHash; an
// unknown employer is model.ErrEmployerMissing.
func (s *SQLiteStore) Insert(ctx context.Context, r *model.CanonicalRecord) error {
	classification, err := encodeClassification(r.Classification)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO records ("+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobHash, r.EmployerName, r.TitleDisplay, r.CityCode, string(r.ScopeKind), r.LocationText,
		classification, string(r.ClassificationStatus), string(r.DataSource), r.SourceJobID, string(r.DescriptionSource),
		string(r.DescriptionQuality), r.DescriptionText, boolInt(r.Deduplicated), optSource(r.MergedFromSource), r.OriginalURL,
		r.OriginalURLSecondary, toNanos(r.PostedDate), toNanos(r.LastSeenDate), string(r.URLStatus), optNanos(r.URLCheckedAt),
		toNanos(r.CreatedAt), toNanos(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", r.JobHash, mapError(err))
	}
	return nil
}

// Update writes the mutable fields of an existing record. posted_date,
// created_at and the identity columns are never rewritten. The
// classification belongs to SaveClassification; Update only resets its
// status to pending when the description text changes.
func (s *SQLiteStore) Update(ctx context.Context, r *model.CanonicalRecord) error {
	res, err := s.db.ExecContext(ctx, `UPDATE records SET
		classification_status = CASE WHEN description_text <> ? THEN ? ELSE classification_status END,
		title_display = ?, location_text = ?,
		description_source = ?, description_quality = ?, description_text = ?, deduplicated = ?,
		merged_from_source = ?, original_url = ?, original_url_secondary = ?, last_seen_date = ?, updated_at = ?
		WHERE job_hash = ?`,
		r.DescriptionText, string(model.ClassificationPending),
		r.TitleDisplay, r.LocationText,
		string(r.DescriptionSource), string(r.DescriptionQuality), r.DescriptionText, boolInt(r.Deduplicated),
		optSource(r.MergedFromSource), r.OriginalURL, r.OriginalURLSecondary, toNanos(r.LastSeenDate), toNanos(r.UpdatedAt),
		r.JobHash)
	if err != nil {
		return fmt.Errorf("updating record %s: %w", r.JobHash, mapError(err))
	}
	return expectOne(res, r.JobHash)
}

func expectOne(res sql.Result, jobHash string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", jobHash, model.ErrNotFound)
	}
	return nil
}

// UpsertEmployer creates the employer if it does not exist yet.
func (s *SQLiteStore) UpsertEmployer(ctx context.Context, e model.Employer) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO employers (name, display_name, created_at) VALUES (?, ?, ?)",
		e.Name, e.DisplayName, toNanos(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting employer %s: %w", e.Name, err)
	}
	return nil
}

// SaveClassification sets the classification status and, when result is
// non-nil, replaces the stored classification.
func (s *SQLiteStore) SaveClassification(ctx context.Context, jobHash string, status model.ClassificationStatus, result *model.ClassificationResult) error {
	classification, err := encodeClassification(result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET classification_status = ?, classification = COALESCE(?, classification), updated_at = ? WHERE job_hash = ?",
		string(status), classification, toNanos(time.Now()), jobHash)
	if err != nil {
		return fmt.Errorf("saving classification %s: %w", jobHash, err)
	}
	return expectOne(res, jobHash)
}

// RecordAttempts appends to the attempt log.
func (s *SQLiteStore) RecordAttempts(ctx context.Context, attempts []model.ClassificationAttempt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recording attempts: %w", err)
	}
	defer tx.Rollback()

	for _, a := range attempts {
		_, err := tx.ExecContext(ctx, `INSERT INTO classification_attempts
			(job_hash, provider, model, latency_ms, input_tokens, output_tokens, cost, parse_success, fallback_triggered, error, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.JobHash, a.Provider, a.Model, a.Latency.Milliseconds(), a.InputTokens, a.OutputTokens, a.Cost,
			boolInt(a.ParseSuccess), boolInt(a.FallbackTriggered), a.Error, toNanos(a.At))
		if err != nil {
			return fmt.Errorf("recording attempt for %s: %w", a.JobHash, err)
		}
	}
	return tx.Commit()
}

// ListAttempts returns attempts at or after since, oldest first.
func (s *SQLiteStore) ListAttempts(ctx context.Context, since time.Time) ([]model.ClassificationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_hash, provider, model, latency_ms, input_tokens, output_tokens,
		cost, parse_success, fallback_triggered, error, at
		FROM classification_attempts WHERE at >= ? ORDER BY at, id`, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var out []model.ClassificationAttempt
	for rows.Next() {
		var (
			a                model.ClassificationAttempt
			latencyMS, at    int64
			parsed, fallback int
		)
		if err := rows.Scan(&a.JobHash, &a.Provider, &a.Model, &latencyMS, &a.InputTokens, &a.OutputTokens,
			&a.Cost, &parsed, &fallback, &a.Error, &at); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		a.ParseSuccess = parsed != 0
		a.FallbackTriggered = fallback != 0
		a.At = fromNanos(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// PendingClassification returns records that still need a classifier run,
// least recently touched first.
func (s *SQLiteStore) PendingClassification(ctx context.Context, limit int) ([]model.CanonicalRecord, error) {
	recs, err := s.queryRecords(ctx, "SELECT "+recordColumns+` FROM records
		WHERE classification_status IN (?, ?) ORDER BY updated_at LIMIT ?`,
		string(model.ClassificationPending), string(model.ClassificationFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending classification: %w", err)
	}
	return recs, nil
}

// DueForURLCheck returns non-terminal records never checked or last checked
// before checkedBefore. Never-checked records come first, then oldest check.
func (s *SQLiteStore) DueForURLCheck(ctx context.Context, checkedBefore time.Time, limit int) ([]model.CanonicalRecord, error) {
	recs, err := s.queryRecords(ctx, "SELECT "+recordColumns+` FROM records
		WHERE url_status NOT IN (`+terminalList()+`)
		  AND (url_checked_at IS NULL OR url_checked_at < ?)
		ORDER BY url_checked_at IS NOT NULL, url_checked_at, id
		LIMIT ?`, toNanos(checkedBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("listing records due for url check: %w", err)
	}
	return recs, nil
}

// UpdateURLStatus records a check result. Records already in a terminal
// state are left untouched and reported as model.ErrNotFound.
func (s *SQLiteStore) UpdateURLStatus(ctx context.Context, jobHash string, status model.URLStatus, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE records SET url_status = ?, url_checked_at = ?, updated_at = ?
		WHERE job_hash = ? AND url_status NOT IN (`+terminalList()+`)`,
		string(status), toNanos(checkedAt), toNanos(checkedAt), jobHash)
	if err != nil {
		return fmt.Errorf("updating url status %s: %w", jobHash, err)
	}
	return expectOne(res, jobHash)
}

// ActiveFeed returns records whose URL is not dead, optionally limited to
// the given scope codes, newest postings first.
func (s *SQLiteStore) ActiveFeed(ctx context.Context, scopeCodes []string) ([]model.CanonicalRecord, error) {
	query := "SELECT " + recordColumns + " FROM records WHERE url_status NOT IN (" + terminalList() + ")"
	var args []any
	if len(scopeCodes) > 0 {
		query += " AND city_code IN (?" + strings.Repeat(", ?", len(scopeCodes)-1) + ")"
		for _, c := range scopeCodes {
			args = append(args, c)
		}
	}
	query += " ORDER BY posted_date DESC, id"
	recs, err := s.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing active feed: %w", err)
	}
	return recs, nil
}

// EnqueueReview adds an item to the operator review queue.
func (s *SQLiteStore) EnqueueReview(ctx context.Context, item model.ReviewItem) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO review_queue (kind, job_hash, employer, title, url, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(item.Kind), item.JobHash, item.Employer, item.Title, item.URL, item.Detail, toNanos(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("enqueueing review for %s: %w", item.JobHash, err)
	}
	return nil
}

// ListReviews returns the newest review items.
func (s *SQLiteStore) ListReviews(ctx context.Context, limit int) ([]model.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, job_hash, employer, title, url, detail, created_at
		FROM review_queue ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		var (
			item    model.ReviewItem
			kind    string
			created int64
		)
		if err := rows.Scan(&kind, &item.JobHash, &item.Employer, &item.Title, &item.URL, &item.Detail, &created); err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		item.Kind = model.ReviewKind(kind)
		item.CreatedAt = fromNanos(created)
		out = append(out, item)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
