package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amishk599/jobpipe/internal/model"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS employers (
		name         TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		id                     TEXT PRIMARY KEY,
		job_hash               TEXT NOT NULL,
		employer_name          TEXT NOT NULL,
		title_display          TEXT NOT NULL,
		city_code              TEXT NOT NULL,
		scope_kind             TEXT NOT NULL,
		location_text          TEXT NOT NULL,
		classification         JSONB,
		classification_status  TEXT NOT NULL,
		data_source            TEXT NOT NULL,
		source_job_id          TEXT,
		description_source     TEXT NOT NULL,
		description_quality    TEXT NOT NULL,
		description_text       TEXT NOT NULL,
		deduplicated           BOOLEAN NOT NULL DEFAULT FALSE,
		merged_from_source     TEXT,
		original_url           TEXT NOT NULL,
		original_url_secondary TEXT,
		posted_date            TIMESTAMPTZ NOT NULL,
		last_seen_date         TIMESTAMPTZ NOT NULL,
		url_status             TEXT NOT NULL,
		url_checked_at         TIMESTAMPTZ,
		created_at             TIMESTAMPTZ NOT NULL,
		updated_at             TIMESTAMPTZ NOT NULL,
		CONSTRAINT records_job_hash_unique UNIQUE (job_hash),
		CONSTRAINT records_employer_fk FOREIGN KEY (employer_name) REFERENCES employers(name)
	)`,
	`CREATE INDEX IF NOT EXISTS records_url_check ON records (url_status, url_checked_at)`,
	`CREATE INDEX IF NOT EXISTS records_city ON records (city_code)`,
	`CREATE TABLE IF NOT EXISTS classification_attempts (
		id                 BIGSERIAL PRIMARY KEY,
		job_hash           TEXT NOT NULL,
		provider           TEXT NOT NULL,
		model              TEXT NOT NULL,
		latency_ms         BIGINT NOT NULL,
		input_tokens       INTEGER NOT NULL,
		output_tokens      INTEGER NOT NULL,
		cost               DOUBLE PRECISION NOT NULL,
		parse_success      BOOLEAN NOT NULL,
		fallback_triggered BOOLEAN NOT NULL,
		error              TEXT NOT NULL DEFAULT '',
		at                 TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS attempts_at ON classification_attempts (at)`,
	`CREATE TABLE IF NOT EXISTS review_queue (
		id         BIGSERIAL PRIMARY KEY,
		kind       TEXT NOT NULL,
		job_hash   TEXT NOT NULL DEFAULT '',
		employer   TEXT NOT NULL DEFAULT '',
		title      TEXT NOT NULL DEFAULT '',
		url        TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

const (
	constraintJobHash  = "records_job_hash_unique"
	constraintEmployer = "records_employer_fk"
)

// PostgresStore is the hosted canonical store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies the connection and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	err = runInTx(ctx, pool, func(tx pgx.Tx) error {
		for _, stmt := range postgresSchema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func runInTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isViolationOnConstraint(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == code && pgErr.ConstraintName == constraint
}

// mapPgError converts constraint violations into the model sentinels.
func mapPgError(err error) error {
	switch {
	case isViolationOnConstraint(err, "23503", constraintEmployer):
		return fmt.Errorf("%w: %v", model.ErrEmployerMissing, err)
	case isViolationOnConstraint(err, "23505", constraintJobHash):
		return fmt.Errorf("%w: %v", model.ErrDuplicateHash, err)
	}
	return err
}

func scanPgRecord(row pgx.Row) (*model.CanonicalRecord, error) {
	var (
		r                                              model.CanonicalRecord
		classification, merged                         *string
		scope, status, dataSource, descSource, quality string
		urlStatus                                      string
	)
	err := row.Scan(&r.ID, &r.JobHash, &r.EmployerName, &r.TitleDisplay, &r.CityCode, &scope, &r.LocationText,
		&classification, &status, &dataSource, &r.SourceJobID, &descSource,
		&quality, &r.DescriptionText, &r.Deduplicated, &merged, &r.OriginalURL,
		&r.OriginalURLSecondary, &r.PostedDate, &r.LastSeenDate, &urlStatus, &r.URLCheckedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.Classification, err = decodeClassification(classification); err != nil {
		return nil, err
	}
	r.ScopeKind = model.ScopeKind(scope)
	r.ClassificationStatus = model.ClassificationStatus(status)
	r.DataSource = model.Source(dataSource)
	r.DescriptionSource = model.Source(descSource)
	r.DescriptionQuality = model.DescriptionQuality(quality)
	r.MergedFromSource = toOptSource(merged)
	r.URLStatus = model.URLStatus(urlStatus)
	return &r, nil
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.CanonicalRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		r, err := scanPgRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetByHash returns the record with the given job_hash or model.ErrNotFound.
func (s *PostgresStore) GetByHash(ctx context.Context, jobHash string) (*model.CanonicalRecord, error) {
	r, err := scanPgRecord(s.pool.QueryRow(ctx, "SELECT "+recordColumns+" FROM records WHERE job_hash = $1", jobHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", jobHash, err)
	}
	return r, nil
}

// Insert adds a new record, mapping constraint violations onto the model sentinels.
func (s *PostgresStore) Insert(ctx context.Context, r *model.CanonicalRecord) error {
	classification, err := encodeClassification(r.Classification)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, "INSERT INTO records ("+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		r.ID, r.JobHash, r.EmployerName, r.TitleDisplay, r.CityCode, string(r.ScopeKind), r.LocationText,
		classification, string(r.ClassificationStatus), string(r.DataSource), r.SourceJobID, string(r.DescriptionSource),
		string(r.DescriptionQuality), r.DescriptionText, r.Deduplicated, optSource(r.MergedFromSource), r.OriginalURL,
		r.OriginalURLSecondary, r.PostedDate, r.LastSeenDate, string(r.URLStatus), r.URLCheckedAt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", r.JobHash, mapPgError(err))
	}
	return nil
}

// Update writes the mutable fields of an existing record. It never writes
// the classification; a changed description resets its status to pending.
func (s *PostgresStore) Update(ctx context.Context, r *model.CanonicalRecord) error {
	tag, err := s.pool.Exec(ctx, `UPDATE records SET
		classification_status = CASE WHEN description_text <> $6 THEN $13 ELSE classification_status END,
		title_display = $1, location_text = $2,
		description_source = $4, description_quality = $5, description_text = $6, deduplicated = $7,
		merged_from_source = $8, original_url = $9, original_url_secondary = $10, last_seen_date = $11, updated_at = $12
		WHERE job_hash = $3`,
		r.TitleDisplay, r.LocationText, r.JobHash,
		string(r.DescriptionSource), string(r.DescriptionQuality), r.DescriptionText, r.Deduplicated,
		optSource(r.MergedFromSource), r.OriginalURL, r.OriginalURLSecondary, r.LastSeenDate, r.UpdatedAt,
		string(model.ClassificationPending))
	if err != nil {
		return fmt.Errorf("updating record %s: %w", r.JobHash, mapPgError(err))
	}
	return expectTag(tag, r.JobHash)
}

func expectTag(tag pgconn.CommandTag, jobHash string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", jobHash, model.ErrNotFound)
	}
	return nil
}

// UpsertEmployer creates the employer if it does not exist yet.
func (s *PostgresStore) UpsertEmployer(ctx context.Context, e model.Employer) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO employers (name, display_name, created_at) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING",
		e.Name, e.DisplayName, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting employer %s: %w", e.Name, err)
	}
	return nil
}

// SaveClassification sets the status and, when result is non-nil, the classification.
func (s *PostgresStore) SaveClassification(ctx context.Context, jobHash string, status model.ClassificationStatus, result *model.ClassificationResult) error {
	classification, err := encodeClassification(result)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE records SET classification_status = $1, classification = COALESCE($2::jsonb, classification), updated_at = now() WHERE job_hash = $3",
		string(status), classification, jobHash)
	if err != nil {
		return fmt.Errorf("saving classification %s: %w", jobHash, err)
	}
	return expectTag(tag, jobHash)
}

// RecordAttempts appends to the attempt log in one batch.
func (s *PostgresStore) RecordAttempts(ctx context.Context, attempts []model.ClassificationAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range attempts {
		batch.Queue(`INSERT INTO classification_attempts
			(job_hash, provider, model, latency_ms, input_tokens, output_tokens, cost, parse_success, fallback_triggered, error, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			a.JobHash, a.Provider, a.Model, a.Latency.Milliseconds(), a.InputTokens, a.OutputTokens, a.Cost,
			a.ParseSuccess, a.FallbackTriggered, a.Error, a.At)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("recording attempts: %w", err)
	}
	return nil
}

// ListAttempts returns attempts at or after since, oldest first.
func (s *PostgresStore) ListAttempts(ctx context.Context, since time.Time) ([]model.ClassificationAttempt, error) {
	rows, err := s.pool.Query(ctx, `SELECT job_hash, provider, model, latency_ms, input_tokens, output_tokens,
		cost, parse_success, fallback_triggered, error, at
		FROM classification_attempts WHERE at >= $1 ORDER BY at, id`, since)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var out []model.ClassificationAttempt
	for rows.Next() {
		var (
			a         model.ClassificationAttempt
			latencyMS int64
		)
		if err := rows.Scan(&a.JobHash, &a.Provider, &a.Model, &latencyMS, &a.InputTokens, &a.OutputTokens,
			&a.Cost, &a.ParseSuccess, &a.FallbackTriggered, &a.Error, &a.At); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

// PendingClassification returns pending or failed records, least recently touched first.
func (s *PostgresStore) PendingClassification(ctx context.Context, limit int) ([]model.CanonicalRecord, error) {
	recs, err := s.queryRecords(ctx, "SELECT "+recordColumns+` FROM records
		WHERE classification_status IN ($1, $2) ORDER BY updated_at LIMIT $3`,
		string(model.ClassificationPending), string(model.ClassificationFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending classification: %w", err)
	}
	return recs, nil
}

// DueForURLCheck returns non-terminal records due a check, never-checked first.
func (s *PostgresStore) DueForURLCheck(ctx context.Context, checkedBefore time.Time, limit int) ([]model.CanonicalRecord, error) {
	recs, err := s.queryRecords(ctx, "SELECT "+recordColumns+` FROM records
		WHERE url_status NOT IN (`+terminalList()+`)
		  AND (url_checked_at IS NULL OR url_checked_at < $1)
		ORDER BY url_checked_at ASC NULLS FIRST, id
		LIMIT $2`, checkedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("listing records due for url check: %w", err)
	}
	return recs, nil
}

// UpdateURLStatus records a check result; terminal records are left untouched.
func (s *PostgresStore) UpdateURLStatus(ctx context.Context, jobHash string, status model.URLStatus, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE records SET url_status = $1, url_checked_at = $2, updated_at = $2
		WHERE job_hash = $3 AND url_status NOT IN (`+terminalList()+`)`,
		string(status), checkedAt, jobHash)
	if err != nil {
		return fmt.Errorf("updating url status %s: %w", jobHash, err)
	}
	return expectTag(tag, jobHash)
}

// ActiveFeed returns records whose URL is not dead, optionally limited to scope codes.
func (s *PostgresStore) ActiveFeed(ctx context.Context, scopeCodes []string) ([]model.CanonicalRecord, error) {
	var b strings.Builder
	b.WriteString("SELECT " + recordColumns + " FROM records WHERE url_status NOT IN (" + terminalList() + ")")
	var args []any
	if len(scopeCodes) > 0 {
		b.WriteString(" AND city_code = ANY($1)")
		args = append(args, scopeCodes)
	}
	b.WriteString(" ORDER BY posted_date DESC, id")
	recs, err := s.queryRecords(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing active feed: %w", err)
	}
	return recs, nil
}

// EnqueueReview adds an item to the operator review queue.
func (s *PostgresStore) EnqueueReview(ctx context.Context, item model.ReviewItem) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO review_queue (kind, job_hash, employer, title, url, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(item.Kind), item.JobHash, item.Employer, item.Title, item.URL, item.Detail, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueueing review for %s: %w", item.JobHash, err)
	}
	return nil
}

// ListReviews returns the newest review items.
func (s *PostgresStore) ListReviews(ctx context.Context, limit int) ([]model.ReviewItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, job_hash, employer, title, url, detail, created_at
		FROM review_queue ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		var (
			item model.ReviewItem
			kind string
		)
		if err := rows.Scan(&kind, &item.JobHash, &item.Employer, &item.Title, &item.URL, &item.Detail, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		item.Kind = model.ReviewKind(kind)
		out = append(out, item)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
