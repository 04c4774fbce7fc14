package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/amishk599/jobpipe/internal/lock"
	"github.com/amishk599/jobpipe/internal/model"
)

// Outcome is what Ingest did with a posting.
type Outcome string

const (
	OutcomeNew            Outcome = "new"
	OutcomeRepeat         Outcome = "repeat"
	OutcomeMerged         Outcome = "merged"
	OutcomeMergedUpgraded Outcome = "merged_upgraded"
)

// NeedsClassification reports whether the record's text changed in a way
// that requires a classifier run.
func (o Outcome) NeedsClassification() bool {
	return o == OutcomeNew || o == OutcomeMergedUpgraded
}

// Result is the record as stored after Ingest.
type Result struct {
	Outcome Outcome
	Record  *model.CanonicalRecord
}

// Engine folds normalized postings into canonical records. Writes for the
// same job_hash are serialized through the locker.
type Engine struct {
	store     model.RecordStore
	locker    lock.Locker
	norm      *Normalizer
	employers *cache.Cache
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine. A nil normalizer uses the default vocabulary.
func NewEngine(store model.RecordStore, locker lock.Locker, norm *Normalizer, logger *slog.Logger) *Engine {
	if norm == nil {
		norm = defaultNormalizer
	}
	return &Engine{
		store:     store,
		locker:    locker,
		norm:      norm,
		employers: cache.New(time.Hour, 10*time.Minute),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Hash computes the job_hash a posting resolves to within scope.
func (e *Engine) Hash(p model.NormalizedPosting, scope model.LocationScope) string {
	return e.norm.Fingerprint(p.CompanyName, p.Title, scope.Code)
}

// Lock takes the per-hash lock Ingest uses. Writers outside the engine that
// read-modify-write a record hold it so they never interleave with a merge.
func (e *Engine) Lock(ctx context.Context, hash string) (func(), error) {
	return e.locker.Lock(ctx, hash)
}

// Ingest inserts, refreshes or merges the posting. An incompatible stored
// record yields *model.DedupIntegrityViolation and nothing is written.
func (e *Engine) Ingest(ctx context.Context, p model.NormalizedPosting, scope model.LocationScope) (Result, error) {
	hash := e.Hash(p, scope)
	release, err := e.locker.Lock(ctx, hash)
	if err != nil {
		return Result{}, fmt.Errorf("lock %s: %w", hash, err)
	}
	defer release()

	// Two attempts: a concurrent writer outside our locker can win the
	// insert, after which the second pass takes the merge path.
	for attempt := 0; ; attempt++ {
		existing, err := e.store.GetByHash(ctx, hash)
		switch {
		case errors.Is(err, model.ErrNotFound):
			res, err := e.insert(ctx, hash, p, scope)
			if errors.Is(err, model.ErrDuplicateHash) && attempt == 0 {
				continue
			}
			return res, err
		case err != nil:
			return Result{}, fmt.Errorf("get %s: %w", hash, err)
		}
		return e.merge(ctx, existing, p)
	}
}

func (e *Engine) insert(ctx context.Context, hash string, p model.NormalizedPosting, scope model.LocationScope) (Result, error) {
	now := e.now()
	employer := NormalizeEmployer(p.CompanyName)
	if err := e.ensureEmployer(ctx, employer, p.CompanyName); err != nil {
		return Result{}, err
	}

	posted := now
	if p.PostedAt != nil {
		posted = p.PostedAt.UTC()
	}
	rec := &model.CanonicalRecord{
		ID:                   uuid.NewString(),
		JobHash:              hash,
		EmployerName:         employer,
		TitleDisplay:         p.Title,
		CityCode:             scope.Code,
		ScopeKind:            scope.Kind,
		LocationText:         p.LocationText,
		ClassificationStatus: model.ClassificationPending,
		DataSource:           p.Source,
		SourceJobID:          p.SourceJobID,
		DescriptionSource:    p.Source,
		DescriptionQuality:   p.DescriptionQuality,
		DescriptionText:      p.DescriptionText,
		OriginalURL:          p.PostingURL,
		PostedDate:           posted,
		LastSeenDate:         now,
		URLStatus:            model.URLActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err := e.store.Insert(ctx, rec)
	if errors.Is(err, model.ErrEmployerMissing) {
		// Cached employer was removed underneath us; recreate and retry once.
		e.employers.Delete(employer)
		if err := e.ensureEmployer(ctx, employer, p.CompanyName); err != nil {
			return Result{}, err
		}
		err = e.store.Insert(ctx, rec)
	}
	if err != nil {
		return Result{}, fmt.Errorf("insert %s: %w", hash, err)
	}
	e.logger.Debug("new canonical record", "job_hash", hash, "employer", employer, "source", p.Source)
	return Result{Outcome: OutcomeNew, Record: rec}, nil
}

func (e *Engine) ensureEmployer(ctx context.Context, name, display string) error {
	if _, ok := e.employers.Get(name); ok {
		return nil
	}
	if err := e.store.UpsertEmployer(ctx, model.Employer{Name: name, DisplayName: display, CreatedAt: e.now()}); err != nil {
		return fmt.Errorf("upsert employer %q: %w", name, err)
	}
	e.employers.SetDefault(name, struct{}{})
	return nil
}

func (e *Engine) merge(ctx context.Context, rec *model.CanonicalRecord, p model.NormalizedPosting) (Result, error) {
	if err := e.checkIntegrity(rec, p); err != nil {
		return Result{}, err
	}

	now := e.now()
	rec.LastSeenDate = now
	rec.UpdatedAt = now

	outcome := OutcomeRepeat
	if !seenFrom(rec, p.Source) {
		src := p.Source
		rec.Deduplicated = true
		rec.MergedFromSource = &src
		if supersedes(p, rec) {
			prior := rec.OriginalURL
			rec.OriginalURLSecondary = &prior
			rec.OriginalURL = p.PostingURL
			rec.DescriptionText = p.DescriptionText
			rec.DescriptionSource = p.Source
			rec.DescriptionQuality = p.DescriptionQuality
			rec.ClassificationStatus = model.ClassificationPending
			outcome = OutcomeMergedUpgraded
		} else {
			if p.PostingURL != rec.OriginalURL {
				secondary := p.PostingURL
				rec.OriginalURLSecondary = &secondary
			}
			outcome = OutcomeMerged
		}
	}

	if err := e.store.Update(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("update %s: %w", rec.JobHash, err)
	}
	e.logger.Debug("existing canonical record", "job_hash", rec.JobHash, "outcome", outcome, "source", p.Source)
	return Result{Outcome: outcome, Record: rec}, nil
}

// checkIntegrity refuses to merge a posting whose identity disagrees with
// the stored record despite sharing its hash. Two distinct requisitions
// from the same source are the common case.
func (e *Engine) checkIntegrity(rec *model.CanonicalRecord, p model.NormalizedPosting) error {
	incomingEmployer := NormalizeEmployer(p.CompanyName)
	if rec.EmployerName != incomingEmployer {
		return &model.DedupIntegrityViolation{JobHash: rec.JobHash, Stored: rec.EmployerName, Incoming: incomingEmployer}
	}
	if stored, incoming := e.norm.Title(rec.TitleDisplay), e.norm.Title(p.Title); stored != incoming {
		return &model.DedupIntegrityViolation{JobHash: rec.JobHash, Stored: stored, Incoming: incoming}
	}
	if p.Source == rec.DataSource && rec.SourceJobID != nil && p.SourceJobID != nil && *rec.SourceJobID != *p.SourceJobID {
		return &model.DedupIntegrityViolation{
			JobHash:  rec.JobHash,
			Stored:   fmt.Sprintf("%s id %s", rec.DataSource, *rec.SourceJobID),
			Incoming: fmt.Sprintf("%s id %s", p.Source, *p.SourceJobID),
		}
	}
	return nil
}

func seenFrom(rec *model.CanonicalRecord, src model.Source) bool {
	return rec.DataSource == src || rec.DescriptionSource == src ||
		(rec.MergedFromSource != nil && *rec.MergedFromSource == src)
}

// supersedes reports whether the incoming description should replace the
// stored one: full beats truncated, and between two full texts the strictly
// longer wins. Ties keep the first-seen text.
func supersedes(p model.NormalizedPosting, rec *model.CanonicalRecord) bool {
	if p.DescriptionQuality.Rank() != rec.DescriptionQuality.Rank() {
		return p.DescriptionQuality.Rank() > rec.DescriptionQuality.Rank()
	}
	return p.DescriptionQuality == model.QualityFull && len(p.DescriptionText) > len(rec.DescriptionText)
}
