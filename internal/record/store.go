package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/medscreen/screening-registry/internal/keygen"
	"github.com/medscreen/screening-registry/pkg/metrics"
)

// RandomKeys configures collision-retried key assignment for entities whose
// primary key is a generated number rather than a caller-supplied value.
type RandomKeys struct {
	Generator *keygen.Generator
	Attempts  int
}

// Descriptor describes one entity's table shape and the variation points of
// its store: how the natural key and content columns are extracted, whether
// keys are random, and which safety valves apply.
type Descriptor[T any] struct {
	Table     string
	KeyColumn string

	// ActiveUnique names the partial unique index that enforces natural-key
	// uniqueness among non-deleted rows. Leave empty when the primary key
	// doubles as the natural key.
	ActiveUnique string

	// PrimaryKeyConstraint is set for random-key entities so a primary-key
	// collision stays retryable instead of surfacing as a duplicate.
	PrimaryKeyConstraint string

	// OrderBy is the natural-key ordering applied to List.
	OrderBy string

	// ListColumns is the summary projection for List. Nil selects all.
	ListColumns []string

	Key        func(*T) any
	SetKey     func(*T, int64)
	NaturalKey func(*T) map[string]any
	Content    func(*T) map[string]any
	Meta       func(*T) *Meta

	Keys *RandomKeys

	// HardDeleteOnConflict enables the last-resort escape hatch: a soft
	// delete that somehow trips a uniqueness constraint hard-deletes the row
	// rather than leaving a half-state. Structurally this should never fire;
	// when it does, the store logs an error and bumps an alerting counter.
	HardDeleteOnConflict bool
}

// Store implements create, read, list, soft delete, replace, and restore for
// one entity. Every mutation is a single conditional statement keyed on the
// row's lifecycle state; the loser of a same-key race observes a no-match or
// a duplicate, never a corrupt row.
type Store[T any] struct {
	db   *gorm.DB
	desc Descriptor[T]
	log  *zap.Logger
	met  *metrics.Collector
	now  func() time.Time
}

func NewStore[T any](db *gorm.DB, desc Descriptor[T], log *zap.Logger, met *metrics.Collector) *Store[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store[T]{
		db:   db,
		desc: desc,
		log:  log,
		met:  met,
		now:  time.Now,
	}
}

// Create inserts rec as a fresh active record, stamping lifecycle and
// provenance fields. A uniqueness violation surfaces as ErrDuplicate;
// nothing is resurrected on this path.
func (s *Store[T]) Create(ctx context.Context, rec *T, id Identity) error {
	defer s.observe("create", time.Now())

	s.stamp(rec, id)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return s.classify(err)
	}

	s.log.Info("record created",
		zap.String("table", s.desc.Table),
		zap.Any("key", s.desc.Key(rec)),
	)
	return nil
}

// CreateWithKey inserts rec under a freshly generated random primary key,
// retrying with a new key while the insert reports a primary-key collision.
// The retry budget comes from the descriptor; spending it all returns a
// *keygen.ExhaustionError carrying the rejected record.
func (s *Store[T]) CreateWithKey(ctx context.Context, rec *T, id Identity) (int64, error) {
	if s.desc.Keys == nil || s.desc.SetKey == nil {
		return 0, fmt.Errorf("store %s is not configured for random keys", s.desc.Table)
	}

	collided := func(err error) bool {
		constraint, ok := uniqueViolation(err)
		if !ok || constraint != s.desc.PrimaryKeyConstraint {
			return false
		}
		if s.met != nil {
			s.met.KeygenRetriesTotal.Inc()
		}
		return true
	}

	key, err := keygen.WithRetry(ctx, s.desc.Keys.Generator, s.desc.Keys.Attempts, rec, collided,
		func(ctx context.Context, key int64) error {
			s.desc.SetKey(rec, key)
			return s.Create(ctx, rec, id)
		})

	var exhausted *keygen.ExhaustionError
	if errors.As(err, &exhausted) {
		if s.met != nil {
			s.met.KeygenExhaustedTotal.Inc()
		}
		s.log.Error("key generation exhausted",
			zap.String("table", s.desc.Table),
			zap.Int("attempts", exhausted.Attempts),
			zap.Any("rejected", exhausted.Rejected),
		)
	}
	return key, err
}

// Upsert is the resurrecting create: one atomic statement that revives the
// most recently deleted record holding rec's natural key (overwriting content
// and modification provenance, preserving creation provenance) or inserts a
// fresh row when no deleted one exists. An active record holding the key
// surfaces as ErrDuplicate. On success rec is refreshed from the stored row,
// including the preserved created_at/created_by, and revived reports which
// path was taken.
func (s *Store[T]) Upsert(ctx context.Context, rec *T, id Identity) (revived bool, err error) {
	defer s.observe("upsert", time.Now())

	now := s.stamp(rec, id)
	meta := s.desc.Meta(rec)

	query, args := buildReviveOrInsert(
		s.desc.Table,
		s.desc.KeyColumn,
		s.desc.Key(rec),
		sortedCols(s.desc.NaturalKey(rec)),
		sortedCols(s.desc.Content(rec)),
		now,
		actorJSON(meta.CreatedBy),
		actorJSON(meta.ModifiedBy),
	)

	res := s.db.WithContext(ctx).Raw(query, args...).Scan(rec)
	if res.Error != nil {
		return false, s.classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return false, fmt.Errorf("upsert on %s affected no rows", s.desc.Table)
	}

	revived = !s.desc.Meta(rec).CreatedAt.Equal(now)
	if revived {
		if s.met != nil {
			s.met.ResurrectionsTotal.WithLabelValues(s.desc.Table).Inc()
		}
		s.log.Info("deleted record revived",
			zap.String("table", s.desc.Table),
			zap.Any("key", s.desc.Key(rec)),
		)
	}
	return revived, nil
}

// Get returns the active record matching filter, or ErrNotFound.
func (s *Store[T]) Get(ctx context.Context, filter map[string]any) (*T, error) {
	defer s.observe("get", time.Now())

	rec := new(T)
	err := s.db.WithContext(ctx).
		Where("deleted_at IS NULL").
		Where(filter).
		Take(rec).Error
	if err != nil {
		return nil, s.classify(err)
	}
	return rec, nil
}

// GetAny is Get with deleted records included, preferring an active match.
// Duplicate-conflict reporting uses it to show the caller the record holding
// the contested key even when that record is deleted.
func (s *Store[T]) GetAny(ctx context.Context, filter map[string]any) (*T, error) {
	defer s.observe("get", time.Now())

	rec := new(T)
	err := s.db.WithContext(ctx).
		Where(filter).
		Order("deleted_at ASC NULLS FIRST").
		Take(rec).Error
	if err != nil {
		return nil, s.classify(err)
	}
	return rec, nil
}

// List returns the active records matching filter in natural-key order,
// projected to the descriptor's summary columns.
func (s *Store[T]) List(ctx context.Context, filter map[string]any) ([]T, error) {
	defer s.observe("list", time.Now())

	q := s.db.WithContext(ctx).Model(new(T)).Where("deleted_at IS NULL")
	if len(filter) > 0 {
		q = q.Where(filter)
	}
	if len(s.desc.ListColumns) > 0 {
		q = q.Select(s.desc.ListColumns)
	}

	var out []T
	if err := q.Order(s.desc.OrderBy).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListDeleted returns the deletion history matching filter, oldest deletion
// first. Used by audit/history views.
func (s *Store[T]) ListDeleted(ctx context.Context, filter map[string]any) ([]T, error) {
	defer s.observe("list_deleted", time.Now())

	q := s.db.WithContext(ctx).Model(new(T)).Where("deleted_at IS NOT NULL")
	if len(filter) > 0 {
		q = q.Where(filter)
	}

	var out []T
	if err := q.Order("deleted_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Remove soft-deletes the active record matching filter, stamping deleted_at
// and refreshing modification provenance. It reports false when no active
// record matched: deleting an already-deleted or unknown record is a no-op,
// never an error, and never double-stamps deleted_at.
func (s *Store[T]) Remove(ctx context.Context, filter map[string]any, id Identity) (bool, error) {
	defer s.observe("remove", time.Now())

	now := s.now().UTC().Truncate(time.Microsecond)
	updates := map[string]any{
		"deleted_at":  now,
		"modified_at": now,
	}
	if a := id.Snapshot(); a != nil {
		updates["modified_by"] = gorm.Expr("?::jsonb", marshalJSON(a))
	}

	res := s.db.WithContext(ctx).Model(new(T)).
		Where("deleted_at IS NULL").
		Where(filter).
		Updates(updates)

	if res.Error != nil {
		if _, ok := uniqueViolation(res.Error); ok && s.desc.HardDeleteOnConflict {
			return s.hardDelete(ctx, filter)
		}
		return false, s.classify(res.Error)
	}

	if res.RowsAffected > 0 {
		s.log.Info("record soft-deleted",
			zap.String("table", s.desc.Table),
			zap.Any("filter", filter),
		)
	}
	return res.RowsAffected > 0, nil
}

// hardDelete is the escape hatch behind Descriptor.HardDeleteOnConflict. A
// uniqueness violation during a soft delete is an invariant violation, so it
// is logged at error level and counted for alerting before the row is
// removed outright.
func (s *Store[T]) hardDelete(ctx context.Context, filter map[string]any) (bool, error) {
	s.log.Error("uniqueness violation during soft delete, falling back to hard delete",
		zap.String("table", s.desc.Table),
		zap.Any("filter", filter),
	)
	if s.met != nil {
		s.met.HardDeleteFallbacks.WithLabelValues(s.desc.Table).Inc()
	}

	res := s.db.WithContext(ctx).Where(filter).Delete(new(T))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Replace overwrites the content of the active record holding rec's natural
// key, refreshing modification provenance and leaving creation provenance
// untouched. Deleted and missing records report false; resurrection goes
// through Upsert, not Replace.
func (s *Store[T]) Replace(ctx context.Context, rec *T, id Identity) (bool, error) {
	defer s.observe("replace", time.Now())

	now := s.now().UTC().Truncate(time.Microsecond)
	updates := map[string]any{
		"modified_at": now,
	}
	for name, value := range s.desc.Content(rec) {
		updates[name] = updateValue(value)
	}
	if a := id.Snapshot(); a != nil {
		updates["modified_by"] = gorm.Expr("?::jsonb", marshalJSON(a))
	}

	res := s.db.WithContext(ctx).Model(new(T)).
		Where("deleted_at IS NULL").
		Where(s.desc.NaturalKey(rec)).
		Updates(updates)
	if res.Error != nil {
		return false, s.classify(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Restore clears deleted_at on the deleted record matching filter without
// touching content. It reports false when nothing was deleted under that
// key, and ErrDuplicate when an active record already holds the natural key.
func (s *Store[T]) Restore(ctx context.Context, filter map[string]any) (bool, error) {
	defer s.observe("restore", time.Now())

	res := s.db.WithContext(ctx).Model(new(T)).
		Where("deleted_at IS NOT NULL").
		Where(filter).
		Updates(map[string]any{"deleted_at": nil})
	if res.Error != nil {
		return false, s.classify(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// stamp initializes rec's lifecycle and provenance for a write happening
// now. Timestamps are truncated to microseconds to match what Postgres
// stores, so a value read back compares equal to the one written.
func (s *Store[T]) stamp(rec *T, id Identity) time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	meta := s.desc.Meta(rec)
	actor := id.Snapshot()

	meta.CreatedAt = now
	meta.ModifiedAt = now
	meta.DeletedAt = nil
	meta.CreatedBy = actor
	meta.ModifiedBy = actor
	return now
}

// classify maps driver errors into the store's taxonomy. Only "nothing
// matched" and uniqueness violations are translated; everything else
// propagates unchanged so connectivity failures stay visible upstream.
func (s *Store[T]) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if constraint, ok := uniqueViolation(err); ok {
		switch {
		case s.desc.PrimaryKeyConstraint != "" && constraint == s.desc.PrimaryKeyConstraint:
			// Retryable key collision; the retry wrapper branches on it.
			return err
		case s.desc.ActiveUnique == "" || constraint == s.desc.ActiveUnique:
			if s.met != nil {
				s.met.NaturalKeyConflicts.WithLabelValues(s.desc.Table).Inc()
			}
			return fmt.Errorf("%w (constraint %s)", ErrDuplicate, constraint)
		}
	}
	return err
}

func (s *Store[T]) observe(op string, start time.Time) {
	if s.met != nil {
		s.met.StoreOpDuration.WithLabelValues(op, s.desc.Table).Observe(time.Since(start).Seconds())
	}
}

func updateValue(v any) any {
	if jv, ok := v.(jsonValue); ok {
		m := marshalJSON(jv.v)
		if m == nil {
			return nil
		}
		return gorm.Expr("?::jsonb", m)
	}
	return v
}

// Postgres error code for unique_violation.
const codeUniqueViolation = "23505"

// uniqueViolation reports whether err is a uniqueness violation and, if so,
// names the violated constraint or index.
func uniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
