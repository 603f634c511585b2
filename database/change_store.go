package database

import (
	"context"
	"time"

	"github.com/yeremiapane/inventory-sync/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChangeStore is the gorm-backed change log fed by the capture triggers or
// callbacks.
type ChangeStore struct {
	db      *gorm.DB
	dialect Dialect
	now     func() time.Time
}

func NewChangeStore(db *gorm.DB, dialect Dialect) *ChangeStore {
	return &ChangeStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the store's time source, used by tests.
func (s *ChangeStore) WithClock(now func() time.Time) *ChangeStore {
	s.now = now
	return s
}

// Claim leases up to limit unprocessed records to owner, oldest first. Records
// already claimed by someone else are skipped until their lease expires.
func (s *ChangeStore) Claim(ctx context.Context, owner string, limit int, lease time.Duration) ([]models.ChangeRecord, error) {
	now := s.now()
	var claimed []models.ChangeRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.ChangeRecord{}).
			Where("processed = ?", false).
			Where("(claimed_at IS NULL OR claimed_at < ?)", now.Add(-lease)).
			Order("id ASC").
			Limit(limit)
		// sqlite has no row locks; its single writer serializes claims
		if s.dialect != DialectSQLite {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var ids []uint64
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Model(&models.ChangeRecord{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"claimed_by": owner, "claimed_at": now}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Order("id ASC").Find(&claimed).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkProcessed flips records to processed. Already processed records keep
// their original processed_at.
func (s *ChangeStore) MarkProcessed(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.ChangeRecord{}).
		Where("id IN ? AND processed = ?", ids, false).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": s.now(),
			"claimed_by":   nil,
			"claimed_at":   nil,
		}).Error
}

// Release drops owner's claim on unprocessed records so the next tick picks
// them up without waiting for the lease.
func (s *ChangeStore) Release(ctx context.Context, owner string, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.ChangeRecord{}).
		Where("id IN ? AND claimed_by = ? AND processed = ?", ids, owner, false).
		Updates(map[string]any{"claimed_by": nil, "claimed_at": nil}).Error
}

// DeleteProcessedBefore removes processed records older than cutoff.
func (s *ChangeStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("processed = ? AND processed_at < ?", true, cutoff.UTC()).
		Delete(&models.ChangeRecord{})
	return res.RowsAffected, res.Error
}

// CountUnprocessedBefore counts records still waiting that were captured
// before cutoff.
func (s *ChangeStore) CountUnprocessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ChangeRecord{}).
		Where("processed = ? AND created_at < ?", false, cutoff.UTC()).
		Count(&n).Error
	return n, err
}

func (s *ChangeStore) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ChangeRecord{}).
		Where("processed = ?", false).
		Count(&n).Error
	return n, err
}

// LatestID returns the highest change record id, 0 for an empty log.
func (s *ChangeStore) LatestID(ctx context.Context) (uint64, error) {
	var id uint64
	err := s.db.WithContext(ctx).Model(&models.ChangeRecord{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id).Error
	return id, err
}

// ChangeFilter narrows List. Zero values mean no filter.
type ChangeFilter struct {
	Table     string
	Processed *bool
	Limit     int
}

// List returns the most recent records first.
func (s *ChangeStore) List(ctx context.Context, f ChangeFilter) ([]models.ChangeRecord, error) {
	q := s.db.WithContext(ctx).Model(&models.ChangeRecord{}).Order("id DESC")
	if f.Table != "" {
		q = q.Where("table_name = ?", f.Table)
	}
	if f.Processed != nil {
		q = q.Where("processed = ?", *f.Processed)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var records []models.ChangeRecord
	if err := q.Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
