package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vaultd/internal/domain"

	"gorm.io/gorm"
)

type AuditEntryStore struct{ db *gorm.DB }

func (s *Store) AuditEntries() *AuditEntryStore { return &AuditEntryStore{db: s.DB} }

// Create inserts one chain entry. Losing a concurrent race for the same
// (tenant, sequence) slot is a conflict, not a raw driver error.
func (a *AuditEntryStore) Create(ctx context.Context, entry *domain.AuditEntry) error {
	err := a.db.WithContext(ctx).Create(entry).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: sequence %d already written for tenant %s", domain.ErrConflict, entry.Sequence, entry.TenantID)
	}
	return err
}

// Last returns the highest-sequence entry for the tenant, or ErrRecordNotFound
// for an empty chain.
func (a *AuditEntryStore) Last(ctx context.Context, tenantID string) (*domain.AuditEntry, error) {
	var entry domain.AuditEntry
	err := a.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sequence desc").
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// ListForTenant returns the full chain in sequence order.
func (a *AuditEntryStore) ListForTenant(ctx context.Context, tenantID string) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	err := a.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sequence asc").
		Find(&entries).Error
	return entries, err
}

func (a *AuditEntryStore) CountForTenant(ctx context.Context, tenantID string) (int64, error) {
	var total int64
	err := a.db.WithContext(ctx).Model(&domain.AuditEntry{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error
	return total, err
}

func (a *AuditEntryStore) CountByAction(ctx context.Context, tenantID string, action domain.Action) (int64, error) {
	var total int64
	err := a.db.WithContext(ctx).Model(&domain.AuditEntry{}).
		Where("tenant_id = ? AND action = ?", tenantID, action).
		Count(&total).Error
	return total, err
}

// Bounds returns the first and last entry timestamps for the tenant.
func (a *AuditEntryStore) Bounds(ctx context.Context, tenantID string) (first, last time.Time, err error) {
	var entry domain.AuditEntry
	err = a.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sequence asc").
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return time.Time{}, time.Time{}, ErrRecordNotFound
		}
		return time.Time{}, time.Time{}, err
	}
	first = entry.Timestamp

	err = a.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sequence desc").
		First(&entry).Error
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	last = entry.Timestamp
	return first, last, nil
}

type AuditSearchParams struct {
	TenantID   string
	EntityType string
	EntityID   string
	Action     domain.Action
	ActorID    string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// Search returns a page of entries newest-first plus the total match count.
func (a *AuditEntryStore) Search(ctx context.Context, params AuditSearchParams) ([]domain.AuditEntry, int64, error) {
	q := a.db.WithContext(ctx).Model(&domain.AuditEntry{}).
		Where("tenant_id = ?", params.TenantID)
	if params.EntityType != "" {
		q = q.Where("entity_type = ?", params.EntityType)
	}
	if params.EntityID != "" {
		q = q.Where("entity_id = ?", params.EntityID)
	}
	if params.Action != "" {
		q = q.Where("action = ?", params.Action)
	}
	if params.ActorID != "" {
		q = q.Where("actor_id = ?", params.ActorID)
	}
	if params.From != nil {
		q = q.Where("timestamp >= ?", *params.From)
	}
	if params.To != nil {
		q = q.Where("timestamp <= ?", *params.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 50
	}

	var entries []domain.AuditEntry
	err := q.Order("sequence desc").
		Offset((params.Page - 1) * params.PageSize).
		Limit(params.PageSize).
		Find(&entries).Error
	return entries, total, err
}
