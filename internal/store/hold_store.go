package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vaultd/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type HoldStore struct{ db *gorm.DB }

func (s *Store) Holds() *HoldStore { return &HoldStore{db: s.DB} }

// Create inserts a hold. The partial unique index on active holds enforces
// the one-active-hold invariant even across concurrent writers; losing that
// race is a conflict.
func (h *HoldStore) Create(ctx context.Context, hold *domain.RetentionHold) error {
	if hold.ID == uuid.Nil {
		hold.ID = uuid.New()
	}
	err := h.db.WithContext(ctx).Create(hold).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: document %s already has an active hold", domain.ErrConflict, hold.DocumentID)
	}
	return err
}

// Active returns the document's active hold, or ErrRecordNotFound.
func (h *HoldStore) Active(ctx context.Context, documentID uuid.UUID) (*domain.RetentionHold, error) {
	var hold domain.RetentionHold
	err := h.db.WithContext(ctx).
		Where("document_id = ? AND released_at IS NULL", documentID).
		Order("placed_at desc").
		First(&hold).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &hold, nil
}

func (h *HoldStore) Release(ctx context.Context, holdID uuid.UUID, at time.Time, releasedBy string) error {
	return h.db.WithContext(ctx).Model(&domain.RetentionHold{}).
		Where("id = ?", holdID).
		Updates(map[string]any{"released_at": at, "released_by": releasedBy}).Error
}

func (h *HoldStore) ListForDocument(ctx context.Context, documentID uuid.UUID) ([]domain.RetentionHold, error) {
	var holds []domain.RetentionHold
	err := h.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("placed_at asc").
		Find(&holds).Error
	return holds, err
}

// ActiveDocumentIDs returns the set of tenant documents currently under hold.
func (h *HoldStore) ActiveDocumentIDs(ctx context.Context, tenantID string) (map[uuid.UUID]bool, error) {
	var ids []uuid.UUID
	err := h.db.WithContext(ctx).Model(&domain.RetentionHold{}).
		Joins("JOIN archived_documents ON archived_documents.id = retention_holds.document_id").
		Where("archived_documents.tenant_id = ? AND retention_holds.released_at IS NULL", tenantID).
		Pluck("retention_holds.document_id", &ids).Error
	if err != nil {
		return nil, err
	}
	held := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		held[id] = true
	}
	return held, nil
}

// CountForTenant returns active and total hold counts for the tenant.
func (h *HoldStore) CountForTenant(ctx context.Context, tenantID string) (active, total int64, err error) {
	base := func() *gorm.DB {
		return h.db.WithContext(ctx).Model(&domain.RetentionHold{}).
			Joins("JOIN archived_documents ON archived_documents.id = retention_holds.document_id").
			Where("archived_documents.tenant_id = ?", tenantID)
	}
	if err = base().Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = base().Where("retention_holds.released_at IS NULL").Count(&active).Error; err != nil {
		return 0, 0, err
	}
	return active, total, nil
}
