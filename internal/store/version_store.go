package store

import (
	"context"

	"vaultd/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type VersionStore struct{ db *gorm.DB }

func (s *Store) Versions() *VersionStore { return &VersionStore{db: s.DB} }

func (v *VersionStore) Create(ctx context.Context, version *domain.DocumentVersion) error {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	return v.db.WithContext(ctx).Create(version).Error
}

// MaxVersion returns 0 for a document with no version rows.
func (v *VersionStore) MaxVersion(ctx context.Context, documentID uuid.UUID) (int, error) {
	var max *int
	err := v.db.WithContext(ctx).Model(&domain.DocumentVersion{}).
		Where("document_id = ?", documentID).
		Select("MAX(version)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (v *VersionStore) ListForDocument(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error) {
	var versions []domain.DocumentVersion
	err := v.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("version asc").
		Find(&versions).Error
	return versions, err
}

func (v *VersionStore) CountForDocument(ctx context.Context, documentID uuid.UUID) (int64, error) {
	var total int64
	err := v.db.WithContext(ctx).Model(&domain.DocumentVersion{}).
		Where("document_id = ?", documentID).
		Count(&total).Error
	return total, err
}

// CountForTenant counts version rows across all of the tenant's documents.
func (v *VersionStore) CountForTenant(ctx context.Context, tenantID string) (int64, error) {
	var total int64
	err := v.db.WithContext(ctx).Model(&domain.DocumentVersion{}).
		Joins("JOIN archived_documents ON archived_documents.id = document_versions.document_id").
		Where("archived_documents.tenant_id = ?", tenantID).
		Count(&total).Error
	return total, err
}
