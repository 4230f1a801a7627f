package store

import (
	"context"
	"time"

	"vaultd/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentStore struct{ db *gorm.DB }

func (s *Store) Documents() *DocumentStore { return &DocumentStore{db: s.DB} }

func (d *DocumentStore) Create(ctx context.Context, doc *domain.ArchivedDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	return d.db.WithContext(ctx).Create(doc).Error
}

func (d *DocumentStore) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*domain.ArchivedDocument, error) {
	var doc domain.ArchivedDocument
	err := d.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&doc).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (d *DocumentStore) GetByContentHash(ctx context.Context, contentHash string) (*domain.ArchivedDocument, error) {
	var doc domain.ArchivedDocument
	err := d.db.WithContext(ctx).
		Where("content_hash = ?", contentHash).
		First(&doc).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (d *DocumentStore) Save(ctx context.Context, doc *domain.ArchivedDocument) error {
	return d.db.WithContext(ctx).Save(doc).Error
}

func (d *DocumentStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus) error {
	return d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// SetStatusIf transitions status only when the current status matches,
// returning the number of affected rows so batch jobs stay re-entrant.
func (d *DocumentStore) SetStatusIf(ctx context.Context, id uuid.UUID, from, to domain.DocumentStatus) (int64, error) {
	res := d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

func (d *DocumentStore) SetVerification(ctx context.Context, id uuid.UUID, at time.Time, result string, status domain.DocumentStatus, corruption domain.CorruptionType) error {
	return d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_verified_at":    at,
			"verification_result": result,
			"status":              status,
			"corruption_type":     corruption,
		}).Error
}

func (d *DocumentStore) TouchAccessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("id = ?", id).
		Update("last_accessed_at", at).Error
}

type DocumentFilter struct {
	TenantID   string
	Category   domain.RetentionCategory
	Status     domain.DocumentStatus
	EntityType string
	EntityID   string
	Tag        string
	MimeType   string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

func (d *DocumentStore) query(ctx context.Context, f DocumentFilter) *gorm.DB {
	q := d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("tenant_id = ?", f.TenantID)
	if f.Category != "" {
		q = q.Where("retention_category = ?", f.Category)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Tag != "" {
		// tags are stored as a JSON array in a text column
		q = q.Where("tags LIKE ?", "%\""+f.Tag+"\"%")
	}
	if f.MimeType != "" {
		q = q.Where("mime_type = ?", f.MimeType)
	}
	if f.From != nil {
		q = q.Where("archived_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("archived_at <= ?", *f.To)
	}
	return q
}

// List returns matching documents newest-first plus the total match count.
func (d *DocumentStore) List(ctx context.Context, f DocumentFilter) ([]domain.ArchivedDocument, int64, error) {
	q := d.query(ctx, f)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q = q.Order("archived_at desc")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var docs []domain.ArchivedDocument
	err := q.Find(&docs).Error
	return docs, total, err
}

// ListExpired returns non-deleted documents whose retention end date is at or
// before the cutoff, oldest expiry first.
func (d *DocumentStore) ListExpired(ctx context.Context, tenantID string, cutoff time.Time) ([]domain.ArchivedDocument, error) {
	var docs []domain.ArchivedDocument
	err := d.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ? AND retention_end_date <= ?",
			tenantID, []domain.DocumentStatus{domain.StatusActive, domain.StatusPendingReview}, cutoff).
		Order("retention_end_date asc").
		Find(&docs).Error
	return docs, err
}

// ListRecent returns the most recently archived non-deleted documents; a
// non-positive limit returns all of them.
func (d *DocumentStore) ListRecent(ctx context.Context, tenantID string, limit int) ([]domain.ArchivedDocument, error) {
	q := d.db.WithContext(ctx).
		Where("tenant_id = ? AND status <> ?", tenantID, domain.StatusDeleted).
		Order("archived_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var docs []domain.ArchivedDocument
	err := q.Find(&docs).Error
	return docs, err
}

func (d *DocumentStore) CountByStatus(ctx context.Context, tenantID string, status domain.DocumentStatus) (int64, error) {
	var total int64
	err := d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("tenant_id = ? AND status = ?", tenantID, status).
		Count(&total).Error
	return total, err
}

func (d *DocumentStore) CountForTenant(ctx context.Context, tenantID string) (int64, error) {
	var total int64
	err := d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error
	return total, err
}

// MarkDeleted soft-deletes: the metadata row stays in the catalog forever.
// The transition is gated on the current status so re-running a batch after
// partial failure never double-deletes.
func (d *DocumentStore) MarkDeleted(ctx context.Context, id uuid.UUID, from domain.DocumentStatus, at time.Time) (int64, error) {
	res := d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": domain.StatusDeleted, "deleted_at": at})
	return res.RowsAffected, res.Error
}

func (d *DocumentStore) CountArchivedBetween(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	var total int64
	err := d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("tenant_id = ? AND archived_at >= ? AND archived_at < ?", tenantID, from, to).
		Count(&total).Error
	return total, err
}

func (d *DocumentStore) CountDeletedBetween(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	var total int64
	err := d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("tenant_id = ? AND deleted_at IS NOT NULL AND deleted_at >= ? AND deleted_at < ?", tenantID, from, to).
		Count(&total).Error
	return total, err
}

// TotalBytes sums plaintext sizes for the tenant, optionally restricted to a
// status.
func (d *DocumentStore) TotalBytes(ctx context.Context, tenantID string, status domain.DocumentStatus) (int64, error) {
	var total *int64
	q := d.db.WithContext(ctx).Model(&domain.ArchivedDocument{}).
		Where("tenant_id = ?", tenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Select("SUM(file_size_bytes)").Scan(&total).Error; err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
