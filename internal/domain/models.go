package domain

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionView   Action = "VIEW"
	ActionExport Action = "EXPORT"
)

type DocumentStatus string

const (
	StatusActive        DocumentStatus = "ACTIVE"
	StatusCorrupted     DocumentStatus = "CORRUPTED"
	StatusPendingReview DocumentStatus = "PENDING_REVIEW"
	StatusDeleted       DocumentStatus = "DELETED"
)

type RetentionCategory string

const (
	CategoryTaxRelevant    RetentionCategory = "TAX_RELEVANT"
	CategoryBusiness       RetentionCategory = "BUSINESS"
	CategoryCorrespondence RetentionCategory = "CORRESPONDENCE"
	CategoryHR             RetentionCategory = "HR"
	CategoryLegal          RetentionCategory = "LEGAL"
	CategoryTemporary      RetentionCategory = "TEMPORARY"
)

type CorruptionType string

const (
	CorruptionMissing    CorruptionType = "MISSING"
	CorruptionEncryption CorruptionType = "ENCRYPTION"
	CorruptionContent    CorruptionType = "CONTENT"
)

// AuditEntry is one link of a tenant's hash chain. Entries are written once
// and never updated or deleted; the hash covers every field plus the
// previous entry's hash.
type AuditEntry struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      string    `gorm:"not null;uniqueIndex:idx_audit_tenant_seq,priority:1"`
	Sequence      int64     `gorm:"not null;uniqueIndex:idx_audit_tenant_seq,priority:2"`
	EntityType    string    `gorm:"not null;index"`
	EntityID      string    `gorm:"not null;index"`
	Action        Action    `gorm:"not null"`
	ActorType     string    `gorm:"not null"`
	ActorID       string    `gorm:"not null"`
	Timestamp     time.Time `gorm:"not null"`
	PreviousState string    `gorm:"type:text"`
	NewState      string    `gorm:"type:text"`
	Metadata      string    `gorm:"type:text"`
	Hash          string    `gorm:"not null"`
	PreviousHash  string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime"`
}

// ArchivedDocument is the metadata row for one encrypted payload. ContentHash
// is globally unique: identical content never produces a second row.
type ArchivedDocument struct {
	ID                 uuid.UUID         `gorm:"type:uuid;primaryKey"`
	TenantID           string            `gorm:"not null;index"`
	OriginalFilename   string            `gorm:"not null"`
	MimeType           string            `gorm:"not null"`
	FileSizeBytes      int64             `gorm:"not null"` // plaintext size
	ContentHash        string            `gorm:"not null;uniqueIndex"`
	StoragePath        string            `gorm:"not null"`
	EncryptionIV       string            `gorm:"not null"`
	EncryptionTag      string            `gorm:"not null"`
	Status             DocumentStatus    `gorm:"not null;index"`
	RetentionCategory  RetentionCategory `gorm:"not null;index"`
	RetentionEndDate   time.Time         `gorm:"not null;index"`
	EntityType         string
	EntityID           string
	Tags               []string          `gorm:"serializer:json"`
	Metadata           map[string]string `gorm:"serializer:json"`
	UploadedBy         string            `gorm:"not null"`
	ArchivedAt         time.Time         `gorm:"not null"`
	LastAccessedAt     *time.Time
	LastVerifiedAt     *time.Time
	DeletedAt          *time.Time // soft delete; the row itself is never removed
	VerificationResult string
	CorruptionType     CorruptionType
	CreatedAt          time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"not null;autoUpdateTime"`
}

// DocumentVersion is an append-only record of one archive call that hit an
// already-stored content hash.
type DocumentVersion struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	DocumentID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_doc_version,priority:1"`
	Version       int       `gorm:"not null;uniqueIndex:idx_doc_version,priority:2"`
	ChangeReason  string
	PreviousHash  string
	ContentHash   string    `gorm:"not null"`
	ArchivedBy    string    `gorm:"not null"`
	RetentionDate time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime"`
}

// RetentionHold blocks deletion regardless of expiry. At most one hold per
// document may be active (ReleasedAt == nil) at a time; the partial unique
// index enforces it in the database, not just in the service check.
type RetentionHold struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_one_active_hold,where:released_at IS NULL"`
	Reason     string    `gorm:"not null"`
	PlacedBy   string    `gorm:"not null"`
	PlacedAt   time.Time `gorm:"not null"`
	ReleasedAt *time.Time
	ReleasedBy string
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}
