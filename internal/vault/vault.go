// Package vault implements the encrypted, content-addressed document store.
// Plaintext never touches disk: payloads are sealed with AES-256-GCM under a
// per-tenant key and addressed by the SHA-256 of their plaintext, which makes
// archiving idempotent: identical content never produces a second row.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vaultd/internal/blob"
	"vaultd/internal/cryptobox"
	"vaultd/internal/domain"
	"vaultd/internal/ledger"
	"vaultd/internal/observability/metrics"
	"vaultd/internal/retention"
	"vaultd/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Vault struct {
	store  *store.Store
	blobs  blob.Store
	box    *cryptobox.Box
	ledger *ledger.Ledger
	policy retention.Policy
	clock  func() time.Time
}

type Option func(*Vault)

func WithClock(clock func() time.Time) Option {
	return func(v *Vault) { v.clock = clock }
}

func New(st *store.Store, blobs blob.Store, box *cryptobox.Box, lg *ledger.Ledger, policy retention.Policy, opts ...Option) *Vault {
	v := &Vault{
		store:  st,
		blobs:  blobs,
		box:    box,
		ledger: lg,
		policy: policy,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type ArchiveInput struct {
	TenantID         string
	Content          []byte
	OriginalFilename string
	MimeType         string
	Category         domain.RetentionCategory
	EntityType       string
	EntityID         string
	Tags             []string
	Metadata         map[string]string
	UploadedBy       string
	ChangeReason     string
}

// Archive stores the payload, or, when the content hash already exists,
// appends a DocumentVersion to the existing document and refreshes its tags
// and metadata. Both paths are logged through the ledger.
func (v *Vault) Archive(ctx context.Context, in ArchiveInput) (*domain.ArchivedDocument, error) {
	if in.TenantID == "" {
		return nil, fmt.Errorf("%w: missing tenantId", domain.ErrValidation)
	}
	if in.OriginalFilename == "" {
		return nil, fmt.Errorf("%w: missing filename", domain.ErrValidation)
	}
	if in.UploadedBy == "" {
		return nil, fmt.Errorf("%w: missing uploadedBy", domain.ErrValidation)
	}
	if _, ok := v.policy.YearsFor(in.Category); !ok {
		return nil, fmt.Errorf("%w: unknown retention category %q", domain.ErrValidation, in.Category)
	}

	contentHash := cryptobox.ContentHash(in.Content)

	if existing, err := v.store.Documents().GetByContentHash(ctx, contentHash); err == nil {
		return v.archiveVersion(ctx, existing, in)
	} else if err != store.ErrRecordNotFound {
		return nil, err
	}

	now := v.clock()
	retentionEnd, err := v.policy.RetentionEnd(now, in.Category)
	if err != nil {
		return nil, err
	}

	ciphertext, iv, tag, err := v.box.Seal(in.TenantID, in.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	storagePath := storagePathFor(in.TenantID, now, contentHash)
	doc := &domain.ArchivedDocument{
		ID:                uuid.New(),
		TenantID:          in.TenantID,
		OriginalFilename:  in.OriginalFilename,
		MimeType:          in.MimeType,
		FileSizeBytes:     int64(len(in.Content)),
		ContentHash:       contentHash,
		StoragePath:       storagePath,
		EncryptionIV:      encode(iv),
		EncryptionTag:     encode(tag),
		Status:            domain.StatusActive,
		RetentionCategory: in.Category,
		RetentionEndDate:  retentionEnd,
		EntityType:        in.EntityType,
		EntityID:          in.EntityID,
		Tags:              in.Tags,
		Metadata:          in.Metadata,
		UploadedBy:        in.UploadedBy,
		ArchivedAt:        now,
	}

	// The row insert claims the unique content hash before any blob is
	// touched, so a concurrent archiver of the same content fails here
	// without ever reaching a blob another writer may own. Row, audit entry,
	// and ciphertext commit or roll back together.
	var entry *domain.AuditEntry
	err = v.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Documents().Create(ctx, doc); err != nil {
			return err
		}
		entry, err = v.ledger.AppendIn(ctx, tx, ledger.EntryInput{
			TenantID:   in.TenantID,
			EntityType: "ARCHIVED_DOCUMENT",
			EntityID:   doc.ID.String(),
			Action:     domain.ActionCreate,
			ActorType:  "USER",
			ActorID:    in.UploadedBy,
			NewState:   documentSnapshot(doc),
		})
		if err != nil {
			return err
		}
		if err := v.blobs.Write(storagePath, ciphertext); err != nil {
			if err != blob.ErrExists {
				return err
			}
			// Our uncommitted row holds the content hash, so no committed
			// row references this path: the blob is an orphan from a
			// crashed earlier attempt and safe to replace.
			if rmErr := v.blobs.Remove(storagePath); rmErr != nil {
				return rmErr
			}
			return v.blobs.Write(storagePath, ciphertext)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost the race on the unique content hash; the winner's row is
			// the document, we take the version path
			existing, getErr := v.store.Documents().GetByContentHash(ctx, contentHash)
			if getErr != nil {
				return nil, getErr
			}
			return v.archiveVersion(ctx, existing, in)
		}
		return nil, err
	}

	v.ledger.Committed(ctx, entry)
	metrics.DocumentArchived("created")
	metrics.BytesStored(doc.FileSizeBytes)
	slog.Info("document archived", "tenant", in.TenantID, "document", doc.ID, "category", in.Category, "bytes", doc.FileSizeBytes)
	return doc, nil
}

// archiveVersion is the dedup path: no new ciphertext, one more version row.
func (v *Vault) archiveVersion(ctx context.Context, doc *domain.ArchivedDocument, in ArchiveInput) (*domain.ArchivedDocument, error) {
	now := v.clock()
	retentionEnd, err := v.policy.RetentionEnd(now, in.Category)
	if err != nil {
		return nil, err
	}

	before := documentSnapshot(doc)

	var entry *domain.AuditEntry
	err = v.store.WithTx(ctx, func(tx *store.Store) error {
		max, err := tx.Versions().MaxVersion(ctx, doc.ID)
		if err != nil {
			return err
		}
		version := &domain.DocumentVersion{
			DocumentID:    doc.ID,
			Version:       max + 1,
			ChangeReason:  in.ChangeReason,
			PreviousHash:  doc.ContentHash,
			ContentHash:   doc.ContentHash,
			ArchivedBy:    in.UploadedBy,
			RetentionDate: retentionEnd,
		}
		if err := tx.Versions().Create(ctx, version); err != nil {
			return err
		}

		if len(in.Tags) > 0 {
			doc.Tags = mergeTags(doc.Tags, in.Tags)
		}
		if len(in.Metadata) > 0 {
			if doc.Metadata == nil {
				doc.Metadata = map[string]string{}
			}
			for k, val := range in.Metadata {
				doc.Metadata[k] = val
			}
		}
		if err := tx.Documents().Save(ctx, doc); err != nil {
			return err
		}

		entry, err = v.ledger.AppendIn(ctx, tx, ledger.EntryInput{
			TenantID:      doc.TenantID,
			EntityType:    "ARCHIVED_DOCUMENT",
			EntityID:      doc.ID.String(),
			Action:        domain.ActionUpdate,
			ActorType:     "USER",
			ActorID:       in.UploadedBy,
			PreviousState: before,
			NewState:      documentSnapshot(doc),
			Metadata:      map[string]string{"changeReason": in.ChangeReason},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	v.ledger.Committed(ctx, entry)
	metrics.DocumentArchived("deduplicated")
	return doc, nil
}

type RetrieveOptions struct {
	Decrypt          bool
	UpdateAccessTime bool
	// ActorID identifies who is retrieving; the VIEW entry records it.
	ActorID string
}

// Retrieve loads a document and optionally its decrypted payload. An
// authentication-tag failure is a hard integrity error, never silently
// returned corrupt data.
func (v *Vault) Retrieve(ctx context.Context, tenantID string, id uuid.UUID, opts RetrieveOptions) (*domain.ArchivedDocument, []byte, error) {
	doc, err := v.store.Documents().GetByID(ctx, tenantID, id)
	if err != nil {
		if err == store.ErrRecordNotFound {
			return nil, nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
		}
		return nil, nil, err
	}
	switch doc.Status {
	case domain.StatusDeleted:
		return nil, nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	case domain.StatusCorrupted:
		return nil, nil, fmt.Errorf("%w: document %s is corrupted", domain.ErrIntegrity, id)
	}

	var plaintext []byte
	if opts.Decrypt {
		ciphertext, err := v.blobs.Read(doc.StoragePath)
		if err != nil {
			if err == blob.ErrNotFound {
				return nil, nil, fmt.Errorf("%w: ciphertext missing for document %s", domain.ErrIntegrity, id)
			}
			return nil, nil, err
		}
		plaintext, err = v.decrypt(doc, ciphertext)
		if err != nil {
			return nil, nil, err
		}
	}

	if opts.UpdateAccessTime {
		now := v.clock()
		var entry *domain.AuditEntry
		err = v.store.WithTx(ctx, func(tx *store.Store) error {
			if err := tx.Documents().TouchAccessed(ctx, doc.ID, now); err != nil {
				return err
			}
			entry, err = v.ledger.AppendIn(ctx, tx, ledger.EntryInput{
				TenantID:   tenantID,
				EntityType: "ARCHIVED_DOCUMENT",
				EntityID:   doc.ID.String(),
				Action:     domain.ActionView,
				ActorType:  "USER",
				ActorID:    opts.ActorID,
				Metadata:   map[string]string{"decrypted": fmt.Sprintf("%t", opts.Decrypt)},
			})
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		doc.LastAccessedAt = &now
		v.ledger.Committed(ctx, entry)
	}

	return doc, plaintext, nil
}

func (v *Vault) decrypt(doc *domain.ArchivedDocument, ciphertext []byte) ([]byte, error) {
	iv, err := decode(doc.EncryptionIV)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed iv for document %s", domain.ErrIntegrity, doc.ID)
	}
	tag, err := decode(doc.EncryptionTag)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed auth tag for document %s", domain.ErrIntegrity, doc.ID)
	}
	plaintext, err := v.box.Open(doc.TenantID, ciphertext, iv, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed for document %s", domain.ErrIntegrity, doc.ID)
	}
	return plaintext, nil
}

// Search lists documents matching the filter.
func (v *Vault) Search(ctx context.Context, filter store.DocumentFilter) ([]domain.ArchivedDocument, int64, error) {
	if filter.TenantID == "" {
		return nil, 0, fmt.Errorf("%w: missing tenantId", domain.ErrValidation)
	}
	return v.store.Documents().List(ctx, filter)
}

type ExportedDocument struct {
	Document  domain.ArchivedDocument
	Plaintext []byte
}

type ExportOptions struct {
	Filter  store.DocumentFilter
	Decrypt bool
	ActorID string
}

// ExportBatch packages matching documents for an external reviewer. The
// auditor cannot hold the tenant key, so decryption happens here; the export
// itself is logged as one EXPORT entry.
func (v *Vault) ExportBatch(ctx context.Context, tenantID string, opts ExportOptions) ([]ExportedDocument, error) {
	opts.Filter.TenantID = tenantID
	if opts.Filter.Status == "" {
		opts.Filter.Status = domain.StatusActive
	}
	docs, _, err := v.store.Documents().List(ctx, opts.Filter)
	if err != nil {
		return nil, err
	}

	out := make([]ExportedDocument, 0, len(docs))
	for i := range docs {
		item := ExportedDocument{Document: docs[i]}
		if opts.Decrypt {
			ciphertext, err := v.blobs.Read(docs[i].StoragePath)
			if err != nil {
				return nil, fmt.Errorf("%w: ciphertext missing for document %s", domain.ErrIntegrity, docs[i].ID)
			}
			if item.Plaintext, err = v.decrypt(&docs[i], ciphertext); err != nil {
				return nil, err
			}
		}
		out = append(out, item)
	}

	if _, err := v.ledger.Append(ctx, ledger.EntryInput{
		TenantID:   tenantID,
		EntityType: "DOCUMENT_EXPORT",
		EntityID:   uuid.New().String(),
		Action:     domain.ActionExport,
		ActorType:  "AUDITOR",
		ActorID:    opts.ActorID,
		Metadata: map[string]string{
			"documents": fmt.Sprintf("%d", len(out)),
			"decrypted": fmt.Sprintf("%t", opts.Decrypt),
		},
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// documentSnapshot is the metadata-only state recorded in the ledger, never
// plaintext or key material.
func documentSnapshot(doc *domain.ArchivedDocument) map[string]any {
	return map[string]any{
		"filename":         doc.OriginalFilename,
		"mimeType":         doc.MimeType,
		"sizeBytes":        doc.FileSizeBytes,
		"contentHash":      doc.ContentHash,
		"status":           string(doc.Status),
		"category":         string(doc.RetentionCategory),
		"retentionEndDate": doc.RetentionEndDate.UTC().Format(time.RFC3339),
	}
}
