// Package retention enforces category-based expiry, grace periods, and legal
// holds over the vault catalog. Physical deletion is two-phase: an expired
// document is first marked PENDING_REVIEW, and only an explicit, human-supplied
// confirmation list moves it to DELETED. autoDelete alone can never
// mass-delete.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vaultd/internal/blob"
	"vaultd/internal/domain"
	"vaultd/internal/ledger"
	"vaultd/internal/observability/metrics"
	"vaultd/internal/store"

	"github.com/google/uuid"
)

const nearingExpirationWindow = 90 * 24 * time.Hour

type Engine struct {
	store  *store.Store
	blobs  blob.Store
	ledger *ledger.Ledger
	policy Policy
	clock  func() time.Time
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func New(st *store.Store, blobs blob.Store, lg *ledger.Ledger, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		blobs:  blobs,
		ledger: lg,
		policy: policy,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Policy() Policy { return e.policy }

type CategoryBucket struct {
	Total             int `json:"total"`
	Active            int `json:"active"`
	Expired           int `json:"expired"`
	OnHold            int `json:"onHold"`
	NearingExpiration int `json:"nearingExpiration"`
	InGracePeriod     int `json:"inGracePeriod"`
}

type StatusReport struct {
	TenantID    string                                      `json:"tenantId"`
	GeneratedAt time.Time                                   `json:"generatedAt"`
	Total       int                                         `json:"total"`
	ByCategory  map[domain.RetentionCategory]CategoryBucket `json:"byCategory"`
	Issues      []string                                    `json:"issues"`
	Warnings    []string                                    `json:"warnings"`
}

// CheckStatus buckets the full non-deleted inventory per category and derives
// compliance issues (corrupted documents) and warnings (expired past grace,
// unheld, still unprocessed). The report always completes, possibly degraded.
func (e *Engine) CheckStatus(ctx context.Context, tenantID string) (*StatusReport, error) {
	now := e.clock()
	docs, err := e.store.Documents().ListRecent(ctx, tenantID, 0)
	if err != nil {
		return nil, err
	}
	held, err := e.store.Holds().ActiveDocumentIDs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		TenantID:    tenantID,
		GeneratedAt: now,
		ByCategory:  make(map[domain.RetentionCategory]CategoryBucket),
	}

	for i := range docs {
		doc := &docs[i]
		bucket := report.ByCategory[doc.RetentionCategory]
		bucket.Total++
		report.Total++

		if doc.Status == domain.StatusCorrupted {
			report.Issues = append(report.Issues,
				fmt.Sprintf("document %s (%s) is corrupted: %s", doc.ID, doc.OriginalFilename, doc.VerificationResult))
		}

		expired := !now.Before(doc.RetentionEndDate)
		switch {
		case held[doc.ID]:
			bucket.OnHold++
		case expired:
			bucket.Expired++
			if now.Before(e.policy.GraceEnd(doc.RetentionEndDate)) {
				bucket.InGracePeriod++
			} else if doc.Status == domain.StatusActive || doc.Status == domain.StatusPendingReview {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("document %s (%s) expired %s, past grace period, no hold, not processed",
						doc.ID, doc.OriginalFilename, doc.RetentionEndDate.Format("2006-01-02")))
			}
		default:
			bucket.Active++
			if doc.RetentionEndDate.Sub(now) <= nearingExpirationWindow {
				bucket.NearingExpiration++
			}
		}
		report.ByCategory[doc.RetentionCategory] = bucket
	}
	return report, nil
}

type ExpiredDocument struct {
	Document          domain.ArchivedDocument `json:"document"`
	DaysOverdue       int                     `json:"daysOverdue"`
	HasLegalHold      bool                    `json:"hasLegalHold"`
	GracePeriodEndsAt time.Time               `json:"gracePeriodEndsAt"`
	CanDelete         bool                    `json:"canDelete"`
}

// ListExpired returns every non-deleted document past its retention end date,
// annotated with hold and grace state. A document becomes eligible to delete
// only strictly after the grace period ends and only without an active hold.
func (e *Engine) ListExpired(ctx context.Context, tenantID string) ([]ExpiredDocument, error) {
	now := e.clock()
	docs, err := e.store.Documents().ListExpired(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}
	held, err := e.store.Holds().ActiveDocumentIDs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]ExpiredDocument, 0, len(docs))
	for i := range docs {
		doc := docs[i]
		graceEnd := e.policy.GraceEnd(doc.RetentionEndDate)
		hasHold := held[doc.ID]
		out = append(out, ExpiredDocument{
			Document:          doc,
			DaysOverdue:       int(now.Sub(doc.RetentionEndDate).Hours() / 24),
			HasLegalHold:      hasHold,
			GracePeriodEndsAt: graceEnd,
			CanDelete:         !hasHold && now.After(graceEnd),
		})
	}
	return out, nil
}

type ProcessOptions struct {
	// AutoDelete enables physical deletion, but only for documents whose ID
	// is also present in Confirmed.
	AutoDelete bool
	// Confirmed is the explicit human-supplied allow-list.
	Confirmed   []uuid.UUID
	ProcessedBy string
}

type ItemError struct {
	DocumentID uuid.UUID `json:"documentId"`
	Error      string    `json:"error"`
}

type ProcessResult struct {
	TenantID        string      `json:"tenantId"`
	ProcessedAt     time.Time   `json:"processedAt"`
	Deleted         int         `json:"deleted"`
	MarkedForReview int         `json:"markedForReview"`
	Skipped         int         `json:"skipped"`
	Errors          []ItemError `json:"errors,omitempty"`
	BytesFreed      int64       `json:"bytesFreed"`
	OldestExpiry    *time.Time  `json:"oldestExpiry,omitempty"`
	NewestExpiry    *time.Time  `json:"newestExpiry,omitempty"`
}

// ProcessExpired walks the expired inventory. Documents under hold or still in
// grace are skipped. ACTIVE documents are marked PENDING_REVIEW. A document is
// deleted only when all of: it is PENDING_REVIEW, autoDelete is set, its ID is
// confirmed, no hold is active, and grace has passed. Per-item failures are
// collected while the batch continues; the whole batch is recorded as one
// aggregate ledger entry on top of the per-document DELETE entries.
func (e *Engine) ProcessExpired(ctx context.Context, tenantID string, opts ProcessOptions) (*ProcessResult, error) {
	now := e.clock()
	expired, err := e.ListExpired(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	confirmed := make(map[uuid.UUID]bool, len(opts.Confirmed))
	for _, id := range opts.Confirmed {
		confirmed[id] = true
	}

	result := &ProcessResult{TenantID: tenantID, ProcessedAt: now}

	for _, item := range expired {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc := item.Document

		if item.HasLegalHold || !now.After(item.GracePeriodEndsAt) {
			result.Skipped++
			continue
		}

		switch {
		case doc.Status == domain.StatusActive:
			affected, err := e.store.Documents().SetStatusIf(ctx, doc.ID, domain.StatusActive, domain.StatusPendingReview)
			if err != nil {
				result.Errors = append(result.Errors, ItemError{DocumentID: doc.ID, Error: err.Error()})
				continue
			}
			if affected > 0 {
				result.MarkedForReview++
			}

		case doc.Status == domain.StatusPendingReview && opts.AutoDelete && confirmed[doc.ID]:
			if err := e.deleteDocument(ctx, &doc, opts.ProcessedBy); err != nil {
				result.Errors = append(result.Errors, ItemError{DocumentID: doc.ID, Error: err.Error()})
				continue
			}
			result.Deleted++
			result.BytesFreed += doc.FileSizeBytes
			end := doc.RetentionEndDate
			if result.OldestExpiry == nil || end.Before(*result.OldestExpiry) {
				result.OldestExpiry = &end
			}
			if result.NewestExpiry == nil || end.After(*result.NewestExpiry) {
				result.NewestExpiry = &end
			}

		default:
			// pending review without confirmation stays pending
			result.Skipped++
		}
	}

	if _, err := e.ledger.Append(ctx, ledger.EntryInput{
		TenantID:   tenantID,
		EntityType: "RETENTION_BATCH",
		EntityID:   uuid.New().String(),
		Action:     domain.ActionDelete,
		ActorType:  "SYSTEM",
		ActorID:    opts.ProcessedBy,
		NewState: map[string]any{
			"deleted":         result.Deleted,
			"markedForReview": result.MarkedForReview,
			"skipped":         result.Skipped,
			"errors":          len(result.Errors),
			"bytesFreed":      result.BytesFreed,
			"oldestExpiry":    formatTimePtr(result.OldestExpiry),
			"newestExpiry":    formatTimePtr(result.NewestExpiry),
		},
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// deleteDocument soft-deletes the row gated on its current status and writes
// the per-document ledger entry in the same transaction; the before-state
// snapshot is metadata only, never content. The ciphertext is unlinked only
// after the commit, so a rolled-back delete never loses a payload.
func (e *Engine) deleteDocument(ctx context.Context, doc *domain.ArchivedDocument, actorID string) error {
	var entry *domain.AuditEntry
	err := e.store.WithTx(ctx, func(tx *store.Store) error {
		affected, err := tx.Documents().MarkDeleted(ctx, doc.ID, doc.Status, e.clock())
		if err != nil {
			return err
		}
		if affected == 0 {
			// already transitioned by an earlier run; nothing more to do
			return nil
		}
		entry, err = e.ledger.AppendIn(ctx, tx, ledger.EntryInput{
			TenantID:   doc.TenantID,
			EntityType: "ARCHIVED_DOCUMENT",
			EntityID:   doc.ID.String(),
			Action:     domain.ActionDelete,
			ActorType:  "SYSTEM",
			ActorID:    actorID,
			PreviousState: map[string]any{
				"filename":         doc.OriginalFilename,
				"contentHash":      doc.ContentHash,
				"sizeBytes":        doc.FileSizeBytes,
				"category":         string(doc.RetentionCategory),
				"retentionEndDate": doc.RetentionEndDate.UTC().Format(time.RFC3339),
				"status":           string(doc.Status),
			},
		})
		return err
	})
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	if err := e.blobs.Remove(doc.StoragePath); err != nil {
		slog.Warn("ciphertext unlink failed", "tenant", doc.TenantID, "document", doc.ID, "path", doc.StoragePath, "error", err)
	}

	e.ledger.Committed(ctx, entry)
	metrics.RetentionDeleted()
	slog.Info("document deleted by retention", "tenant", doc.TenantID, "document", doc.ID, "category", doc.RetentionCategory)
	return nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
