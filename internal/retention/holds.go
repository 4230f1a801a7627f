package retention

import (
	"context"
	"fmt"

	"vaultd/internal/domain"
	"vaultd/internal/ledger"
	"vaultd/internal/store"

	"github.com/google/uuid"
)

// SetHold places a legal hold. At most one hold per document may be active:
// a second SetHold is a conflict, not an update.
func (e *Engine) SetHold(ctx context.Context, tenantID string, documentID uuid.UUID, reason, placedBy string) (*domain.RetentionHold, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: missing hold reason", domain.ErrValidation)
	}
	doc, err := e.store.Documents().GetByID(ctx, tenantID, documentID)
	if err != nil {
		if err == store.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, documentID)
		}
		return nil, err
	}
	if doc.Status == domain.StatusDeleted {
		return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, documentID)
	}

	hold := &domain.RetentionHold{
		ID:         uuid.New(),
		DocumentID: documentID,
		Reason:     reason,
		PlacedBy:   placedBy,
		PlacedAt:   e.clock(),
	}

	var entry *domain.AuditEntry
	err = e.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := tx.Holds().Active(ctx, documentID); err == nil {
			return fmt.Errorf("%w: document %s already has an active hold", domain.ErrConflict, documentID)
		} else if err != store.ErrRecordNotFound {
			return err
		}
		// the partial unique index on active holds catches the race this
		// check cannot see
		if err := tx.Holds().Create(ctx, hold); err != nil {
			return err
		}
		var err error
		entry, err = e.ledger.AppendIn(ctx, tx, ledger.EntryInput{
			TenantID:   tenantID,
			EntityType: "RETENTION_HOLD",
			EntityID:   hold.ID.String(),
			Action:     domain.ActionCreate,
			ActorType:  "USER",
			ActorID:    placedBy,
			NewState: map[string]any{
				"documentId": documentID.String(),
				"reason":     reason,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.ledger.Committed(ctx, entry)
	return hold, nil
}

// ReleaseHold ends the document's active hold; releasing a document with no
// active hold is NotFound.
func (e *Engine) ReleaseHold(ctx context.Context, tenantID string, documentID uuid.UUID, releasedBy string) (*domain.RetentionHold, error) {
	if _, err := e.store.Documents().GetByID(ctx, tenantID, documentID); err != nil {
		if err == store.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, documentID)
		}
		return nil, err
	}

	now := e.clock()
	var hold *domain.RetentionHold
	var entry *domain.AuditEntry
	err := e.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		hold, err = tx.Holds().Active(ctx, documentID)
		if err != nil {
			if err == store.ErrRecordNotFound {
				return fmt.Errorf("%w: no active hold on document %s", domain.ErrNotFound, documentID)
			}
			return err
		}
		if err := tx.Holds().Release(ctx, hold.ID, now, releasedBy); err != nil {
			return err
		}
		entry, err = e.ledger.AppendIn(ctx, tx, ledger.EntryInput{
			TenantID:   tenantID,
			EntityType: "RETENTION_HOLD",
			EntityID:   hold.ID.String(),
			Action:     domain.ActionUpdate,
			ActorType:  "USER",
			ActorID:    releasedBy,
			PreviousState: map[string]any{
				"documentId": documentID.String(),
				"reason":     hold.Reason,
				"active":     true,
			},
			NewState: map[string]any{
				"documentId": documentID.String(),
				"active":     false,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	hold.ReleasedAt = &now
	hold.ReleasedBy = releasedBy
	e.ledger.Committed(ctx, entry)
	return hold, nil
}
