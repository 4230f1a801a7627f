package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"vaultd/internal/domain"
	"vaultd/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return st
}

func testLedger(t *testing.T, opts ...Option) (*Ledger, *store.Store) {
	t.Helper()
	st := testStore(t)
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(st, opts...), st
}

func mustAppend(t *testing.T, lg *Ledger, tenantID, entityID string, action domain.Action) *domain.AuditEntry {
	t.Helper()
	entry, err := lg.Append(context.Background(), EntryInput{
		TenantID:   tenantID,
		EntityType: "ARCHIVED_DOCUMENT",
		EntityID:   entityID,
		Action:     action,
		ActorType:  "USER",
		ActorID:    "alice",
		NewState:   map[string]any{"entity": entityID},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return entry
}

func TestAppendBuildsChain(t *testing.T) {
	lg, _ := testLedger(t)
	ctx := context.Background()

	first := mustAppend(t, lg, "tenant-a", "doc-1", domain.ActionCreate)
	second := mustAppend(t, lg, "tenant-a", "doc-2", domain.ActionCreate)
	third := mustAppend(t, lg, "tenant-a", "doc-1", domain.ActionUpdate)

	if first.Sequence != 1 || second.Sequence != 2 || third.Sequence != 3 {
		t.Fatalf("unexpected sequences: %d %d %d", first.Sequence, second.Sequence, third.Sequence)
	}
	if first.PreviousHash != GenesisHash("tenant-a") {
		t.Fatalf("first entry must anchor on the genesis hash")
	}
	if second.PreviousHash != first.Hash || third.PreviousHash != second.Hash {
		t.Fatalf("chain links broken")
	}

	result, err := lg.VerifyChainIntegrity(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid || result.VerifiedEntries != 3 || result.TotalEntries != 3 {
		t.Fatalf("expected valid 3-entry chain, got %+v", result)
	}
	if result.HeadHash != third.Hash {
		t.Fatalf("head hash must be the last entry's hash")
	}
}

func TestChainsAreIndependentPerTenant(t *testing.T) {
	lg, _ := testLedger(t)

	a := mustAppend(t, lg, "tenant-a", "doc-1", domain.ActionCreate)
	b := mustAppend(t, lg, "tenant-b", "doc-1", domain.ActionCreate)

	if a.Sequence != 1 || b.Sequence != 1 {
		t.Fatalf("each tenant chain must start at sequence 1, got %d and %d", a.Sequence, b.Sequence)
	}
	if a.PreviousHash == b.PreviousHash {
		t.Fatalf("genesis hashes must differ per tenant")
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	lg, _ := testLedger(t)
	result, err := lg.VerifyChainIntegrity(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid || result.TotalEntries != 0 || result.VerifiedEntries != 0 {
		t.Fatalf("empty chain must be valid, got %+v", result)
	}
}

func TestVerifyDetectsMutatedEntry(t *testing.T) {
	lg, st := testLedger(t)
	ctx := context.Background()

	var entries []*domain.AuditEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, mustAppend(t, lg, "tenant-a", fmt.Sprintf("doc-%d", i), domain.ActionCreate))
	}

	err := st.DB.Model(&domain.AuditEntry{}).
		Where("id = ?", entries[2].ID).
		Update("entity_id", "forged").Error
	if err != nil {
		t.Fatalf("mutate entry: %v", err)
	}

	result, err := lg.VerifyChainIntegrity(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatalf("mutated chain must be invalid")
	}
	if result.FirstInvalidEntryID == nil || *result.FirstInvalidEntryID != entries[2].ID {
		t.Fatalf("first invalid entry must be the mutated one, got %v", result.FirstInvalidEntryID)
	}
	if result.VerifiedEntries != 2 {
		t.Fatalf("expected 2 verified entries before the mutation, got %d", result.VerifiedEntries)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	lg, st := testLedger(t)
	ctx := context.Background()

	mustAppend(t, lg, "tenant-a", "doc-1", domain.ActionCreate)
	victim := mustAppend(t, lg, "tenant-a", "doc-2", domain.ActionCreate)
	successor := mustAppend(t, lg, "tenant-a", "doc-3", domain.ActionCreate)

	if err := st.DB.Delete(&domain.AuditEntry{}, "id = ?", victim.ID).Error; err != nil {
		t.Fatalf("delete entry: %v", err)
	}

	result, err := lg.VerifyChainIntegrity(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatalf("chain with a removed entry must be invalid")
	}
	if result.FirstInvalidEntryID == nil || *result.FirstInvalidEntryID != successor.ID {
		t.Fatalf("gap must surface at the entry after the removal")
	}
}

func TestAppendValidation(t *testing.T) {
	lg, _ := testLedger(t)
	ctx := context.Background()

	_, err := lg.Append(ctx, EntryInput{Action: domain.ActionCreate})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing tenant must be a validation error, got %v", err)
	}
	_, err = lg.Append(ctx, EntryInput{TenantID: "tenant-a"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing action must be a validation error, got %v", err)
	}
}

// TestDuplicateSequenceInsertIsConflict drives the store directly, the way a
// second process racing the same chain tail would: the second insert of an
// already-taken (tenant, sequence) slot must surface as a conflict.
func TestDuplicateSequenceInsertIsConflict(t *testing.T) {
	_, st := testLedger(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	base := domain.AuditEntry{
		TenantID:     "tenant-a",
		Sequence:     1,
		EntityType:   "ARCHIVED_DOCUMENT",
		Action:       domain.ActionCreate,
		ActorType:    "USER",
		ActorID:      "alice",
		Timestamp:    now,
		PreviousHash: GenesisHash("tenant-a"),
	}

	first := base
	first.ID = uuid.New()
	first.EntityID = "doc-1"
	first.Hash = computeHash(&first)
	if err := st.AuditEntries().Create(ctx, &first); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	second := base
	second.ID = uuid.New()
	second.EntityID = "doc-2"
	second.Hash = computeHash(&second)
	if err := st.AuditEntries().Create(ctx, &second); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate sequence must be a conflict, got %v", err)
	}
}

func TestAppendInRollsBackWithCallerTransaction(t *testing.T) {
	lg, st := testLedger(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx *store.Store) error {
		if _, err := lg.AppendIn(ctx, tx, EntryInput{
			TenantID:   "tenant-a",
			EntityType: "ARCHIVED_DOCUMENT",
			EntityID:   "doc-1",
			Action:     domain.ActionCreate,
			ActorType:  "USER",
			ActorID:    "alice",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the caller's error, got %v", err)
	}

	total, err := st.AuditEntries().CountForTenant(ctx, "tenant-a")
	if err != nil || total != 0 {
		t.Fatalf("entry must roll back with the caller's transaction, got %d (%v)", total, err)
	}
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(ctx context.Context, entry *domain.AuditEntry) error {
	p.calls++
	return errors.New("broker unavailable")
}

func TestPublishFailureDoesNotFailAppend(t *testing.T) {
	pub := &failingPublisher{}
	lg, _ := testLedger(t, WithPublisher(pub))

	entry := mustAppend(t, lg, "tenant-a", "doc-1", domain.ActionCreate)
	if entry.Sequence != 1 {
		t.Fatalf("append must succeed despite publish failure")
	}
	if pub.calls != 1 {
		t.Fatalf("publisher must have been invoked once, got %d", pub.calls)
	}

	result, err := lg.VerifyChainIntegrity(context.Background(), "tenant-a")
	if err != nil || !result.Valid {
		t.Fatalf("chain must be valid after failed publish: %v %+v", err, result)
	}
}

func TestEqualStatesHashIdentically(t *testing.T) {
	a := canonicalize(map[string]any{"b": 2, "a": 1, "c": "x"})
	b := canonicalize(map[string]any{"c": "x", "a": 1, "b": 2})
	if a != b {
		t.Fatalf("canonical rendering must not depend on key order: %q vs %q", a, b)
	}
	if canonicalize(nil) != "" || canonicalize(map[string]any{}) != "" {
		t.Fatalf("empty state must canonicalize to the empty string")
	}
}

func TestStats(t *testing.T) {
	lg, _ := testLedger(t)
	ctx := context.Background()

	stats, err := lg.Stats(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalEntries != 0 || stats.FirstEntryAt != nil || stats.LastEntryAt != nil {
		t.Fatalf("empty chain stats wrong: %+v", stats)
	}

	mustAppend(t, lg, "tenant-a", "doc-1", domain.ActionCreate)
	mustAppend(t, lg, "tenant-a", "doc-2", domain.ActionCreate)

	stats, err = lg.Stats(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalEntries != 2 || stats.FirstEntryAt == nil || stats.LastEntryAt == nil {
		t.Fatalf("stats wrong after appends: %+v", stats)
	}
}

func TestSearch(t *testing.T) {
	lg, _ := testLedger(t)
	ctx := context.Background()

	mustAppend(t, lg, "tenant-a", "doc-1", domain.ActionCreate)
	mustAppend(t, lg, "tenant-a", "doc-1", domain.ActionView)
	mustAppend(t, lg, "tenant-a", "doc-2", domain.ActionCreate)

	entries, total, err := lg.Search(ctx, store.AuditSearchParams{
		TenantID: "tenant-a",
		EntityID: "doc-1",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("expected 2 matches for doc-1, got %d (%d rows)", total, len(entries))
	}

	entries, total, err = lg.Search(ctx, store.AuditSearchParams{
		TenantID: "tenant-a",
		Action:   domain.ActionCreate,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("expected 2 CREATE entries, got %d", total)
	}
}
