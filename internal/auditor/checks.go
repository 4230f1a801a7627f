package auditor

import (
	"context"
	"fmt"
	"math"

	"vaultd/internal/domain"
	"vaultd/internal/store"
)

func (a *Auditor) checkLedgerIntegrity(ctx context.Context, tenantID string) (int, CheckStatus, string, error) {
	result, err := a.ledger.VerifyChainIntegrity(ctx, tenantID)
	if err != nil {
		return 0, CheckFailed, "", err
	}
	if !result.Valid {
		detail := fmt.Sprintf("audit chain invalid after %d of %d entries", result.VerifiedEntries, result.TotalEntries)
		if result.FirstInvalidEntryID != nil {
			detail += fmt.Sprintf(" (first invalid entry %s)", result.FirstInvalidEntryID)
		}
		return 0, CheckFailed, detail, nil
	}
	return 100, CheckPassed, fmt.Sprintf("all %d entries verified", result.TotalEntries), nil
}

func (a *Auditor) checkVaultSampling(ctx context.Context, tenantID string) (int, CheckStatus, string, error) {
	sweep, err := a.vault.VerifyRecent(ctx, tenantID, 100)
	if err != nil {
		return 0, CheckFailed, "", err
	}
	if sweep.Checked == 0 {
		return 100, CheckPassed, "no documents to sample", nil
	}
	score := int(math.Round(100 * float64(sweep.Passed) / float64(sweep.Checked)))
	detail := fmt.Sprintf("sampled %d most recent documents: %d passed, %d failed", sweep.Checked, sweep.Passed, sweep.Failed)
	if sweep.Failed > 0 {
		return score, CheckFailed, detail, nil
	}
	return score, CheckPassed, detail, nil
}

func (a *Auditor) checkRetentionCompliance(ctx context.Context, tenantID string) (int, CheckStatus, string, error) {
	status, err := a.engine.CheckStatus(ctx, tenantID)
	if err != nil {
		return 0, CheckFailed, "", err
	}
	score := 100 - 25*len(status.Issues) - 10*len(status.Warnings)
	if score < 0 {
		score = 0
	}
	switch {
	case len(status.Issues) > 0:
		return score, CheckFailed, fmt.Sprintf("%d retention issues, %d warnings", len(status.Issues), len(status.Warnings)), nil
	case len(status.Warnings) > 0:
		return score, CheckWarning, fmt.Sprintf("%d retention warnings", len(status.Warnings)), nil
	default:
		return score, CheckPassed, fmt.Sprintf("%d documents within policy", status.Total), nil
	}
}

func (a *Auditor) checkJournalCompleteness(ctx context.Context, tenantID string) (int, CheckStatus, string, error) {
	entries, err := a.store.AuditEntries().CountForTenant(ctx, tenantID)
	if err != nil {
		return 0, CheckFailed, "", err
	}
	docs, err := a.store.Documents().CountForTenant(ctx, tenantID)
	if err != nil {
		return 0, CheckFailed, "", err
	}
	if entries == 0 {
		if docs == 0 {
			return 50, CheckWarning, "no journal activity recorded yet", nil
		}
		return 0, CheckFailed, fmt.Sprintf("%d documents but no audit entries", docs), nil
	}
	creates, err := a.store.AuditEntries().CountByAction(ctx, tenantID, domain.ActionCreate)
	if err != nil {
		return 0, CheckFailed, "", err
	}
	if docs == 0 || creates >= docs {
		return 100, CheckPassed, fmt.Sprintf("%d entries cover %d documents", entries, docs), nil
	}
	score := int(math.Round(100 * float64(creates) / float64(docs)))
	return score, CheckWarning, fmt.Sprintf("only %d CREATE entries for %d documents", creates, docs), nil
}

func (a *Auditor) checkProcessDocumentation(ctx context.Context, tenantID string) (int, CheckStatus, string, error) {
	_, total, err := a.store.Documents().List(ctx, store.DocumentFilter{
		TenantID:   tenantID,
		EntityType: "PROCESS_DOCUMENTATION",
		Status:     domain.StatusActive,
		Limit:      1,
	})
	if err != nil {
		return 0, CheckFailed, "", err
	}
	if total == 0 {
		return 50, CheckWarning, "no process documentation archived", nil
	}
	return 100, CheckPassed, fmt.Sprintf("%d process documentation documents archived", total), nil
}

func (a *Auditor) checkChangeTracking(ctx context.Context, tenantID string) (int, CheckStatus, string, error) {
	versions, err := a.store.Versions().CountForTenant(ctx, tenantID)
	if err != nil {
		return 0, CheckFailed, "", err
	}
	if versions == 0 {
		return 100, CheckPassed, "no re-archived revisions to track", nil
	}
	updates, err := a.store.AuditEntries().CountByAction(ctx, tenantID, domain.ActionUpdate)
	if err != nil {
		return 0, CheckFailed, "", err
	}
	if updates >= versions {
		return 100, CheckPassed, fmt.Sprintf("%d revisions all covered by UPDATE entries", versions), nil
	}
	score := int(math.Round(100 * float64(updates) / float64(versions)))
	return score, CheckWarning, fmt.Sprintf("%d of %d revisions covered by UPDATE entries", updates, versions), nil
}

func (a *Auditor) checkAccessControl(ctx context.Context, tenantID string) (int, CheckStatus, string, error) {
	entries, _, err := a.store.AuditEntries().Search(ctx, store.AuditSearchParams{
		TenantID: tenantID,
		PageSize: 100,
	})
	if err != nil {
		return 0, CheckFailed, "", err
	}
	if len(entries) == 0 {
		return 100, CheckPassed, "no access events recorded", nil
	}
	var anonymous int
	for _, e := range entries {
		if e.ActorID == "" || e.ActorType == "" {
			anonymous++
		}
	}
	if anonymous == 0 {
		return 100, CheckPassed, fmt.Sprintf("all %d recent entries attribute a named actor", len(entries)), nil
	}
	score := int(math.Round(100 * float64(len(entries)-anonymous) / float64(len(entries))))
	return score, CheckWarning, fmt.Sprintf("%d of %d recent entries lack actor attribution", anonymous, len(entries)), nil
}

func (a *Auditor) checkBackupAttestation(ctx context.Context, tenantID string) (int, CheckStatus, string, error) {
	// no backup log integration exists yet, so the attestation cannot be
	// verified against real backup runs
	return 75, CheckWarning, "backup attestation not verified against backup logs", nil
}

func (a *Auditor) checkTaxDocumentCoverage(ctx context.Context, tenantID string) (int, CheckStatus, string, error) {
	_, total, err := a.store.Documents().List(ctx, store.DocumentFilter{
		TenantID: tenantID,
		Category: domain.CategoryTaxRelevant,
		Limit:    1,
	})
	if err != nil {
		return 0, CheckFailed, "", err
	}
	if total == 0 {
		return 60, CheckWarning, "no tax-relevant documents archived", nil
	}
	_, corrupted, err := a.store.Documents().List(ctx, store.DocumentFilter{
		TenantID: tenantID,
		Category: domain.CategoryTaxRelevant,
		Status:   domain.StatusCorrupted,
		Limit:    1,
	})
	if err != nil {
		return 0, CheckFailed, "", err
	}
	if corrupted > 0 {
		return 0, CheckFailed, fmt.Sprintf("%d of %d tax-relevant documents corrupted", corrupted, total), nil
	}
	return 100, CheckPassed, fmt.Sprintf("%d tax-relevant documents intact", total), nil
}

func (a *Auditor) checkSystemConfiguration(ctx context.Context, tenantID string) (int, CheckStatus, string, error) {
	policy := a.engine.Policy()
	if len(policy.Years) == 0 {
		return 0, CheckFailed, "statutory retention table is empty", nil
	}
	if policy.GraceDays <= 0 {
		return 0, CheckFailed, "deletion grace period is not configured", nil
	}
	return 100, CheckPassed, fmt.Sprintf("%d retention categories configured, %d-day grace period, encryption enforced", len(policy.Years), policy.GraceDays), nil
}
