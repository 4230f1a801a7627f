// Package auditor scores the tenant's compliance posture across the ledger,
// vault, and retention engine, and packages the evidence for an external
// reviewer. All checks are read-only.
package auditor

import (
	"context"
	"fmt"
	"math"
	"time"

	"vaultd/internal/ledger"
	"vaultd/internal/observability/metrics"
	"vaultd/internal/retention"
	"vaultd/internal/store"
	"vaultd/internal/vault"
)

type CheckType string

const (
	CheckLedgerIntegrity      CheckType = "LEDGER_INTEGRITY"
	CheckVaultSampling        CheckType = "VAULT_SAMPLING_INTEGRITY"
	CheckRetentionCompliance  CheckType = "RETENTION_COMPLIANCE"
	CheckJournalCompleteness  CheckType = "JOURNAL_COMPLETENESS"
	CheckProcessDocumentation CheckType = "PROCESS_DOCUMENTATION"
	CheckChangeTracking       CheckType = "CHANGE_TRACKING"
	CheckAccessControl        CheckType = "ACCESS_CONTROL"
	CheckBackupAttestation    CheckType = "BACKUP_ATTESTATION"
	CheckTaxDocumentCoverage  CheckType = "TAX_DOCUMENT_COVERAGE"
	CheckSystemConfiguration  CheckType = "SYSTEM_CONFIGURATION"
)

// checkWeights must sum to 100.
var checkWeights = map[CheckType]int{
	CheckLedgerIntegrity:      15,
	CheckVaultSampling:        15,
	CheckRetentionCompliance:  10,
	CheckJournalCompleteness:  15,
	CheckProcessDocumentation: 10,
	CheckChangeTracking:       10,
	CheckAccessControl:        8,
	CheckBackupAttestation:    7,
	CheckTaxDocumentCoverage:  7,
	CheckSystemConfiguration:  3,
}

type CheckStatus string

const (
	CheckPassed  CheckStatus = "PASSED"
	CheckWarning CheckStatus = "WARNING"
	CheckFailed  CheckStatus = "FAILED"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Check struct {
	Type    CheckType   `json:"type"`
	Status  CheckStatus `json:"status"`
	Score   int         `json:"score"`
	Weight  int         `json:"weight"`
	Details string      `json:"details,omitempty"`
}

type Issue struct {
	CheckType   CheckType `json:"checkType"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Remediation string    `json:"remediation"`
}

type Report struct {
	TenantID           string    `json:"tenantId"`
	GeneratedAt        time.Time `json:"generatedAt"`
	Checks             []Check   `json:"checks"`
	Score              int       `json:"score"`
	Issues             []Issue   `json:"issues"`
	CertificationReady bool      `json:"certificationReady"`
}

type Auditor struct {
	ledger *ledger.Ledger
	vault  *vault.Vault
	engine *retention.Engine
	store  *store.Store
	clock  func() time.Time

	attestationKey []byte
	exportDir      string
}

type Config struct {
	// AttestationKey signs the export-bundle attestation token (HS256).
	AttestationKey []byte
	// ExportDir receives auditor export bundles.
	ExportDir string
}

type Option func(*Auditor)

func WithClock(clock func() time.Time) Option {
	return func(a *Auditor) { a.clock = clock }
}

func New(st *store.Store, lg *ledger.Ledger, v *vault.Vault, eng *retention.Engine, cfg Config, opts ...Option) *Auditor {
	a := &Auditor{
		ledger:         lg,
		vault:          v,
		engine:         eng,
		store:          st,
		clock:          func() time.Time { return time.Now().UTC() },
		attestationKey: cfg.AttestationKey,
		exportDir:      cfg.ExportDir,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GenerateReport runs all ten checks, each isolated: a check that errors or
// panics is recorded FAILED with score 0 and the report still completes.
func (a *Auditor) GenerateReport(ctx context.Context, tenantID string) (*Report, error) {
	checks := make([]Check, 0, len(a.checkOrder()))
	for _, def := range a.checkOrder() {
		checks = append(checks, a.runIsolated(ctx, tenantID, def))
	}

	report := &Report{
		TenantID:    tenantID,
		GeneratedAt: a.clock(),
		Checks:      checks,
		Score:       CalculateComplianceScore(checks),
	}
	report.Issues = DeriveIssues(checks)
	report.CertificationReady = CertificationReady(report.Score, report.Issues)

	metrics.SetComplianceScore(tenantID, report.Score)
	return report, nil
}

type checkDef struct {
	typ CheckType
	run func(ctx context.Context, tenantID string) (int, CheckStatus, string, error)
}

func (a *Auditor) checkOrder() []checkDef {
	return []checkDef{
		{CheckLedgerIntegrity, a.checkLedgerIntegrity},
		{CheckVaultSampling, a.checkVaultSampling},
		{CheckRetentionCompliance, a.checkRetentionCompliance},
		{CheckJournalCompleteness, a.checkJournalCompleteness},
		{CheckProcessDocumentation, a.checkProcessDocumentation},
		{CheckChangeTracking, a.checkChangeTracking},
		{CheckAccessControl, a.checkAccessControl},
		{CheckBackupAttestation, a.checkBackupAttestation},
		{CheckTaxDocumentCoverage, a.checkTaxDocumentCoverage},
		{CheckSystemConfiguration, a.checkSystemConfiguration},
	}
}

func (a *Auditor) runIsolated(ctx context.Context, tenantID string, def checkDef) (check Check) {
	check = Check{Type: def.typ, Weight: checkWeights[def.typ]}
	defer func() {
		if r := recover(); r != nil {
			check.Status = CheckFailed
			check.Score = 0
			check.Details = fmt.Sprintf("check panicked: %v", r)
		}
	}()

	score, status, details, err := def.run(ctx, tenantID)
	if err != nil {
		check.Status = CheckFailed
		check.Score = 0
		check.Details = fmt.Sprintf("check failed to execute: %v", err)
		return check
	}
	check.Score = score
	check.Status = status
	check.Details = details
	return check
}

// CalculateComplianceScore is a pure, order-invariant function of the
// (score, weight) pairs: round(sum(score*weight) / sum(weight)).
func CalculateComplianceScore(checks []Check) int {
	var weighted, weights int
	for _, c := range checks {
		weighted += c.Score * c.Weight
		weights += c.Weight
	}
	if weights == 0 {
		return 0
	}
	return int(math.Round(float64(weighted) / float64(weights)))
}

var remediations = map[CheckType]string{
	CheckLedgerIntegrity:      "Restore the audit ledger from a trusted backup and investigate write access to the audit store.",
	CheckVaultSampling:        "Run the exhaustive integrity sweep, restore corrupted documents from backup, and re-verify.",
	CheckRetentionCompliance:  "Review expired documents, release or justify legal holds, and process overdue deletions.",
	CheckJournalCompleteness:  "Ensure every document mutation is routed through the audit ledger.",
	CheckProcessDocumentation: "Archive the current process documentation (verfahrensdokumentation) into the vault.",
	CheckChangeTracking:       "Record a version entry for every re-archived document revision.",
	CheckAccessControl:        "Attribute every access to a named actor; anonymous access breaks auditability.",
	CheckBackupAttestation:    "Connect backup logs so attestations can be verified against real backup runs.",
	CheckTaxDocumentCoverage:  "Archive tax-relevant records under the TAX_RELEVANT category.",
	CheckSystemConfiguration:  "Restore the statutory retention table and encryption configuration.",
}

// DeriveIssues maps each non-passing check to exactly one issue:
// FAILED becomes HIGH, WARNING becomes MEDIUM.
func DeriveIssues(checks []Check) []Issue {
	issues := make([]Issue, 0)
	for _, c := range checks {
		switch c.Status {
		case CheckFailed:
			issues = append(issues, Issue{
				CheckType:   c.Type,
				Severity:    SeverityHigh,
				Description: c.Details,
				Remediation: remediations[c.Type],
			})
		case CheckWarning:
			issues = append(issues, Issue{
				CheckType:   c.Type,
				Severity:    SeverityMedium,
				Description: c.Details,
				Remediation: remediations[c.Type],
			})
		}
	}
	return issues
}

// CertificationReady requires a score of at least 90, zero critical issues,
// and at most two high-severity issues.
func CertificationReady(score int, issues []Issue) bool {
	var critical, high int
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		}
	}
	return score >= 90 && critical == 0 && high <= 2
}
