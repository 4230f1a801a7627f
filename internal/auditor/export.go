package auditor

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vaultd/internal/domain"
	"vaultd/internal/ledger"
	"vaultd/internal/vault"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// bundleExpiry is the fixed lifetime of an auditor export bundle.
const bundleExpiry = 30 * 24 * time.Hour

type ExportOptions struct {
	// IncludeDocuments adds the decrypted payloads to the bundle; the
	// auditor cannot hold the tenant key, so decryption happens here.
	IncludeDocuments bool
	ActorID          string
}

type ExportResult struct {
	BundlePath       string    `json:"bundlePath"`
	ChecksumPath     string    `json:"checksumPath"`
	AttestationPath  string    `json:"attestationPath"`
	Checksum         string    `json:"checksum"`
	AttestationToken string    `json:"attestationToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	Files            []string  `json:"files"`
	Report           *Report   `json:"report"`
}

type manifestEntry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

type manifest struct {
	TenantID  string          `json:"tenantId"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Files     []manifestEntry `json:"files"`
}

// ExportForAuditor assembles the checksummed evidence bundle: the compliance
// report in machine- and human-readable renderings, the tabular audit-log
// extract, the document inventory, optional decrypted documents, process and
// system-configuration snapshots, and a manifest. The SHA-256 over the final
// zip gives the reviewer transport-integrity verification independent of the
// internal ledger.
func (a *Auditor) ExportForAuditor(ctx context.Context, tenantID string, opts ExportOptions) (*ExportResult, error) {
	if len(a.attestationKey) == 0 {
		return nil, fmt.Errorf("%w: attestation key unconfigured", domain.ErrConfiguration)
	}
	if a.exportDir == "" {
		return nil, fmt.Errorf("%w: export directory unconfigured", domain.ErrConfiguration)
	}

	report, err := a.GenerateReport(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := a.clock()
	expiresAt := now.Add(bundleExpiry)

	files := make([]struct {
		name string
		data []byte
	}, 0, 8)
	add := func(name string, data []byte) {
		files = append(files, struct {
			name string
			data []byte
		}{name, data})
	}

	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, err
	}
	add("report.json", reportJSON)
	add("report.txt", []byte(renderReportText(report)))

	auditCSV, err := a.auditLogCSV(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	add("audit_log.csv", auditCSV)

	inventoryCSV, err := a.inventoryCSV(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	add("documents.csv", inventoryCSV)

	if opts.IncludeDocuments {
		exported, err := a.vault.ExportBatch(ctx, tenantID, vault.ExportOptions{
			Decrypt: true,
			ActorID: opts.ActorID,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range exported {
			name := fmt.Sprintf("documents/%s_%s", item.Document.ID, sanitizeFilename(item.Document.OriginalFilename))
			add(name, item.Plaintext)
		}
	}

	processSnapshot, err := json.MarshalIndent(map[string]any{
		"tenantId":    tenantID,
		"generatedAt": now,
		"note":        "process documentation inventory; see documents.csv for PROCESS_DOCUMENTATION entries",
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	add("process_documentation.json", processSnapshot)

	policy := a.engine.Policy()
	systemSnapshot, err := json.MarshalIndent(map[string]any{
		"retentionYears":  policy.Years,
		"gracePeriodDays": policy.GraceDays,
		"encryption":      "AES-256-GCM, per-tenant derived keys",
		"generatedAt":     now,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	add("system_configuration.json", systemSnapshot)

	man := manifest{TenantID: tenantID, CreatedAt: now, ExpiresAt: expiresAt}
	for _, f := range files {
		sum := sha256.Sum256(f.data)
		man.Files = append(man.Files, manifestEntry{Name: f.name, SHA256: hex.EncodeToString(sum[:]), Size: len(f.data)})
	}
	manJSON, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, err
	}
	add("manifest.json", manJSON)

	if err := os.MkdirAll(a.exportDir, 0o700); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	bundleName := fmt.Sprintf("%s-audit-export-%s.zip", tenantID, now.Format("20060102T150405Z"))
	bundlePath := filepath.Join(a.exportDir, bundleName)

	if err := writeZip(bundlePath, files); err != nil {
		return nil, err
	}
	checksum, err := fileSHA256(bundlePath)
	if err != nil {
		return nil, err
	}

	checksumPath := bundlePath + ".sha256"
	if err := os.WriteFile(checksumPath, []byte(checksum+"  "+bundleName+"\n"), 0o600); err != nil {
		return nil, err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":           tenantID,
		"bundle_sha256": checksum,
		"iat":           now.Unix(),
		"exp":           expiresAt.Unix(),
	})
	signed, err := token.SignedString(a.attestationKey)
	if err != nil {
		return nil, fmt.Errorf("sign attestation: %w", err)
	}
	attestationPath := bundlePath + ".jwt"
	if err := os.WriteFile(attestationPath, []byte(signed), 0o600); err != nil {
		return nil, err
	}

	result := &ExportResult{
		BundlePath:       bundlePath,
		ChecksumPath:     checksumPath,
		AttestationPath:  attestationPath,
		Checksum:         checksum,
		AttestationToken: signed,
		ExpiresAt:        expiresAt,
		Report:           report,
	}
	for _, f := range files {
		result.Files = append(result.Files, f.name)
	}

	if _, err := a.ledger.Append(ctx, ledger.EntryInput{
		TenantID:   tenantID,
		EntityType: "AUDITOR_EXPORT",
		EntityID:   uuid.New().String(),
		Action:     domain.ActionExport,
		ActorType:  "AUDITOR",
		ActorID:    opts.ActorID,
		NewState: map[string]any{
			"bundle":    bundleName,
			"checksum":  checksum,
			"files":     len(result.Files),
			"expiresAt": expiresAt.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return nil, err
	}

	slog.Info("auditor export bundle created", "tenant", tenantID, "bundle", bundlePath, "files", len(result.Files), "score", report.Score)
	return result, nil
}

func (a *Auditor) auditLogCSV(ctx context.Context, tenantID string) ([]byte, error) {
	entries, err := a.store.AuditEntries().ListForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"ID", "Timestamp", "EntityType", "EntityID", "Action", "ActorType", "ActorID", "Hash"}); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.Write([]string{
			e.ID.String(),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.EntityType,
			e.EntityID,
			string(e.Action),
			e.ActorType,
			e.ActorID,
			e.Hash,
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return []byte(buf.String()), w.Error()
}

func (a *Auditor) inventoryCSV(ctx context.Context, tenantID string) ([]byte, error) {
	docs, err := a.store.Documents().ListRecent(ctx, tenantID, 0)
	if err != nil {
		return nil, err
	}
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"ID", "Filename", "MimeType", "Size", "Hash", "ArchivedAt", "RetentionCategory"}); err != nil {
		return nil, err
	}
	for _, d := range docs {
		if err := w.Write([]string{
			d.ID.String(),
			d.OriginalFilename,
			d.MimeType,
			strconv.FormatInt(d.FileSizeBytes, 10),
			d.ContentHash,
			d.ArchivedAt.UTC().Format(time.RFC3339),
			string(d.RetentionCategory),
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return []byte(buf.String()), w.Error()
}

func renderReportText(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compliance Report\n")
	fmt.Fprintf(&b, "Tenant:       %s\n", r.TenantID)
	fmt.Fprintf(&b, "Generated:    %s\n", r.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Score:        %d/100\n", r.Score)
	fmt.Fprintf(&b, "Certifiable:  %t\n\n", r.CertificationReady)
	fmt.Fprintf(&b, "Checks:\n")
	for _, c := range r.Checks {
		fmt.Fprintf(&b, "  [%-7s] %-26s score %3d (weight %2d)  %s\n", c.Status, c.Type, c.Score, c.Weight, c.Details)
	}
	if len(r.Issues) > 0 {
		fmt.Fprintf(&b, "\nIssues:\n")
		for _, issue := range r.Issues {
			fmt.Fprintf(&b, "  [%s] %s: %s\n    Remediation: %s\n", issue.Severity, issue.CheckType, issue.Description, issue.Remediation)
		}
	}
	return b.String()
}

func writeZip(path string, files []struct {
	name string
	data []byte
}) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	zw := zip.NewWriter(f)
	for _, file := range files {
		w, err := zw.Create(file.name)
		if err != nil {
			zw.Close()
			f.Close()
			return err
		}
		if _, err := w.Write(file.data); err != nil {
			zw.Close()
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
