package retention

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vaultd/internal/domain"
)

func TestDefaultPolicyCarriesStatutoryPeriods(t *testing.T) {
	policy := DefaultPolicy(30)
	want := map[domain.RetentionCategory]int{
		domain.CategoryTaxRelevant:    10,
		domain.CategoryBusiness:       6,
		domain.CategoryCorrespondence: 6,
		domain.CategoryHR:             10,
		domain.CategoryLegal:          30,
		domain.CategoryTemporary:      1,
	}
	for cat, years := range want {
		got, ok := policy.YearsFor(cat)
		if !ok || got != years {
			t.Fatalf("category %s: got %d years (ok=%t), want %d", cat, got, ok, years)
		}
	}
	if policy.GraceDays != 30 {
		t.Fatalf("grace days = %d, want 30", policy.GraceDays)
	}
}

func TestLoadPolicyMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("TAX_RELEVANT: 11\nTEMPORARY: 2\n"), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	policy, err := LoadPolicy(path, 14)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if years, _ := policy.YearsFor(domain.CategoryTaxRelevant); years != 11 {
		t.Fatalf("override not applied: %d", years)
	}
	if years, _ := policy.YearsFor(domain.CategoryTemporary); years != 2 {
		t.Fatalf("override not applied: %d", years)
	}
	// untouched categories keep their defaults
	if years, _ := policy.YearsFor(domain.CategoryBusiness); years != 6 {
		t.Fatalf("default clobbered: %d", years)
	}
	if policy.GraceDays != 14 {
		t.Fatalf("grace days = %d, want 14", policy.GraceDays)
	}
}

func TestLoadPolicyEmptyPathUsesDefaults(t *testing.T) {
	policy, err := LoadPolicy("", 30)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(policy.Years) != 6 {
		t.Fatalf("expected 6 default categories, got %d", len(policy.Years))
	}
}

func TestLoadPolicyRejectsBadInput(t *testing.T) {
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"), 30); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("missing file must be a configuration error, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("TAX_RELEVANT: -1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPolicy(bad, 30); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("negative years must be a configuration error, got %v", err)
	}

	garbage := filepath.Join(t.TempDir(), "garbage.yaml")
	if err := os.WriteFile(garbage, []byte("{{not yaml"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPolicy(garbage, 30); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("unparsable file must be a configuration error, got %v", err)
	}
}
