package retention

import (
	"fmt"
	"os"
	"time"

	"vaultd/internal/domain"

	"gopkg.in/yaml.v3"
)

// Policy is the statutory retention table plus the deletion grace period.
// Retention end dates are computed once at archive time; editing the table
// later never retroactively recomputes stored dates.
type Policy struct {
	Years     map[domain.RetentionCategory]int
	GraceDays int
}

// DefaultPolicy carries the German statutory periods (GoBD/AO/HGB).
func DefaultPolicy(graceDays int) Policy {
	return Policy{
		Years: map[domain.RetentionCategory]int{
			domain.CategoryTaxRelevant:    10,
			domain.CategoryBusiness:       6,
			domain.CategoryCorrespondence: 6,
			domain.CategoryHR:             10,
			domain.CategoryLegal:          30,
			domain.CategoryTemporary:      1,
		},
		GraceDays: graceDays,
	}
}

// LoadPolicy reads a yaml category->years mapping and merges it over the
// defaults, so a partial file overrides only the categories it names.
func LoadPolicy(path string, graceDays int) (Policy, error) {
	policy := DefaultPolicy(graceDays)
	if path == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: read policy file: %v", domain.ErrConfiguration, err)
	}
	var years map[domain.RetentionCategory]int
	if err := yaml.Unmarshal(raw, &years); err != nil {
		return Policy{}, fmt.Errorf("%w: parse policy file: %v", domain.ErrConfiguration, err)
	}
	for cat, y := range years {
		if y <= 0 {
			return Policy{}, fmt.Errorf("%w: category %s: years must be positive", domain.ErrConfiguration, cat)
		}
		policy.Years[cat] = y
	}
	return policy, nil
}

func (p Policy) YearsFor(cat domain.RetentionCategory) (int, bool) {
	y, ok := p.Years[cat]
	return y, ok
}

// RetentionEnd computes archivedAt + statutory years, exactly.
func (p Policy) RetentionEnd(archivedAt time.Time, cat domain.RetentionCategory) (time.Time, error) {
	years, ok := p.Years[cat]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown retention category %q", domain.ErrValidation, cat)
	}
	return archivedAt.AddDate(years, 0, 0), nil
}

// GraceEnd is the instant after which an expired, unheld document may be
// physically deleted.
func (p Policy) GraceEnd(retentionEnd time.Time) time.Time {
	return retentionEnd.AddDate(0, 0, p.GraceDays)
}
