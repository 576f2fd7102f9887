package reservations

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Override adjusts how one reservation is amortized.
type Override struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	TermMonths  int     `yaml:"term_months"`
	MonthlyCost float64 `yaml:"monthly_cost"`
	Currency    string  `yaml:"currency"`
}

type overridesFile struct {
	Reservations []Override `yaml:"reservations"`
}

// LoadOverrides reads reservation overrides from a YAML file keyed by
// reservation ID. A missing file yields no overrides.
func LoadOverrides(path string) (map[string]Override, error) {
	overrides := make(map[string]Override)
	if path == "" {
		return overrides, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return overrides, nil
		}
		return nil, fmt.Errorf("read overrides: %w", err)
	}

	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse overrides %s: %w", path, err)
	}
	for i, o := range f.Reservations {
		if o.ID == "" {
			return nil, fmt.Errorf("override %d: id is required", i)
		}
		if o.TermMonths < 0 || o.MonthlyCost < 0 {
			return nil, fmt.Errorf("override %s: term_months and monthly_cost must not be negative", o.ID)
		}
		overrides[o.ID] = o
	}
	return overrides, nil
}
