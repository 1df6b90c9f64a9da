// Package retention enforces per-compliance-framework retention on the
// audit ledger: computing retention deadlines at append time and
// running the tombstone purge once entries expire.
package retention

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default retention periods in years per compliance framework. The
// longest applicable period always wins.
const (
	DefaultHIPAAYears    = 6
	DefaultSOC2Years     = 7
	DefaultGDPRYears     = 3
	DefaultPCIDSSYears   = 1
	DefaultUntaggedYears = 2
)

// Policy maps compliance tags to retention periods. Unknown tags fall
// back to DefaultYears.
type Policy struct {
	TagYears     map[string]int `yaml:"tag_years"`
	DefaultYears int            `yaml:"default_years"`
}

// DefaultPolicy returns the built-in policy table.
func DefaultPolicy() *Policy {
	return &Policy{
		TagYears: map[string]int{
			"HIPAA":   DefaultHIPAAYears,
			"SOC2":    DefaultSOC2Years,
			"GDPR":    DefaultGDPRYears,
			"PCI-DSS": DefaultPCIDSSYears,
		},
		DefaultYears: DefaultUntaggedYears,
	}
}

// LoadPolicy reads a YAML policy file. Omitted fields keep their
// built-in defaults, so a file can override a single tag.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read retention policy: %w", err)
	}
	policy := DefaultPolicy()
	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse retention policy %s: %w", path, err)
	}
	for tag, years := range file.TagYears {
		if years <= 0 {
			return nil, fmt.Errorf("retention policy %s: tag %q has non-positive years %d", path, tag, years)
		}
		policy.TagYears[tag] = years
	}
	if file.DefaultYears > 0 {
		policy.DefaultYears = file.DefaultYears
	}
	return policy, nil
}

// Until computes the retention deadline for an entry: the maximum
// period across its tags, measured from created_at. Untagged entries
// and unknown tags use the default period.
func (p *Policy) Until(createdAt time.Time, tags []string) time.Time {
	if len(tags) == 0 {
		return createdAt.UTC().AddDate(p.DefaultYears, 0, 0)
	}
	years := 0
	for _, tag := range tags {
		y, ok := p.TagYears[tag]
		if !ok {
			y = p.DefaultYears
		}
		if y > years {
			years = y
		}
	}
	return createdAt.UTC().AddDate(years, 0, 0)
}
