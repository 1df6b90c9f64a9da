package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-sec/verity/pkg/domain"
)

var t0 = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

func TestPolicy_Until(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		name  string
		tags  []string
		years int
	}{
		{"untagged", nil, 2},
		{"hipaa", []string{domain.TagHIPAA}, 6},
		{"soc2", []string{domain.TagSOC2}, 7},
		{"gdpr", []string{domain.TagGDPR}, 3},
		{"pci", []string{domain.TagPCIDSS}, 1},
		{"max wins", []string{domain.TagHIPAA, domain.TagGDPR}, 6},
		{"unknown tag", []string{"ISO-27001"}, 2},
		{"unknown beats shorter", []string{domain.TagPCIDSS, "ISO-27001"}, 2},
		{"all", []string{domain.TagHIPAA, domain.TagSOC2, domain.TagGDPR, domain.TagPCIDSS}, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, t0.AddDate(tc.years, 0, 0), p.Until(t0, tc.tags))
		})
	}
}

func TestLoadPolicy_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"tag_years:\n  GDPR: 5\n  FINRA: 10\ndefault_years: 4\n"), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)

	// Overridden and added tags.
	assert.Equal(t, t0.AddDate(5, 0, 0), p.Until(t0, []string{domain.TagGDPR}))
	assert.Equal(t, t0.AddDate(10, 0, 0), p.Until(t0, []string{"FINRA"}))
	// Untouched built-in and new default.
	assert.Equal(t, t0.AddDate(6, 0, 0), p.Until(t0, []string{domain.TagHIPAA}))
	assert.Equal(t, t0.AddDate(4, 0, 0), p.Until(t0, nil))
}

func TestLoadPolicy_RejectsNonPositiveYears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tag_years:\n  GDPR: -1\n"), 0o644))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
