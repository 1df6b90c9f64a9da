// Package export renders queried audit entries as JSON, CSV or CEF.
// One exporter implementation per format behind a common interface,
// selected by the Format enum. Redacted entries export their tombstone
// values like any other entry.
package export

import (
	"fmt"
	"io"

	"github.com/verity-sec/verity/pkg/domain"
)

// Format selects an exporter.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	// FormatSIEM is the CEF (Common Event Format) rendering consumed by
	// SIEM tooling; "siem" is the wire name used by the export API.
	FormatSIEM Format = "siem"
)

// ParseFormat maps a wire-format string onto a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV, FormatSIEM:
		return Format(s), nil
	}
	return "", fmt.Errorf("format %q: %w", s, domain.ErrExportFormatUnsupported)
}

// Exporter renders a slice of entries into a wire payload.
type Exporter interface {
	ContentType() string
	Export(w io.Writer, entries []domain.Entry) error
}

// Options carries per-format configuration.
type Options struct {
	// CEF severity overrides for event names outside the documented
	// derivation rule. Keys are full event names.
	SeverityOverrides map[string]int
}

// New returns the exporter for a format.
func New(format Format, opts Options) (Exporter, error) {
	switch format {
	case FormatJSON:
		return &JSONExporter{}, nil
	case FormatCSV:
		return &CSVExporter{}, nil
	case FormatSIEM:
		return &CEFExporter{SeverityOverrides: opts.SeverityOverrides}, nil
	}
	return nil, fmt.Errorf("format %q: %w", format, domain.ErrExportFormatUnsupported)
}
