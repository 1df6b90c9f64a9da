package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/verity-sec/verity/pkg/domain"
)

// JSONExporter writes entries as a JSON array with unchanged field
// names and ISO-8601 timestamps.
type JSONExporter struct{}

func (e *JSONExporter) ContentType() string { return "application/json" }

func (e *JSONExporter) Export(w io.Writer, entries []domain.Entry) error {
	if entries == nil {
		entries = []domain.Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return nil
}
