package report

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteJSON writes the document with violations limited per opts.
func WriteJSON(w io.Writer, doc *Document, opts Options) error {
	if doc == nil {
		return fmt.Errorf("report: nil document")
	}
	out := *doc
	out.Results = limited(doc.Results, opts.IncludeViolations, opts.MaxViolations)

	enc := json.NewEncoder(w)
	if opts.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("report: json encode: %w", err)
	}
	return nil
}
