package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// extractCSV flattens CSV rows into tab-separated lines, matching the layout
// produced for spreadsheets.
func extractCSV(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse CSV: %w", err)
	}
	var buf strings.Builder
	for _, row := range records {
		buf.WriteString(strings.Join(row, "\t"))
		buf.WriteByte('\n')
	}
	return strings.TrimSpace(buf.String()), nil
}
