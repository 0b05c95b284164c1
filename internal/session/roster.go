package session

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseRoster turns spreadsheet rows into a working student list.
//
// The first column is the registration number and the second the name.
// Cells are trimmed, rows missing either value are skipped, a first row
// that looks like a header ("reg" / "name") is skipped, and duplicate
// registration numbers keep their first occurrence.
func ParseRoster(rows [][]string) []Student {
	out := make([]Student, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for i, r := range rows {
		var reg, name string
		if len(r) > 0 {
			reg = strings.TrimSpace(r[0])
		}
		if len(r) > 1 {
			name = strings.TrimSpace(r[1])
		}
		if reg == "" || name == "" {
			continue
		}
		if i == 0 && (strings.Contains(strings.ToLower(reg), "reg") ||
			strings.Contains(strings.ToLower(name), "name")) {
			continue
		}
		if seen[reg] {
			continue
		}
		seen[reg] = true
		out = append(out, Student{RegNo: reg, Name: name})
	}
	return out
}

// ReadRosterCSV reads a CSV roster. Rows may have any number of columns;
// only the first two are used.
func ReadRosterCSV(r io.Reader) ([]Student, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read roster: %w", err)
		}
		rows = append(rows, rec)
	}
	return ParseRoster(rows), nil
}
