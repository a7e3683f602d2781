package importer

// parse.go handles CSV intake and row parsing.
//
// Intake is a single synchronous pass: sanitize encoding, split into
// records, peel off the header row. Row parsing is total: malformed
// input surfaces as errors/warnings on the ParsedCandidate, never as a
// returned error, so one bad row cannot abort the file.

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxFileSize is the maximum allowed CSV file size (10MB).
var MaxFileSize int64 = 10 * 1024 * 1024

// Row confidence is a coarse two-tier signal, not a continuous score.
const (
	ConfidenceClean   = 90
	ConfidenceFlagged = 30
)

// ParseTable parses raw file bytes into an immutable RawTable.
// The first record is the header; remaining records are data rows.
func ParseTable(data []byte) (*RawTable, error) {
	if int64(len(data)) > MaxFileSize {
		return nil, fmt.Errorf("file exceeds %dMB limit", MaxFileSize/(1024*1024))
	}

	data = sanitizeUTF8(data)

	records, err := parseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = CleanCell(h)
	}

	rows := make([][]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if isEmptyRow(row) {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data rows after header")
	}

	return &RawTable{Headers: headers, Rows: rows}, nil
}

// parseRow turns one raw row into a ParsedCandidate using the frozen
// mappings. The resolver must be fed rows in file order; parseRow marks
// the row's phone as seen before returning.
func parseRow(id string, row []string, mappings []ColumnMapping, resolver *Resolver, sourceLabel string) ParsedCandidate {
	cell := func(f Field) string {
		for _, m := range mappings {
			if m.Field == f && m.Mapped() && m.Column < len(row) {
				return CleanCell(row[m.Column])
			}
		}
		return ""
	}

	c := ParsedCandidate{
		ID:          id,
		SourceLabel: sourceLabel,
		Roles:       SplitRoles(cell(FieldRoles)),
		Driver:      NormalizeTriState(cell(FieldDriver)),
		DBS:         NormalizeTriState(cell(FieldDBS)),
		Training:    NormalizeTriState(cell(FieldTraining)),
	}

	c.Name = cell(FieldName)
	if c.Name == "" {
		first, last := cell(FieldFirstName), cell(FieldLastName)
		c.Name = strings.TrimSpace(first + " " + last)
	}
	if c.Name == "" {
		c.Errors = append(c.Errors, "Missing name")
	}

	c.PhoneRaw = cell(FieldPhone)
	if c.PhoneRaw == "" {
		c.Errors = append(c.Errors, "Missing phone")
	} else {
		phone := NormalizePhone(c.PhoneRaw)
		c.PhoneDisplay = phone.Display
		if phone.Valid {
			c.PhoneNormalized = phone.Canonical
		} else {
			c.Warnings = append(c.Warnings, "Phone format unclear")
		}
	}

	status, conflictName := resolver.Classify(c.PhoneNormalized)
	c.DuplicateStatus = status
	switch status {
	case DupOfExisting:
		c.DuplicateOfName = conflictName
		c.Warnings = append(c.Warnings, fmt.Sprintf("Already exists as %q", conflictName))
	case DupInFile:
		c.Warnings = append(c.Warnings, "Duplicate in file")
	}
	resolver.MarkSeen(c.PhoneNormalized)

	if len(c.Errors) == 0 {
		c.Confidence = ConfidenceClean
	} else {
		c.Confidence = ConfidenceFlagged
	}

	// Clean, novel rows are pre-selected; anything flagged needs
	// explicit operator opt-in.
	c.Selected = len(c.Errors) == 0 && c.DuplicateStatus == DupNone

	return c
}

// Record returns the persistence-ready subset of the candidate.
func (c ParsedCandidate) Record() CandidateRecord {
	return CandidateRecord{
		ID:          c.ID,
		Name:        c.Name,
		Phone:       c.PhoneNormalized,
		Roles:       c.Roles,
		Driver:      c.Driver,
		DBS:         c.DBS,
		Training:    c.Training,
		SourceLabel: c.SourceLabel,
		Status:      InitialCandidateStatus,
	}
}

// Helper functions

func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}
