// Package importer provides the business logic for bulk candidate imports.
// This package has no UI dependencies and can be used by any frontend.
package importer

import "context"

// Field identifies a semantic candidate field that a CSV column can map to.
type Field string

const (
	FieldName      Field = "name"
	FieldFirstName Field = "firstName"
	FieldLastName  Field = "lastName"
	FieldPhone     Field = "phone"
	FieldRoles     Field = "roles"
	FieldDriver    Field = "driver"
	FieldDBS       Field = "dbs"
	FieldTraining  Field = "training"
)

// fieldPriority is the fixed order in which fields claim contested columns.
// Name and phone go first so they win ambiguous headers.
var fieldPriority = []Field{
	FieldName,
	FieldPhone,
	FieldFirstName,
	FieldLastName,
	FieldRoles,
	FieldDriver,
	FieldDBS,
	FieldTraining,
}

// TriState is a normalized yes/no flag that preserves "we don't know".
type TriState string

const (
	TriYes     TriState = "Yes"
	TriNo      TriState = "No"
	TriUnknown TriState = "Unknown"
)

// DuplicateStatus classifies a row against known records and earlier rows
// in the same file.
type DuplicateStatus string

const (
	DupNone       DuplicateStatus = ""
	DupOfExisting DuplicateStatus = "existing"
	DupInFile     DuplicateStatus = "in_file"
)

// RawTable is the parsed upload: the header row plus all data rows.
// Produced once per session and never mutated afterward.
type RawTable struct {
	Headers []string
	Rows    [][]string
}

// ColumnMapping associates one target field with a column in the RawTable.
// Column is -1 while the field is unmapped. At most one mapping may claim
// a given column index.
type ColumnMapping struct {
	Field      Field  `json:"field"`
	Label      string `json:"label"`
	Column     int    `json:"column"`
	Required   bool   `json:"required"`
	Confidence int    `json:"confidence"`
}

// Mapped reports whether the field has a column assigned.
func (m ColumnMapping) Mapped() bool {
	return m.Column >= 0
}

// ParsedCandidate is one raw row turned into a structured record carrying
// its validation problems. IDs are stable within the session only.
type ParsedCandidate struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	PhoneRaw        string          `json:"phoneRaw"`
	PhoneNormalized string          `json:"phoneNormalized"`
	PhoneDisplay    string          `json:"phoneDisplay"`
	Roles           []string        `json:"roles"`
	Driver          TriState        `json:"driver"`
	DBS             TriState        `json:"dbs"`
	Training        TriState        `json:"training"`
	SourceLabel     string          `json:"sourceLabel"`
	Confidence      int             `json:"confidence"`
	Selected        bool            `json:"selected"`
	Errors          []string        `json:"errors,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	DuplicateStatus DuplicateStatus `json:"duplicateStatus,omitempty"`
	DuplicateOfName string          `json:"duplicateOfName,omitempty"`
}

// Identity is one previously known candidate, keyed by canonical phone.
type Identity struct {
	ID    string
	Name  string
	Phone string
}

// CandidateRecord is the persistence-ready subset of a ParsedCandidate
// submitted to the store in batches.
type CandidateRecord struct {
	ID          string
	Name        string
	Phone       string
	Roles       []string
	Driver      TriState
	DBS         TriState
	Training    TriState
	SourceLabel string
	Status      string
}

// InitialCandidateStatus is the pipeline status stamped on every imported record.
const InitialCandidateStatus = "new"

// Store is the persistence collaborator. FetchAllIdentities is called once
// at session start; BulkInsert once per batch. BulkInsert returns the number
// of records actually persisted, which may be lower than the batch size.
type Store interface {
	FetchAllIdentities(ctx context.Context) ([]Identity, error)
	BulkInsert(ctx context.Context, records []CandidateRecord) (int, error)
}

// Stage is the current step of the operator workflow.
type Stage string

const (
	StageUpload    Stage = "upload"
	StageMapping   Stage = "mapping"
	StageReview    Stage = "review"
	StageImporting Stage = "importing"
	StageComplete  Stage = "complete"
)

// Progress is a snapshot of batch submission state, reported after every batch.
type Progress struct {
	SessionID string `json:"sessionId"`
	Stage     Stage  `json:"stage"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

// Percent returns the progress as a percentage (0-100).
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return (p.Processed * 100) / p.Total
}

// ImportResult is the terminal accounting for a session. SuccessCount plus
// FailedCount always equals the number of rows submitted to the store;
// duplicates are excluded up front and counted in DuplicateSkippedCount.
type ImportResult struct {
	SuccessCount          int      `json:"successCount"`
	FailedCount           int      `json:"failedCount"`
	DuplicateSkippedCount int      `json:"duplicateSkippedCount"`
	Errors                []string `json:"errors,omitempty"`
	Cancelled             bool     `json:"cancelled,omitempty"`
}

// BulkAction is a review-stage selection shortcut.
type BulkAction string

const (
	SelectAll   BulkAction = "all"
	SelectClean BulkAction = "clean"
	SelectNone  BulkAction = "none"
)
