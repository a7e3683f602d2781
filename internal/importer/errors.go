// Package importer error mapping.
//
// # Error Codes Reference
//
// User-facing errors carry short codes so operators can quote them to
// support staff. Patterns are matched case-insensitively with
// strings.Contains; the first match wins, so specific patterns come
// before general ones.
//
//	DB001 - duplicate/unique violations during insert
//	DB002 - database connectivity problems
//	DB003 - operation timed out
//	FILE001 - file too large
//	FILE002 - not a valid CSV
//	FILE003 - empty file / no data rows
//	SES001 - session not found or expired
//	SES002 - too many concurrent sessions
//	SES003 - action not valid in the current workflow stage
//	SES004 - no rows selected for import
//	MAP001 - column mapping conflict
//	ERR000 - anything unrecognized
package importer

import "strings"

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A candidate with this phone number already exists",
			Action:  "Review flagged duplicates before importing",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A candidate with this phone number already exists",
			Action:  "Review flagged duplicates before importing",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach the candidate database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB003",
		},
	},
	{
		pattern: "exceeds",
		msg: UserMessage{
			Message: "The file is too large",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "parse csv",
		msg: UserMessage{
			Message: "The file is not a valid CSV",
			Action:  "Ensure the file is comma-separated with a header row",
			Code:    "FILE002",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Upload a CSV with a header row and data rows",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The file has no data rows after the header",
			Action:  "Upload a CSV with at least one candidate row",
			Code:    "FILE003",
		},
	},
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "This import session has expired",
			Action:  "Start a new import",
			Code:    "SES001",
		},
	},
	{
		pattern: "too many concurrent import sessions",
		msg: UserMessage{
			Message: "Too many imports are in progress",
			Action:  "Please wait a moment and try again",
			Code:    "SES002",
		},
	},
	{
		pattern: "not valid in current stage",
		msg: UserMessage{
			Message: "That action is not available right now",
			Action:  "Follow the import steps in order",
			Code:    "SES003",
		},
	},
	{
		pattern: "no rows selected",
		msg: UserMessage{
			Message: "No rows are selected for import",
			Action:  "Select at least one candidate to import",
			Code:    "SES004",
		},
	},
	{
		pattern: "already mapped",
		msg: UserMessage{
			Message: "That column is already mapped to another field",
			Action:  "Clear the other mapping first",
			Code:    "MAP001",
		},
	},
}

// MapError converts a technical error into a user-facing message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{Code: "ERR000"}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(lower, p.pattern) {
			return p.msg
		}
	}

	return UserMessage{
		Message: "An unexpected error occurred",
		Action:  "Please try again or contact support",
		Code:    "ERR000",
	}
}
