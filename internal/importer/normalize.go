package importer

// normalize.go converts raw cell strings into canonical values.
//
// These functions handle the messy reality of spreadsheet exports:
//   - Phone numbers mangled into scientific notation (4.47777E+11)
//   - Separators, parentheses, and extension junk inside numbers
//   - Various yes/no representations (yes/no, true/false, 1/0)
//   - Role lists delimited by comma, semicolon, or pipe
//
// Every function here is total: invalid input produces a result the
// caller can inspect, never an error.

import (
	"regexp"
	"strconv"
	"strings"
)

// MinPhoneDigits and MaxPhoneDigits bound a plausible phone number.
const (
	MinPhoneDigits = 7
	MaxPhoneDigits = 15
)

// scientificNotationRegex matches spreadsheet float exports like 4.47777E+11.
var scientificNotationRegex = regexp.MustCompile(`^\d+(\.\d+)?[eE]\+?\d+$`)

// callingCodes are the country calling codes the display formatter recognizes,
// longest first so "353" wins over "35".
var callingCodes = []string{
	"353", "351", "358",
	"44", "49", "33", "34", "39", "31", "46", "47", "48", "61", "64", "27", "91", "86", "81",
	"1",
}

// PhoneResult is the outcome of normalizing one raw phone value.
// Canonical is the deduplication identity key ("+" then digits only).
// Display echoes the original input when Valid is false.
type PhoneResult struct {
	Canonical string
	Display   string
	Valid     bool
}

// NormalizePhone converts an arbitrary string into a canonical phone number.
// Spreadsheet scientific notation is expanded before stripping, so a cell
// Excel mangled into 4.47777E+11 still round-trips to its digits.
func NormalizePhone(raw string) PhoneResult {
	s := strings.TrimSpace(raw)
	if s == "" {
		return PhoneResult{Display: raw}
	}

	if scientificNotationRegex.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			s = strconv.FormatFloat(f, 'f', 0, 64)
		}
	}

	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			// Single leading plus only; everything else is separator junk.
			continue
		}
	}
	digits := b.String()

	if len(digits) < MinPhoneDigits || len(digits) > MaxPhoneDigits {
		return PhoneResult{Display: raw}
	}

	canonical := "+" + digits
	return PhoneResult{
		Canonical: canonical,
		Display:   formatPhoneDisplay(digits),
		Valid:     true,
	}
}

// formatPhoneDisplay produces a human-readable form of a digit string.
// Known calling codes get country-specific spacing; anything else falls
// back to a generic "+cc rest" split.
func formatPhoneDisplay(digits string) string {
	for _, cc := range callingCodes {
		if !strings.HasPrefix(digits, cc) || len(digits) <= len(cc) {
			continue
		}
		rest := digits[len(cc):]
		switch cc {
		case "44":
			// UK mobiles: +44 7700 900123
			if len(rest) == 10 {
				return "+44 " + rest[:4] + " " + rest[4:]
			}
		case "1":
			// NANP: +1 212 555 0100
			if len(rest) == 10 {
				return "+1 " + rest[:3] + " " + rest[3:6] + " " + rest[6:]
			}
		case "353":
			if len(rest) >= 7 {
				return "+353 " + rest[:2] + " " + rest[2:]
			}
		}
		return "+" + cc + " " + rest
	}
	return "+" + digits
}

// NormalizeTriState classifies a raw flag value as Yes, No, or Unknown.
// The token sets are closed: anything outside them, including the empty
// string, is Unknown.
func NormalizeTriState(raw string) TriState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "true", "1":
		return TriYes
	case "no", "n", "false", "0":
		return TriNo
	default:
		return TriUnknown
	}
}

// SplitRoles splits a delimited role list on comma, semicolon, or pipe.
// Segments are trimmed, empties dropped, and repeats collapsed
// case-insensitively while preserving first-appearance order.
func SplitRoles(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})

	seen := make(map[string]bool, len(parts))
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		roles = append(roles, p)
	}
	return roles
}
