package importer

// infer.go guesses which CSV column feeds which candidate field.
//
// Inference is a greedy single-pass allocation: fields are evaluated in
// fixed priority order, each scores every unclaimed column, and the best
// column at or above the threshold is claimed and removed from play.
// With at most eight fields there is no need for backtracking.

import (
	"regexp"
	"strings"
	"unicode"
)

// InferSampleRows is how many non-empty rows are sampled per column.
var InferSampleRows = 10

// InferScoreThreshold is the minimum score for a column to be claimed.
const InferScoreThreshold = 30

// Header score contributions.
const (
	scoreHeaderMatch  = 40
	scorePhoneSamples = 40
	scoreNameSamples  = 30
)

// fieldLabels are operator-facing names for each target field.
var fieldLabels = map[Field]string{
	FieldName:      "Full Name",
	FieldFirstName: "First Name",
	FieldLastName:  "Last Name",
	FieldPhone:     "Phone",
	FieldRoles:     "Roles",
	FieldDriver:    "Driver",
	FieldDBS:       "DBS Check",
	FieldTraining:  "Training",
}

// requiredFields must end up mapped for rows to parse without errors.
var requiredFields = map[Field]bool{
	FieldName:  true,
	FieldPhone: true,
}

// headerPatterns match header text per field. Keep the more specific
// fields (first/last name) ahead of bare "name" in their own patterns;
// priority order handles cross-field contention.
var headerPatterns = map[Field][]*regexp.Regexp{
	FieldName: {
		regexp.MustCompile(`(?i)^(full[ _-]?)?name$`),
		regexp.MustCompile(`(?i)^candidate([ _-]?name)?$`),
		regexp.MustCompile(`(?i)^contact([ _-]?name)?$`),
	},
	FieldFirstName: {
		regexp.MustCompile(`(?i)first[ _-]?name`),
		regexp.MustCompile(`(?i)^f(irst)?name$`),
		regexp.MustCompile(`(?i)^forename$`),
	},
	FieldLastName: {
		regexp.MustCompile(`(?i)last[ _-]?name`),
		regexp.MustCompile(`(?i)^l(ast)?name$`),
		regexp.MustCompile(`(?i)^surname$`),
	},
	FieldPhone: {
		regexp.MustCompile(`(?i)phone`),
		regexp.MustCompile(`(?i)mobile`),
		regexp.MustCompile(`(?i)^cell`),
		regexp.MustCompile(`(?i)^tel`),
		regexp.MustCompile(`(?i)whatsapp`),
		regexp.MustCompile(`(?i)contact[ _-]?(no|num|number)`),
	},
	FieldRoles: {
		regexp.MustCompile(`(?i)role`),
		regexp.MustCompile(`(?i)position`),
		regexp.MustCompile(`(?i)^job`),
		regexp.MustCompile(`(?i)skill`),
	},
	FieldDriver: {
		regexp.MustCompile(`(?i)driv(er|ing)`),
		regexp.MustCompile(`(?i)licen[cs]e`),
		regexp.MustCompile(`(?i)^car$`),
	},
	FieldDBS: {
		regexp.MustCompile(`(?i)\bdbs\b`),
		regexp.MustCompile(`(?i)background[ _-]?check`),
		regexp.MustCompile(`(?i)^crb`),
	},
	FieldTraining: {
		regexp.MustCompile(`(?i)train(ed|ing)`),
		regexp.MustCompile(`(?i)qualifi`),
		regexp.MustCompile(`(?i)certif`),
	},
}

// InferColumns scores every header/column against the eight target fields
// and returns one ColumnMapping per field, in priority order. Unmapped
// fields carry Column = -1. Deterministic for identical input; does not
// mutate the table.
func InferColumns(headers []string, rows [][]string) []ColumnMapping {
	claimed := make(map[int]bool, len(headers))
	mappings := make([]ColumnMapping, 0, len(fieldPriority))

	for _, field := range fieldPriority {
		best, bestScore := -1, 0
		for col := range headers {
			if claimed[col] {
				continue
			}
			score := scoreColumn(field, headers[col], sampleColumn(rows, col))
			if score > bestScore {
				best, bestScore = col, score
			}
		}

		m := ColumnMapping{
			Field:    field,
			Label:    fieldLabels[field],
			Column:   -1,
			Required: requiredFields[field],
		}
		if bestScore >= InferScoreThreshold {
			m.Column = best
			m.Confidence = bestScore
			if m.Confidence > 100 {
				m.Confidence = 100
			}
			claimed[best] = true
		}
		mappings = append(mappings, m)
	}

	return mappings
}

// scoreColumn computes a single field-vs-column score.
func scoreColumn(field Field, header string, samples []string) int {
	score := 0

	h := strings.TrimSpace(header)
	if headerMatches(field, h) {
		score += scoreHeaderMatch
	}

	switch field {
	case FieldPhone:
		if majorityMatch(samples, looksLikePhone) {
			score += scorePhoneSamples
		}
	case FieldName:
		// The sample bonus alone reaches the claim threshold, and name
		// scores before firstName/lastName in priority order. A column
		// whose header names one of those fields is theirs: name may
		// only claim it on a header match of its own.
		if score == 0 && (headerMatches(FieldFirstName, h) || headerMatches(FieldLastName, h)) {
			break
		}
		if majorityMatch(samples, looksLikeName) {
			score += scoreNameSamples
		}
	}

	return score
}

// headerMatches reports whether the header matches any of the field's
// header patterns.
func headerMatches(field Field, header string) bool {
	for _, pat := range headerPatterns[field] {
		if pat.MatchString(header) {
			return true
		}
	}
	return false
}

// sampleColumn collects the first InferSampleRows non-empty values of a column.
func sampleColumn(rows [][]string, col int) []string {
	samples := make([]string, 0, InferSampleRows)
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		samples = append(samples, v)
		if len(samples) >= InferSampleRows {
			break
		}
	}
	return samples
}

// majorityMatch reports whether more than half the samples satisfy pred.
// Empty samples never form a majority.
func majorityMatch(samples []string, pred func(string) bool) bool {
	if len(samples) == 0 {
		return false
	}
	hits := 0
	for _, s := range samples {
		if pred(s) {
			hits++
		}
	}
	return hits*2 > len(samples)
}

// looksLikePhone reports whether a value is phone-shaped: at least seven
// characters of digits, spaces, and common separators, or a scientific
// notation artifact.
func looksLikePhone(v string) bool {
	if scientificNotationRegex.MatchString(v) {
		return true
	}
	if len(v) < MinPhoneDigits {
		return false
	}
	digits := 0
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '+' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= MinPhoneDigits
}

// looksLikeName reports whether a value is a sequence of capitalized word
// tokens, like "Jane Doe".
func looksLikeName(v string) bool {
	words := strings.Fields(v)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		runes := []rune(w)
		if !unicode.IsUpper(runes[0]) {
			return false
		}
		for _, r := range runes[1:] {
			if !unicode.IsLetter(r) && r != '\'' && r != '-' {
				return false
			}
		}
	}
	return true
}
