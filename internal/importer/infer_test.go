package importer

import "testing"

func findMapping(t *testing.T, mappings []ColumnMapping, field Field) ColumnMapping {
	t.Helper()
	for _, m := range mappings {
		if m.Field == field {
			return m
		}
	}
	t.Fatalf("no mapping for field %s", field)
	return ColumnMapping{}
}

func TestInferColumnsHeaders(t *testing.T) {
	headers := []string{"Name", "Mobile", "Roles", "Driver", "DBS", "Training"}
	rows := [][]string{
		{"Jane Doe", "+44 7700 900123", "Chef", "yes", "no", "yes"},
		{"John Smith", "07700900456", "Waiter", "no", "yes", ""},
	}

	mappings := InferColumns(headers, rows)

	wantColumns := map[Field]int{
		FieldName:     0,
		FieldPhone:    1,
		FieldRoles:    2,
		FieldDriver:   3,
		FieldDBS:      4,
		FieldTraining: 5,
	}
	for field, wantCol := range wantColumns {
		m := findMapping(t, mappings, field)
		if m.Column != wantCol {
			t.Errorf("field %s mapped to column %d, want %d", field, m.Column, wantCol)
		}
	}

	for _, f := range []Field{FieldFirstName, FieldLastName} {
		if m := findMapping(t, mappings, f); m.Mapped() {
			t.Errorf("field %s should be unmapped, got column %d", f, m.Column)
		}
	}
}

func TestInferColumnsExclusive(t *testing.T) {
	// Two name-ish headers: each column may be claimed by at most one field.
	headers := []string{"Name", "Contact Name", "Phone"}
	rows := [][]string{
		{"Jane Doe", "John Smith", "07700900456"},
	}

	mappings := InferColumns(headers, rows)

	claimed := make(map[int]Field)
	for _, m := range mappings {
		if !m.Mapped() {
			continue
		}
		if prev, ok := claimed[m.Column]; ok {
			t.Errorf("column %d claimed by both %s and %s", m.Column, prev, m.Field)
		}
		claimed[m.Column] = m.Field
	}
}

func TestInferColumnsFirstLastName(t *testing.T) {
	headers := []string{"First Name", "Last Name", "Tel"}
	rows := [][]string{
		{"Jane", "Doe", "07700900456"},
	}

	mappings := InferColumns(headers, rows)

	if m := findMapping(t, mappings, FieldFirstName); m.Column != 0 {
		t.Errorf("firstName mapped to %d, want 0", m.Column)
	}
	if m := findMapping(t, mappings, FieldLastName); m.Column != 1 {
		t.Errorf("lastName mapped to %d, want 1", m.Column)
	}
	if m := findMapping(t, mappings, FieldPhone); m.Column != 2 {
		t.Errorf("phone mapped to %d, want 2", m.Column)
	}

	// The name field scores earlier in priority order but must not take
	// a first/last-name column on the strength of its samples alone.
	if m := findMapping(t, mappings, FieldName); m.Mapped() {
		t.Errorf("name should be unmapped, got column %d", m.Column)
	}
}

func TestInferColumnsSamplesOnly(t *testing.T) {
	// Unrecognizable headers: phone and name should still be found from
	// value shape alone.
	headers := []string{"Col A", "Col B", "Col C"}
	rows := [][]string{
		{"Jane Doe", "+44 7700 900123", "blue"},
		{"John Smith", "07700900456", "red"},
		{"Amy Pond", "4.47777E+11", "green"},
	}

	mappings := InferColumns(headers, rows)

	if m := findMapping(t, mappings, FieldName); m.Column != 0 {
		t.Errorf("name mapped to %d, want 0", m.Column)
	}
	if m := findMapping(t, mappings, FieldPhone); m.Column != 1 {
		t.Errorf("phone mapped to %d, want 1", m.Column)
	}
}

func TestInferColumnsBelowThreshold(t *testing.T) {
	headers := []string{"Col A", "Col B"}
	rows := [][]string{
		{"lowercase text", "more text"},
		{"still lowercase", "other text"},
	}

	mappings := InferColumns(headers, rows)

	for _, m := range mappings {
		if m.Mapped() {
			t.Errorf("field %s should be unmapped for unscoreable columns, got column %d", m.Field, m.Column)
		}
	}
}

func TestInferColumnsDeterministic(t *testing.T) {
	headers := []string{"Name", "Phone", "Roles"}
	rows := [][]string{
		{"Jane Doe", "07700900456", "Chef"},
	}

	first := InferColumns(headers, rows)
	second := InferColumns(headers, rows)

	if len(first) != len(second) {
		t.Fatalf("mapping counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("mapping %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestLooksLikePhone(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"+44 7700 900123", true},
		{"07700900456", true},
		{"4.47777E+11", true},
		{"(212) 555-0100", true},
		{"Jane Doe", false},
		{"12345", false},
		{"blue", false},
	}

	for _, tt := range tests {
		if got := looksLikePhone(tt.input); got != tt.want {
			t.Errorf("looksLikePhone(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLooksLikeName(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"Jane Doe", true},
		{"Mary O'Brien", true},
		{"Jean-Luc Picard", true},
		{"jane doe", false},
		{"07700900456", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := looksLikeName(tt.input); got != tt.want {
			t.Errorf("looksLikeName(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
