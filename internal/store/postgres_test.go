package store

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/staffbridge/staffbridge/internal/importer"
)

func TestUUIDRoundTrip(t *testing.T) {
	tests := []string{
		"9566c74d-1003-4c4d-bbbb-0407d1e2c649",
		"00000000-0000-0000-0000-000000000000",
		"ffffffff-ffff-ffff-ffff-ffffffffffff",
	}

	for _, want := range tests {
		u := toUUID(want)
		if !u.Valid {
			t.Errorf("toUUID(%q) not valid", want)
			continue
		}
		if got := uuidString(u); got != want {
			t.Errorf("round trip %q -> %q", want, got)
		}
	}
}

func TestToUUIDInvalid(t *testing.T) {
	for _, s := range []string{"", "not-a-uuid", "12345"} {
		if u := toUUID(s); u.Valid {
			t.Errorf("toUUID(%q) should be invalid", s)
		}
	}
}

func TestUUIDStringInvalid(t *testing.T) {
	var u = toUUID("garbage")
	if got := uuidString(u); got != "" {
		t.Errorf("uuidString of invalid UUID = %q, want empty", got)
	}
}

// TestBulkInsertEmptyPhones verifies that multiple records with an
// unparseable (empty) phone all persist: phone uniqueness only applies
// to non-empty values. Requires a live database; set TEST_DATABASE_URL
// to run.
func TestBulkInsertEmptyPhones(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ids := []string{
		"7c9e6679-7425-40de-944b-e07fc1f90ae1",
		"7c9e6679-7425-40de-944b-e07fc1f90ae2",
	}
	defer pool.Exec(ctx, `DELETE FROM candidates WHERE id = ANY($1::uuid[])`, ids)

	records := []importer.CandidateRecord{
		{ID: ids[0], Name: "First Nophone", Phone: "", Roles: []string{}, Driver: importer.TriUnknown, DBS: importer.TriUnknown, Training: importer.TriUnknown, Status: importer.InitialCandidateStatus},
		{ID: ids[1], Name: "Second Nophone", Phone: "", Roles: []string{}, Driver: importer.TriUnknown, DBS: importer.TriUnknown, Training: importer.TriUnknown, Status: importer.InitialCandidateStatus},
	}

	inserted, err := s.BulkInsert(ctx, records)
	if err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2; empty phones must not collide", inserted)
	}
}
