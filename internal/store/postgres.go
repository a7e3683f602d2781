// Package store implements the persistence collaborator for the import
// pipeline on PostgreSQL.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/staffbridge/staffbridge/internal/importer"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Postgres is the pgx-backed candidate store.
type Postgres struct {
	pool *pgxpool.Pool
}

// New creates a Postgres store over the given pool.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Rows with an unparseable phone keep an empty string; uniqueness only
// applies to real numbers, so those rows never collide with each other.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS candidates (
	id           UUID PRIMARY KEY,
	name         TEXT NOT NULL,
	phone        TEXT NOT NULL,
	roles        TEXT[] NOT NULL DEFAULT '{}',
	driver       TEXT NOT NULL DEFAULT 'Unknown',
	dbs          TEXT NOT NULL DEFAULT 'Unknown',
	training     TEXT NOT NULL DEFAULT 'Unknown',
	source_label TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'new',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS candidates_phone_key
	ON candidates (phone) WHERE phone <> ''`,
}

// Migrate creates the candidates table and indexes if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate candidates: %w", err)
		}
	}
	return nil
}

// FetchAllIdentities returns a snapshot of every known candidate identity,
// keyed downstream by canonical phone. Called once at session start.
func (p *Postgres) FetchAllIdentities(ctx context.Context) ([]importer.Identity, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, phone FROM candidates`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []importer.Identity
	for rows.Next() {
		var id pgtype.UUID
		var name, phone string
		if err := rows.Scan(&id, &name, &phone); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, importer.Identity{
			ID:    uuidString(id),
			Name:  name,
			Phone: phone,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return identities, nil
}

// BulkInsert persists one batch of records inside a single transaction and
// returns the number actually inserted. Rows colliding on phone are left
// alone rather than failing the batch, so the inserted count can be lower
// than the batch size.
func (p *Postgres) BulkInsert(ctx context.Context, records []importer.CandidateRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, rec := range records {
		tag, err := tx.Exec(ctx, `
			INSERT INTO candidates (id, name, phone, roles, driver, dbs, training, source_label, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (phone) WHERE phone <> '' DO NOTHING`,
			toUUID(rec.ID),
			rec.Name,
			rec.Phone,
			rec.Roles,
			string(rec.Driver),
			string(rec.DBS),
			string(rec.Training),
			rec.SourceLabel,
			rec.Status,
		)
		if err != nil {
			return 0, fmt.Errorf("insert candidate %s: %w", rec.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return inserted, nil
}

// toUUID converts a string ID to pgtype.UUID. Invalid IDs produce an
// invalid (NULL) value that the primary key constraint will reject.
func toUUID(s string) pgtype.UUID {
	var u pgtype.UUID
	if err := u.Scan(s); err != nil {
		return pgtype.UUID{}
	}
	return u
}

// uuidString renders a pgtype.UUID as its canonical string form.
func uuidString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x",
		u.Bytes[0:4], u.Bytes[4:6], u.Bytes[6:8], u.Bytes[8:10], u.Bytes[10:16])
}
