package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS student_documents (
		id TEXT PRIMARY KEY,
		data JSONB NOT NULL DEFAULT '{}'::jsonb,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_student_documents_email ON student_documents ((lower(data->>'email')))`,
	`CREATE INDEX IF NOT EXISTS idx_student_documents_student_id ON student_documents ((data->>'studentId'))`,
	`CREATE TABLE IF NOT EXISTS programs (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS misc_fees (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		label TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		program_code TEXT NULL REFERENCES programs(code)
	)`,
}

// EnsureSchema creates the tables the service relies on when they are missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
