package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/railsection-simulator/model"

	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteCaseRepository stores cases in a SQLite database.
type SQLiteCaseRepository struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema
// exists. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteCaseRepository, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps an in-memory database alive and serializes
	// writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteCaseRepository{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteCaseRepository) Close() error {
	return r.db.Close()
}

// ListCases returns every stored case ordered by id.
func (r *SQLiteCaseRepository) ListCases(ctx context.Context) ([]*model.Case, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, definition FROM cases ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}
	defer rows.Close()

	var cases []*model.Case
	for rows.Next() {
		var id, def string
		if err := rows.Scan(&id, &def); err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		c, err := decode(id, []byte(def))
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cases: %w", err)
	}
	return cases, nil
}

// GetCase returns one case.
func (r *SQLiteCaseRepository) GetCase(ctx context.Context, id string) (*model.Case, error) {
	var def string
	err := r.db.QueryRowContext(ctx, `SELECT definition FROM cases WHERE id = ?`, id).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrCaseNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query case %q: %w", id, err)
	}
	return decode(id, []byte(def))
}

// PutCase inserts or replaces a case.
func (r *SQLiteCaseRepository) PutCase(ctx context.Context, c *model.Case) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cases (id, name, definition, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, c.ID, c.Name, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store case %q: %w", c.ID, err)
	}
	return nil
}
