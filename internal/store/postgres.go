package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/signalsfoundry/railsection-simulator/model"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresCaseRepository stores cases in PostgreSQL as JSONB documents.
type PostgresCaseRepository struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresCaseRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresCaseRepository{pool: pool}, nil
}

// Close releases the pool.
func (r *PostgresCaseRepository) Close() error {
	r.pool.Close()
	return nil
}

// ListCases returns every stored case ordered by id.
func (r *PostgresCaseRepository) ListCases(ctx context.Context) ([]*model.Case, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, definition::text FROM cases ORDER BY id`)
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
func (r *PostgresCaseRepository) GetCase(ctx context.Context, id string) (*model.Case, error) {
	var def string
	err := r.pool.QueryRow(ctx, `SELECT definition::text FROM cases WHERE id = $1`, id).Scan(&def)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrCaseNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query case %q: %w", id, err)
	}
	return decode(id, []byte(def))
}

// PutCase inserts or replaces a case.
func (r *PostgresCaseRepository) PutCase(ctx context.Context, c *model.Case) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO cases (id, name, definition, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			definition = EXCLUDED.definition,
			updated_at = NOW()
	`, c.ID, c.Name, string(data))
	if err != nil {
		return fmt.Errorf("failed to store case %q: %w", c.ID, err)
	}
	return nil
}
