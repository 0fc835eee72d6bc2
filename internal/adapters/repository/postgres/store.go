// Package postgres provides a PostgreSQL-backed run state store for
// deployments where runs must survive process restarts across hosts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
	"github.com/pvandervelde/cog-works-sub002/internal/core/runstate"
	"github.com/pvandervelde/cog-works-sub002/pkg/serialization"
)

// Store implements usecases.StateStore over a pgx connection pool. The state
// blob is opaque serializer output; the indexed columns exist so operators
// can query run status without decoding it.
type Store struct {
	pool       *pgxpool.Pool
	serializer *serialization.Serializer
	tableName  string
}

// NewStore creates a PostgreSQL state store. A nil serializer selects the
// production default.
func NewStore(pool *pgxpool.Pool, serializer *serialization.Serializer) *Store {
	if serializer == nil {
		serializer = serialization.DefaultSerializer()
	}
	return &Store{
		pool:       pool,
		serializer: serializer,
		tableName:  "pipeline_runs",
	}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id     TEXT PRIMARY KEY,
			pipeline   TEXT NOT NULL,
			status     TEXT NOT NULL,
			version    BIGINT NOT NULL,
			state      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`, s.tableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure run table: %w", err)
	}
	return nil
}

// WriteState persists one run state snapshot. Stale writers lose: a version
// that does not advance past the stored one is rejected as corruption
// rather than silently overwriting newer state.
func (s *Store) WriteState(ctx context.Context, runID string, state *runstate.RunState) error {
	data, err := s.serializer.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize run state: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, pipeline, status, version, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			status     = EXCLUDED.status,
			version    = EXCLUDED.version,
			state      = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
		WHERE %s.version <= EXCLUDED.version
	`, s.tableName, s.tableName)

	tag, err := s.pool.Exec(ctx, query,
		runID, state.Pipeline, string(state.Status), state.Version, data, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: stale write at version %d: %w", runID, state.Version, pipeline.ErrStateCorrupted)
	}
	return nil
}

// ReadState loads the last persisted snapshot for a run.
func (s *Store) ReadState(ctx context.Context, runID string) (*runstate.RunState, error) {
	query := fmt.Sprintf(`SELECT state FROM %s WHERE run_id = $1`, s.tableName)

	var data []byte
	err := s.pool.QueryRow(ctx, query, runID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, pipeline.ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}

	var state runstate.RunState
	if err := s.serializer.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("run %s: %w: %v", runID, pipeline.ErrStateCorrupted, err)
	}
	return &state, nil
}

// Delete removes a run's record, archiving a terminal run.
func (s *Store) Delete(ctx context.Context, runID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, s.tableName)
	if _, err := s.pool.Exec(ctx, query, runID); err != nil {
		return fmt.Errorf("failed to delete run state: %w", err)
	}
	return nil
}

// RunSummary is one row of ListRuns output.
type RunSummary struct {
	RunID     string
	Pipeline  string
	Status    string
	Version   int
	UpdatedAt time.Time
}

// ListRuns returns stored run summaries, optionally filtered by status.
func (s *Store) ListRuns(ctx context.Context, status string) ([]RunSummary, error) {
	query := fmt.Sprintf(`
		SELECT run_id, pipeline, status, version, updated_at
		FROM %s
	`, s.tableName)
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Pipeline, &r.Status, &r.Version, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
