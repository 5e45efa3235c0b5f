package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shardsafe/kanon-engine/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore persists completed anonymization runs. Persistence is
// optional — the coordinator degrades to in-memory-only operation when no
// DATABASE_URL is configured.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}
	log.Println("Successfully connected to PostgreSQL run store")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema migrations.
func (s *PostgresStore) InitSchema() error {
	if _, err := s.pool.Exec(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}
	log.Println("Anonymization run schema initialized")
	return nil
}

// SaveRun persists a run summary together with its anonymized result rows in
// one transaction. Rows are stored as JSON — the result is already
// generalized, so no cell-level queries are needed.
func (s *PostgresStore) SaveRun(ctx context.Context, run models.RunSummary, rows []models.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertRunSQL := `
		INSERT INTO anonymization_runs
		(id, dataset, k, num_parties, num_qids, rounds, row_count, k_anonymous, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err = tx.Exec(ctx, insertRunSQL, run.ID, run.Dataset, run.K, run.NumParties,
		run.NumQIDs, run.Rounds, run.RowCount, run.KAnonymous, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run summary: %v", err)
	}

	insertRowSQL := `
		INSERT INTO anonymized_rows (run_id, position, row)
		VALUES ($1, $2, $3);
	`
	for i, row := range rows {
		encoded, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode result row %d: %v", i, err)
		}
		if _, err := tx.Exec(ctx, insertRowSQL, run.ID, i, encoded); err != nil {
			return fmt.Errorf("failed to insert result row %d: %v", i, err)
		}
	}

	return tx.Commit(ctx)
}

// ListRuns returns run summaries, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, dataset, k, num_parties, num_qids, rounds, row_count, k_anonymous, started_at, finished_at
		FROM anonymization_runs
		ORDER BY finished_at DESC
		LIMIT $1;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.RunSummary
	for rows.Next() {
		var run models.RunSummary
		if err := rows.Scan(&run.ID, &run.Dataset, &run.K, &run.NumParties, &run.NumQIDs,
			&run.Rounds, &run.RowCount, &run.KAnonymous, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// GetRunRows returns the anonymized rows of one run in result order.
func (s *PostgresStore) GetRunRows(ctx context.Context, runID string) ([]models.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT row FROM anonymized_rows
		WHERE run_id = $1
		ORDER BY position;
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Row
	for rows.Next() {
		var encoded []byte
		if err := rows.Scan(&encoded); err != nil {
			return nil, err
		}
		var row models.Row
		if err := json.Unmarshal(encoded, &row); err != nil {
			return nil, fmt.Errorf("failed to decode stored row: %v", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
