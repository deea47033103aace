package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/jan-enricher/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

// LookupRepository persists runs and their per-row code records.
type LookupRepository struct {
	db *DB
}

func NewLookupRepository(db *DB) *LookupRepository {
	return &LookupRepository{db: db}
}

func (r *LookupRepository) InsertRunWithTx(ctx context.Context, tx pgx.Tx, run *models.Run) error {
	query := `
		INSERT INTO lookup_run (id, strategy, started_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`

	if _, err := tx.Exec(ctx, query, run.ID, run.Strategy, run.StartedAt); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (r *LookupRepository) FinishRunWithTx(ctx context.Context, tx pgx.Tx, run *models.Run) error {
	query := `
		UPDATE lookup_run
		SET finished_at = $1, rows_total = $2, rows_resolved = $3,
			rows_degraded = $4, write_failures = $5
		WHERE id = $6`

	tag, err := tx.Exec(ctx, query,
		run.FinishedAt, run.Rows, run.Resolved, run.Degraded, run.WriteFails, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// UpsertWithTx stores the record for a row. A row processed twice in the
// same run keeps the latest outcome.
func (r *LookupRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, rec *models.CodeRecord) error {
	query := `
		INSERT INTO jan_lookup (
			run_id, row_number, source_url, jan, identifier,
			image_url, target_url, lookup_url, stage, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, row_number) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			jan = EXCLUDED.jan,
			identifier = EXCLUDED.identifier,
			image_url = EXCLUDED.image_url,
			target_url = EXCLUDED.target_url,
			lookup_url = EXCLUDED.lookup_url,
			stage = EXCLUDED.stage,
			error = EXCLUDED.error`

	_, err := tx.Exec(ctx, query,
		rec.RunID, rec.Row, rec.SourceURL, rec.JAN, rec.Identifier,
		rec.ImageURL, rec.TargetURL, rec.LookupURL, string(rec.Stage), rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert lookup for row %d: %w", rec.Row, err)
	}
	return nil
}

// listByRun returns the records of a run ordered by row.
func (r *LookupRepository) listByRun(ctx context.Context, runID uuid.UUID) ([]*models.CodeRecord, error) {
	query := `
		SELECT run_id, row_number, source_url, jan, identifier,
			image_url, target_url, lookup_url, stage, error, created_at
		FROM jan_lookup
		WHERE run_id = $1
		ORDER BY row_number ASC`

	rows, err := r.db.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lookups: %w", err)
	}
	defer rows.Close()

	var records []*models.CodeRecord
	for rows.Next() {
		rec := &models.CodeRecord{}
		var stage string
		if err := rows.Scan(
			&rec.RunID, &rec.Row, &rec.SourceURL, &rec.JAN, &rec.Identifier,
			&rec.ImageURL, &rec.TargetURL, &rec.LookupURL, &stage, &rec.Error, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lookup: %w", err)
		}
		rec.Stage = models.Stage(stage)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}
