package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/jan-enricher/internal/models"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("record not found")

const journalSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	strategy       TEXT NOT NULL,
	started_at     TEXT NOT NULL,
	finished_at    TEXT,
	rows_total     INTEGER NOT NULL DEFAULT 0,
	rows_resolved  INTEGER NOT NULL DEFAULT 0,
	rows_degraded  INTEGER NOT NULL DEFAULT 0,
	write_failures INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS records (
	run_id      TEXT NOT NULL,
	row_number  INTEGER NOT NULL,
	source_url  TEXT NOT NULL,
	jan         TEXT NOT NULL DEFAULT '',
	identifier  TEXT NOT NULL DEFAULT '',
	image_url   TEXT NOT NULL DEFAULT '',
	target_url  TEXT NOT NULL DEFAULT '',
	lookup_url  TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	PRIMARY KEY (run_id, row_number)
);
`

// Journal keeps a local SQLite copy of every run and row outcome. It is the
// recorder used when no Postgres URL is configured.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) StartRun(ctx context.Context, run *models.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, strategy, started_at) VALUES (?, ?, ?)`,
		run.ID.String(), run.Strategy, run.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Record stores rec, replacing any earlier outcome for the same row.
func (j *Journal) Record(ctx context.Context, run *models.Run, rec *models.CodeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO records (run_id, row_number, source_url, jan, identifier,
			image_url, target_url, lookup_url, stage, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, row_number) DO UPDATE SET
			source_url = excluded.source_url,
			jan = excluded.jan,
			identifier = excluded.identifier,
			image_url = excluded.image_url,
			target_url = excluded.target_url,
			lookup_url = excluded.lookup_url,
			stage = excluded.stage,
			error = excluded.error`,
		run.ID.String(), rec.Row, rec.SourceURL, rec.JAN, rec.Identifier,
		rec.ImageURL, rec.TargetURL, rec.LookupURL, string(rec.Stage), rec.Error,
		createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record row %d: %w", rec.Row, err)
	}
	return nil
}

func (j *Journal) FinishRun(ctx context.Context, run *models.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, rows_total = ?, rows_resolved = ?,
			rows_degraded = ?, write_failures = ?
		WHERE id = ?`,
		run.FinishedAt.UTC().Format(time.RFC3339Nano), run.Rows, run.Resolved,
		run.Degraded, run.WriteFails, run.ID.String())
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (j *Journal) get(ctx context.Context, runID uuid.UUID, row int) (*models.CodeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := &models.CodeRecord{RunID: runID}
	var stage, createdAt string
	err := j.db.QueryRowContext(ctx, `
		SELECT row_number, source_url, jan, identifier, image_url, target_url,
			lookup_url, stage, error, created_at
		FROM records WHERE run_id = ? AND row_number = ?`,
		runID.String(), row).Scan(&rec.Row, &rec.SourceURL, &rec.JAN, &rec.Identifier,
		&rec.ImageURL, &rec.TargetURL, &rec.LookupURL, &stage, &rec.Error, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("row %d: %w", row, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get row %d: %w", row, err)
	}

	rec.Stage = models.Stage(stage)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return rec, nil
}

// Stats counts a run's rows by stage.
func (j *Journal) Stats(ctx context.Context, runID uuid.UUID) (map[string]int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT stage, COUNT(*) FROM records WHERE run_id = ? GROUP BY stage`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	total := 0
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		stats[stage] = n
		total += n
	}
	stats["total"] = total
	return stats, rows.Err()
}
