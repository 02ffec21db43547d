package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run item statuses.
const (
	ItemCreated = "created"
	ItemMerged  = "merged"
	ItemSkipped = "skipped"
	ItemFailed  = "failed"
)

// Run is the durable record of an executed import job. Its ID is the job ID.
type Run struct {
	ID        string    `json:"id"`
	Source    string    `json:"source,omitempty"`
	TotalRows int       `json:"total_rows"`
	Created   int       `json:"created"`
	Merged    int       `json:"merged"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	CreatedAt time.Time `json:"created_at"`
}

// RunItem is the outcome of one row within a run.
type RunItem struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	RowIndex   int    `json:"row_index"`
	PlayerName string `json:"player_name,omitempty"`
	Action     string `json:"action,omitempty"`
	Status     string `json:"status"`
	PlayerID   string `json:"player_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// HistoryService persists executed import runs.
type HistoryService struct {
	db *sql.DB
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

// Record stores a run and its items in one transaction.
func (s *HistoryService) Record(ctx context.Context, run *Run, items []RunItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_runs (id, source, total_rows, created, merged, skipped, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, run.TotalRows, run.Created, run.Merged, run.Skipped, run.Failed,
		run.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting import run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO import_run_items (id, run_id, row_index, player_name, action, status, player_id, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing item insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for i := range items {
		item := &items[i]
		item.ID = uuid.New().String()
		item.RunID = run.ID
		if _, err := stmt.ExecContext(ctx, item.ID, item.RunID, item.RowIndex, item.PlayerName,
			item.Action, item.Status, item.PlayerID, item.Message); err != nil {
			return fmt.Errorf("inserting import run item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import run: %w", err)
	}
	return nil
}

// GetRun retrieves an import run by ID.
func (s *HistoryService) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, total_rows, created, merged, skipped, failed, created_at
		FROM import_runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting import run: %w", err)
	}
	return run, nil
}

// ListRuns returns recent runs, newest first.
func (s *HistoryService) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, total_rows, created, merged, skipped, failed, created_at
		FROM import_runs ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing import runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning import run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListItems returns the row outcomes of a run in row order.
func (s *HistoryService) ListItems(ctx context.Context, runID string) ([]RunItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, row_index, player_name, action, status, player_id, message
		FROM import_run_items WHERE run_id = ? ORDER BY row_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing import run items: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	items := make([]RunItem, 0)
	for rows.Next() {
		var item RunItem
		if err := rows.Scan(&item.ID, &item.RunID, &item.RowIndex, &item.PlayerName,
			&item.Action, &item.Status, &item.PlayerID, &item.Message); err != nil {
			return nil, fmt.Errorf("scanning import run item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var createdAt string
	if err := row.Scan(&run.ID, &run.Source, &run.TotalRows, &run.Created, &run.Merged,
		&run.Skipped, &run.Failed, &createdAt); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		run.CreatedAt = t
	}
	return &run, nil
}
