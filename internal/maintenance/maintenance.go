// Package maintenance keeps the registry database compact and its query
// planner statistics current.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sydlexius/rosterimport/internal/database"
)

// Status holds database maintenance status information.
type Status struct {
	DBFileSize     int64      `json:"db_file_size"`
	WALFileSize    int64      `json:"wal_file_size"`
	PageCount      int64      `json:"page_count"`
	PageSize       int64      `json:"page_size"`
	SchemaVersion  int64      `json:"schema_version"`
	PlayerCount    int64      `json:"player_count"`
	ImportRunCount int64      `json:"import_run_count"`
	LastOptimizeAt *time.Time `json:"last_optimize_at,omitempty"`
	Interval       string     `json:"optimize_interval,omitempty"`
}

// Service provides database maintenance operations.
type Service struct {
	db       *sql.DB
	dbPath   string
	interval time.Duration
	logger   *slog.Logger

	mu           sync.Mutex
	lastOptimize time.Time
}

// NewService creates a maintenance service. interval is reported by
// Status and used by StartScheduler; zero disables the schedule.
func NewService(db *sql.DB, dbPath string, interval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		dbPath:   dbPath,
		interval: interval,
		logger:   logger.With(slog.String("component", "maintenance")),
	}
}

// Status returns current database maintenance status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}
	v, err := database.Version(s.db)
	if err != nil {
		return nil, err
	}
	st.SchemaVersion = v
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM players").Scan(&st.PlayerCount); err != nil {
		return nil, fmt.Errorf("counting players: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM import_runs").Scan(&st.ImportRunCount); err != nil {
		return nil, fmt.Errorf("counting import runs: %w", err)
	}

	s.mu.Lock()
	if !s.lastOptimize.IsZero() {
		t := s.lastOptimize
		st.LastOptimizeAt = &t
	}
	s.mu.Unlock()

	if s.interval > 0 {
		st.Interval = s.interval.String()
	}
	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	start := time.Now()
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	s.mu.Lock()
	s.lastOptimize = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Info("optimize complete", slog.Duration("took", time.Since(start)))
	return nil
}

// StartScheduler runs Optimize every interval until ctx is canceled. It
// returns immediately when the interval is not positive.
func (s *Service) StartScheduler(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.logger.Info("maintenance scheduler started", slog.String("interval", s.interval.String()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Optimize(ctx); err != nil {
				s.logger.Error("scheduled optimize failed", slog.Any("error", err))
			}
		}
	}
}
