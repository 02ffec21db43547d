// Package backup snapshots the registry database before an import run
// mutates it, and prunes old snapshots.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix  = "rosterimport-"
	stampLayout = "20060102-150405.000"
	defaultKeep = 10
	dirPerm     = 0o750
	maxLabelLen = 36
)

// snapshotPattern matches rosterimport-YYYYMMDD-HHMMSS.mmm[-label].db.
var snapshotPattern = regexp.MustCompile(`^rosterimport-\d{8}-\d{6}\.\d{3}(-[A-Za-z0-9-]{1,36})?\.db$`)

// Info describes a snapshot file.
type Info struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Service writes database snapshots with VACUUM INTO.
type Service struct {
	db        *sql.DB
	dir       string
	retention int
	mu        sync.Mutex
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a snapshot service writing into dir and keeping at
// most retention files (<= 0 keeps the default of 10).
func NewService(db *sql.DB, dir string, retention int, logger *slog.Logger) *Service {
	if retention <= 0 {
		retention = defaultKeep
	}
	return &Service{
		db:        db,
		dir:       dir,
		retention: retention,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "backup")),
	}
}

// Snapshot copies the database to a new file, prunes old snapshots and
// returns the new file name. label, typically an import job ID, is
// appended to the name.
func (s *Service) Snapshot(ctx context.Context, label string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	now := s.now().UTC()
	name := filePrefix + now.Format(stampLayout)
	if label = sanitizeLabel(label); label != "" {
		name += "-" + label
	}
	name += ".db"
	dest := filepath.Join(s.dir, name)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return "", fmt.Errorf("VACUUM INTO: %w", err)
	}
	fi, err := os.Stat(dest)
	if err != nil {
		return "", fmt.Errorf("stat backup file: %w", err)
	}
	s.logger.Info("snapshot written", slog.String("filename", name), slog.Int64("size", fi.Size()))

	s.pruneLocked()
	return name, nil
}

// List returns snapshots, newest first.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() || !snapshotPattern.MatchString(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimPrefix(entry.Name(), filePrefix)[:len(stampLayout)]
		ts, err := time.Parse(stampLayout, stamp)
		if err != nil {
			ts = fi.ModTime()
		}
		out = append(out, Info{Filename: entry.Name(), Size: fi.Size(), CreatedAt: ts})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Filename > out[j].Filename
	})
	return out, nil
}

func (s *Service) pruneLocked() {
	snaps, err := s.List()
	if err != nil {
		s.logger.Warn("listing snapshots for prune", "error", err)
		return
	}
	if len(snaps) <= s.retention {
		return
	}
	for _, b := range snaps[s.retention:] {
		if err := os.Remove(filepath.Join(s.dir, b.Filename)); err != nil {
			s.logger.Warn("removing old snapshot", slog.String("filename", b.Filename), "error", err)
			continue
		}
		s.logger.Debug("pruned snapshot", slog.String("filename", b.Filename))
	}
}

// sanitizeLabel keeps letters, digits and dashes so a label can never
// escape the backup directory.
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, r := range label {
		if r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == maxLabelLen {
			break
		}
	}
	return b.String()
}
