package backup

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE players (id TEXT PRIMARY KEY, last_name TEXT)"); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO players VALUES ('p1', 'McChesney')"); err != nil {
		t.Fatalf("inserting row: %v", err)
	}
	return db
}

func newTestService(t *testing.T, retention int) (*Service, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "backups")
	svc := NewService(setupTestDB(t), dir, retention, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, dir
}

func TestSnapshot(t *testing.T) {
	svc, dir := newTestService(t, 5)

	name, err := svc.Snapshot(context.Background(), "0b4f4c1e-job")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if name != "rosterimport-20260110-120001.000-0b4f4c1e-job.db" {
		t.Errorf("name = %q", name)
	}

	snap, err := sql.Open("sqlite", filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer snap.Close()

	var last string
	if err := snap.QueryRowContext(context.Background(), "SELECT last_name FROM players WHERE id = 'p1'").Scan(&last); err != nil {
		t.Fatalf("querying snapshot: %v", err)
	}
	if last != "McChesney" {
		t.Errorf("last_name = %q", last)
	}
}

func TestSnapshot_SanitizesLabel(t *testing.T) {
	svc, dir := newTestService(t, 5)

	name, err := svc.Snapshot(context.Background(), "../../etc/passwd")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if filepath.Dir(filepath.Join(dir, name)) != dir {
		t.Errorf("snapshot %q escaped %s", name, dir)
	}
	if !strings.HasSuffix(name, "-etcpasswd.db") {
		t.Errorf("name = %q", name)
	}
}

func TestList_NewestFirst(t *testing.T) {
	svc, dir := newTestService(t, 10)

	for range 3 {
		if _, err := svc.Snapshot(context.Background(), ""); err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
	}
	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	list, err := svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if !list[i-1].CreatedAt.After(list[i].CreatedAt) {
			t.Errorf("list not newest first: %v before %v", list[i-1].CreatedAt, list[i].CreatedAt)
		}
	}
	if list[0].Size == 0 {
		t.Error("expected non-zero size")
	}
}

func TestList_MissingDir(t *testing.T) {
	svc, _ := newTestService(t, 3)
	list, err := svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("len = %d, want 0", len(list))
	}
}

func TestSnapshot_PrunesBeyondRetention(t *testing.T) {
	svc, _ := newTestService(t, 2)

	var names []string
	for range 4 {
		name, err := svc.Snapshot(context.Background(), "")
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		names = append(names, name)
	}

	list, err := svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Filename != names[3] || list[1].Filename != names[2] {
		t.Errorf("kept %s, %s; want the two newest", list[0].Filename, list[1].Filename)
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc-123", "abc-123"},
		{"a b/c.d", "abcd"},
		{strings.Repeat("x", 50), strings.Repeat("x", 36)},
	}
	for _, tt := range tests {
		if got := sanitizeLabel(tt.in); got != tt.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
