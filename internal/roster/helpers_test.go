package roster

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/rosterimport/internal/database"
	"github.com/sydlexius/rosterimport/internal/player"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intp(v int) *int { return &v }

func mustCreate(t *testing.T, svc *player.Service, p *player.Player) *player.Player {
	t.Helper()
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("creating player %s: %v", p.FullName(), err)
	}
	return p
}

// fakeClock is a settable time source for JobStore tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// staticSearcher returns a fixed candidate list regardless of keys.
type staticSearcher struct {
	players []player.Player
	err     error
}

func (s staticSearcher) Search(_ context.Context, _ player.BlockingKeys) ([]player.Player, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]player.Player, len(s.players))
	copy(out, s.players)
	return out, nil
}

// testFixture wires the full preview/execute pipeline over an in-memory DB.
type testFixture struct {
	db       *sql.DB
	players  *player.Service
	store    *JobStore
	preview  *Service
	executor *Executor
	history  *HistoryService
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	db := setupTestDB(t)
	players := player.NewService(db)
	store := NewJobStore(30*time.Minute, 0)
	history := NewHistoryService(db)
	matcher := NewMatcher(players, DefaultMatchConfig())
	return &testFixture{
		db:       db,
		players:  players,
		store:    store,
		preview:  NewService(matcher, store, 0, discardLogger()),
		executor: NewExecutor(store, players, history, discardLogger()),
		history:  history,
	}
}

// seedMcChesney stores the registry entry used by the end-to-end scenarios.
func (f *testFixture) seedMcChesney(t *testing.T) *player.Player {
	t.Helper()
	return mustCreate(t, f.players, &player.Player{
		FirstName: "Ewan",
		LastName:  "McChesney",
		Position:  "C",
		Team:      "Chatham Maroons",
		League:    "GOJHL",
	})
}

const threeRowRoster = "first_name,last_name,position,league,team\n" +
	"Ewan,McChesney,C,GOJHL,Chatham Maroons\n" +
	"Connor,Smith,D,GOJHL,Chatham Maroons\n" +
	"Jake,Wilson,LW,GOJHL,LaSalle Vipers\n"
