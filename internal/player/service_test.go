package player

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/sydlexius/rosterimport/internal/database"
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

func intp(n int) *int { return &n }

func testPlayer(first, last, team string) *Player {
	return &Player{
		FirstName: first,
		LastName:  last,
		Position:  "C",
		Team:      team,
		League:    "GOJHL",
	}
}

func TestCreateAndGetByID(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	p := testPlayer("Ewan", "McChesney", "Chatham Maroons")
	p.DateOfBirth = "2004-03-11"
	p.Stats.Goals = intp(12)

	if err := svc.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected ID to be set after Create")
	}

	got, err := svc.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.FullName() != "Ewan McChesney" {
		t.Errorf("FullName = %q, want %q", got.FullName(), "Ewan McChesney")
	}
	if got.Team != "Chatham Maroons" {
		t.Errorf("Team = %q, want %q", got.Team, "Chatham Maroons")
	}
	if got.Stats.Goals == nil || *got.Stats.Goals != 12 {
		t.Errorf("Goals = %v, want 12", got.Stats.Goals)
	}
	if got.Stats.Assists != nil {
		t.Errorf("Assists = %v, want nil", *got.Stats.Assists)
	}
	if !got.UpdatedAt.Equal(p.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, p.UpdatedAt)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	_, err := svc.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreate_DuplicateIdentity(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	if err := svc.Create(ctx, testPlayer("Connor", "Smith", "Sarnia Legionnaires")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := svc.Create(ctx, testPlayer("connor", "SMITH", "sarnia legionnaires"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestUpdate_OptimisticConflict(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	p := testPlayer("Jake", "Wilson", "LaSalle Vipers")
	if err := svc.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := svc.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	second, err := svc.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	first.Position = "LW"
	if err := svc.Update(ctx, first); err != nil {
		t.Fatalf("Update: %v", err)
	}

	second.Position = "RW"
	if err := svc.Update(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale Update err = %v, want ErrConflict", err)
	}

	got, err := svc.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Position != "LW" {
		t.Errorf("Position = %q, want LW", got.Position)
	}

	// A second update from the fresh copy succeeds.
	first.DateOfBirth = "2005-01-01"
	if err := svc.Update(ctx, first); err != nil {
		t.Fatalf("Update with refreshed version: %v", err)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	err := svc.Update(context.Background(), testPlayer("No", "One", ""))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSearch_Blocking(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	for _, p := range []*Player{
		testPlayer("Ewan", "McChesney", "Chatham Maroons"),
		testPlayer("Evan", "Mc Chesney", "Leamington Flyers"),
		testPlayer("Liam", "Brown", "Chatham Maroons"),
		testPlayer("Noah", "Green", "St. Thomas Stars"),
	} {
		if err := svc.Create(ctx, p); err != nil {
			t.Fatalf("Create %s: %v", p.FullName(), err)
		}
	}

	tests := []struct {
		name string
		keys BlockingKeys
		want int
	}{
		{"last name only", BlockingKeys{LastNameKey: NameKey("McChesney")}, 2},
		{"team only", BlockingKeys{Team: "chatham maroons"}, 2},
		{"last name or team", BlockingKeys{LastNameKey: "mcchesney", Team: "St. Thomas Stars"}, 3},
		{"nothing", BlockingKeys{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Search(ctx, tt.keys)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d players, want %d", len(got), tt.want)
			}
		})
	}
}

func TestList_Pagination(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	for _, last := range []string{"Adams", "Baker", "Clark"} {
		if err := svc.Create(ctx, testPlayer("Sam", last, "Team")); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	page, total, err := svc.List(ctx, ListParams{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(page) != 2 || page[0].LastName != "Adams" {
		t.Errorf("page = %+v, want Adams first of 2", page)
	}

	filtered, total, err := svc.List(ctx, ListParams{Search: "clark"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(filtered) != 1 {
		t.Errorf("filtered total = %d len = %d, want 1", total, len(filtered))
	}
}

func TestNameKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"McChesney", "mcchesney"},
		{"  Mc Chesney ", "mcchesney"},
		{"Zoë O'Neil-Smith", "zoeoneilsmith"},
		{"Šimon", "simon"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NameKey(tt.in); got != tt.want {
			t.Errorf("NameKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
