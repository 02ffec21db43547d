package roster

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHistory_RecordAndGet(t *testing.T) {
	h := NewHistoryService(setupTestDB(t))
	ctx := context.Background()

	run := &Run{ID: "run-1", Source: "a.csv", TotalRows: 2, Created: 1, Failed: 1, CreatedAt: time.Now().UTC()}
	items := []RunItem{
		{RowIndex: 1, Status: ItemFailed, Message: "first and last name are required"},
		{RowIndex: 0, PlayerName: "Jake Wilson", Action: "create_new", Status: ItemCreated, PlayerID: "p1"},
	}
	if err := h.Record(ctx, run, items); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := h.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Source != "a.csv" || got.Created != 1 || got.Failed != 1 || got.CreatedAt.IsZero() {
		t.Errorf("run = %+v", got)
	}

	gotItems, err := h.ListItems(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(gotItems) != 2 || gotItems[0].RowIndex != 0 || gotItems[0].PlayerID != "p1" || gotItems[0].ID == "" {
		t.Errorf("items = %+v", gotItems)
	}
}

func TestHistory_NotFound(t *testing.T) {
	h := NewHistoryService(setupTestDB(t))
	if _, err := h.GetRun(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestHistory_ListRunsNewestFirst(t *testing.T) {
	h := NewHistoryService(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := h.Record(ctx, &Run{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)}, nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	runs, err := h.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("runs = %+v", runs)
	}
}
