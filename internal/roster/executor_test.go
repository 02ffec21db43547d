package roster

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sydlexius/rosterimport/internal/event"
	"github.com/sydlexius/rosterimport/internal/player"
)

func previewJob(t *testing.T, f *testFixture, data string) *ImportPreview {
	t.Helper()
	p, err := f.preview.Preview(context.Background(), []byte(data), PreviewOptions{Source: "test.csv"})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	return p
}

func assertSum(t *testing.T, r *ImportResult, total int) {
	t.Helper()
	if got := r.Created + r.Merged + r.Skipped + len(r.Errors); got != total {
		t.Errorf("created+merged+skipped+errors = %d, want %d (%+v)", got, total, r)
	}
}

func TestExecute_SkipDuplicateCreatesRest(t *testing.T) {
	f := newFixture(t)
	f.seedMcChesney(t)
	p := previewJob(t, f, threeRowRoster)

	res, err := f.executor.Execute(context.Background(), p.JobID, map[int]Action{0: ActionSkip})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Created != 2 || res.Merged != 0 || res.Skipped != 1 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v, want created 2, skipped 1", res)
	}
	if res.JobID != p.JobID {
		t.Errorf("JobID = %q, want %q", res.JobID, p.JobID)
	}

	_, total, err := f.players.List(context.Background(), player.ListParams{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 {
		t.Errorf("registry has %d players, want 3", total)
	}

	if _, err := f.executor.Execute(context.Background(), p.JobID, map[int]Action{0: ActionSkip}); !errors.Is(err, ErrJobAlreadyExecuted) {
		t.Fatalf("second Execute = %v, want ErrJobAlreadyExecuted", err)
	}
	_, total, _ = f.players.List(context.Background(), player.ListParams{})
	if total != 3 {
		t.Errorf("second execute changed the registry: %d players", total)
	}
}

func TestExecute_UnknownJob(t *testing.T) {
	f := newFixture(t)
	if _, err := f.executor.Execute(context.Background(), "nope", nil); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Execute = %v, want ErrJobNotFound", err)
	}
}

func TestExecute_MergeIsNonDestructive(t *testing.T) {
	f := newFixture(t)
	existing := f.seedMcChesney(t)

	data := "first_name,last_name,position,league,team,dob,goals\n" +
		"Ewan,McChesney,C,GOJHL,London Knights,2004-03-11,21\n"
	p := previewJob(t, f, data)
	if len(p.Duplicates) != 1 || p.Duplicates[0].ExistingID != existing.ID {
		t.Fatalf("duplicates = %+v", p.Duplicates)
	}

	res, err := f.executor.Execute(context.Background(), p.JobID, map[int]Action{0: ActionMerge})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Merged != 1 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v, want merged 1", res)
	}

	got, err := f.players.GetByID(context.Background(), existing.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Team != "Chatham Maroons" {
		t.Errorf("Team = %q, populated field was overwritten", got.Team)
	}
	if got.DateOfBirth != "2004-03-11" {
		t.Errorf("DateOfBirth = %q, empty field was not filled", got.DateOfBirth)
	}
	if got.Stats.Goals == nil || *got.Stats.Goals != 21 {
		t.Errorf("Goals = %v, want 21", got.Stats.Goals)
	}
}

func TestExecute_DefaultActions(t *testing.T) {
	f := newFixture(t)
	f.seedMcChesney(t)
	p := previewJob(t, f, threeRowRoster)

	// Unresolved duplicates are skipped, unknown rows ignored.
	res, err := f.executor.Execute(context.Background(), p.JobID, map[int]Action{99: ActionCreateNew})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Created != 2 || res.Skipped != 1 {
		t.Errorf("result = %+v, want created 2, skipped 1", res)
	}
	assertSum(t, res, p.TotalRows)
}

func TestExecute_RowErrors(t *testing.T) {
	f := newFixture(t)
	f.seedMcChesney(t)
	data := threeRowRoster + "Bad,,D,GOJHL,Nowhere\n"
	p := previewJob(t, f, data)

	// Creating the exact duplicate violates registry identity; merging a
	// row that has no candidate is refused.
	res, err := f.executor.Execute(context.Background(), p.JobID, map[int]Action{
		0: ActionCreateNew,
		1: ActionMerge,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Created != 1 || len(res.Errors) != 3 {
		t.Fatalf("result = %+v, want created 1 and 3 errors", res)
	}
	assertSum(t, res, p.TotalRows)

	byRow := make(map[int]string)
	for _, e := range res.Errors {
		byRow[e.RowIndex] = e.Message
	}
	if !strings.Contains(byRow[0], "already exists") {
		t.Errorf("row 0 error = %q", byRow[0])
	}
	if !strings.Contains(byRow[1], "no duplicate candidate") {
		t.Errorf("row 1 error = %q", byRow[1])
	}
	if !strings.HasPrefix(byRow[3], "parse error:") {
		t.Errorf("row 3 error = %q", byRow[3])
	}
}

// conflictRegistry fails every update with an optimistic concurrency error.
type conflictRegistry struct {
	*player.Service
}

func (conflictRegistry) Update(context.Context, *player.Player) error {
	return player.ErrConflict
}

func TestExecute_MergeConflictIsRowError(t *testing.T) {
	f := newFixture(t)
	f.seedMcChesney(t)
	exec := NewExecutor(f.store, conflictRegistry{f.players}, nil, discardLogger())

	p := previewJob(t, f, "first,last,team,dob\nEwan,McChesney,Chatham Maroons,2004-03-11\n")
	res, err := exec.Execute(context.Background(), p.JobID, map[int]Action{0: ActionMerge})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0].Message, "merge failed") {
		t.Fatalf("errors = %+v", res.Errors)
	}
}

// recordingSnapshotter records snapshot labels and can be made to fail.
type recordingSnapshotter struct {
	labels []string
	err    error
}

func (r *recordingSnapshotter) Snapshot(_ context.Context, label string) (string, error) {
	r.labels = append(r.labels, label)
	if r.err != nil {
		return "", r.err
	}
	return "rosterimport-" + label + ".db", nil
}

func TestExecute_SnapshotsBeforeWriting(t *testing.T) {
	f := newFixture(t)
	snap := &recordingSnapshotter{}
	f.executor.SetSnapshotter(snap)

	p := previewJob(t, f, threeRowRoster)
	if _, err := f.executor.Execute(context.Background(), p.JobID, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(snap.labels) != 1 || snap.labels[0] != p.JobID {
		t.Errorf("snapshot labels = %v, want [%s]", snap.labels, p.JobID)
	}
}

func TestExecute_NoSnapshotWhenAllSkipped(t *testing.T) {
	f := newFixture(t)
	f.seedMcChesney(t)
	snap := &recordingSnapshotter{}
	f.executor.SetSnapshotter(snap)

	p := previewJob(t, f, "first,last,team\nEwan,McChesney,Chatham Maroons\n")
	if _, err := f.executor.Execute(context.Background(), p.JobID, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(snap.labels) != 0 {
		t.Errorf("snapshot taken for a skip-only run: %v", snap.labels)
	}
}

func TestExecute_SnapshotFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.executor.SetSnapshotter(&recordingSnapshotter{err: errors.New("disk full")})

	p := previewJob(t, f, threeRowRoster)
	res, err := f.executor.Execute(context.Background(), p.JobID, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Created != 3 {
		t.Errorf("result = %+v, want all rows created", res)
	}
}

func TestExecute_SurvivesCancelledContext(t *testing.T) {
	f := newFixture(t)
	p := previewJob(t, f, threeRowRoster)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.executor.Execute(ctx, p.JobID, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Created != 3 {
		t.Errorf("result = %+v, want all rows created", res)
	}
}

func TestExecute_RecordsHistoryAndPublishes(t *testing.T) {
	f := newFixture(t)
	f.seedMcChesney(t)

	bus := event.NewBus(discardLogger(), 8)
	got := make(chan event.Event, 1)
	bus.Subscribe(event.ImportExecuted, func(e event.Event) { got <- e })
	go bus.Start()
	defer bus.Stop()
	f.executor.SetEventBus(bus)

	p := previewJob(t, f, threeRowRoster)
	if _, err := f.executor.Execute(context.Background(), p.JobID, map[int]Action{0: ActionSkip}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	run, err := f.history.GetRun(context.Background(), p.JobID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.TotalRows != 3 || run.Created != 2 || run.Skipped != 1 || run.Source != "test.csv" {
		t.Errorf("run = %+v", run)
	}
	items, err := f.history.ListItems(context.Background(), p.JobID)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 3 || items[0].Status != ItemSkipped || items[1].Status != ItemCreated {
		t.Errorf("items = %+v", items)
	}

	select {
	case e := <-got:
		if e.Data["created"] != 2 {
			t.Errorf("event created = %v, want 2", e.Data["created"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ImportExecuted event")
	}
}

func TestMergeInto(t *testing.T) {
	existing := &player.Player{FirstName: "Ewan", LastName: "McChesney", Team: "Chatham Maroons", Stats: player.SeasonStats{Goals: intp(3)}}
	row := CanonicalRow{Team: "London", League: "GOJHL", Stats: player.SeasonStats{Goals: intp(21), Assists: intp(9)}}

	if !mergeInto(existing, row) {
		t.Fatal("expected a change")
	}
	if existing.Team != "Chatham Maroons" || existing.League != "GOJHL" {
		t.Errorf("merged = %+v", existing)
	}
	if *existing.Stats.Goals != 3 || existing.Stats.Assists != nil {
		t.Errorf("stats overwritten: %+v", existing.Stats)
	}

	if mergeInto(existing, CanonicalRow{Team: "Other"}) {
		t.Error("no empty field to fill, expected no change")
	}
}
