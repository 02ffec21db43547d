package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sydlexius/rosterimport/internal/event"
	"github.com/sydlexius/rosterimport/internal/player"
)

// Registry is the write side of the player registry used by the executor.
type Registry interface {
	Create(ctx context.Context, p *player.Player) error
	GetByID(ctx context.Context, id string) (*player.Player, error)
	Update(ctx context.Context, p *player.Player) error
}

// Snapshotter copies the registry before a run writes to it.
type Snapshotter interface {
	Snapshot(ctx context.Context, label string) (string, error)
}

// ImportResult summarizes an executed job. Created + Merged + Skipped +
// len(Errors) always equals the job's total rows.
type ImportResult struct {
	JobID   string     `json:"job_id"`
	Created int        `json:"created"`
	Merged  int        `json:"merged"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors"`
}

// Executor applies a reviewed plan to the registry.
type Executor struct {
	store    *JobStore
	registry Registry
	history  *HistoryService
	logger   *slog.Logger
	eventBus *event.Bus
	snapshot Snapshotter
}

// NewExecutor creates an Executor. history may be nil.
func NewExecutor(store *JobStore, registry Registry, history *HistoryService, logger *slog.Logger) *Executor {
	return &Executor{
		store:    store,
		registry: registry,
		history:  history,
		logger:   logger.With(slog.String("component", "import-executor")),
	}
}

// SetEventBus sets the event bus for publishing execution events.
func (e *Executor) SetEventBus(bus *event.Bus) {
	e.eventBus = bus
}

// SetSnapshotter makes every run snapshot the registry first. A failed
// snapshot is logged and the run proceeds.
func (e *Executor) SetSnapshotter(s Snapshotter) {
	e.snapshot = s
}

// Execute consumes the job and applies one action per row. Only an
// unknown, expired or already executed job fails the call; every other
// problem is reported per row in ImportResult.Errors.
func (e *Executor) Execute(ctx context.Context, jobID string, actions map[int]Action) (*ImportResult, error) {
	job, err := e.store.Consume(jobID)
	if err != nil {
		return nil, err
	}

	// The job is consumed; finish the batch even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if e.snapshot != nil && needsWrite(job, actions) {
		if name, err := e.snapshot.Snapshot(ctx, job.ID); err != nil {
			e.logger.Error("pre-import snapshot failed", "job_id", job.ID, "error", err)
		} else {
			e.logger.Debug("pre-import snapshot", "job_id", job.ID, "file", name)
		}
	}

	result := &ImportResult{JobID: job.ID, Errors: make([]RowError, 0)}
	items := make([]RunItem, 0, job.TotalRows())

	for _, pe := range job.Errors {
		result.Errors = append(result.Errors, RowError{
			RowIndex: pe.RowIndex,
			Message:  "parse error: " + pe.Message,
		})
		items = append(items, RunItem{
			RowIndex: pe.RowIndex,
			Status:   ItemFailed,
			Message:  pe.Message,
		})
	}

	candidates := job.candidates()
	for _, row := range job.Rows {
		cand := candidates[row.RowIndex]
		action := effectiveAction(row.RowIndex, cand, actions)
		item := RunItem{
			RowIndex:   row.RowIndex,
			PlayerName: row.DisplayName(),
			Action:     action.String(),
		}

		playerID, err := e.apply(ctx, row, cand, action)
		if err != nil {
			result.Errors = append(result.Errors, RowError{RowIndex: row.RowIndex, Message: err.Error()})
			item.Status = ItemFailed
			item.Message = err.Error()
			e.logger.Warn("import row failed",
				slog.String("job_id", job.ID),
				slog.Int("row_index", row.RowIndex),
				slog.String("action", action.String()),
				slog.String("error", err.Error()))
		} else {
			item.PlayerID = playerID
			switch action {
			case ActionCreateNew:
				result.Created++
				item.Status = ItemCreated
			case ActionMerge:
				result.Merged++
				item.Status = ItemMerged
			case ActionSkip:
				result.Skipped++
				item.Status = ItemSkipped
			}
		}
		items = append(items, item)
	}

	known := rowIndexSet(job)
	for i := range actions {
		if _, ok := known[i]; !ok {
			e.logger.Debug("ignoring resolution for unknown row", "job_id", job.ID, "row_index", i)
		}
	}

	e.logger.Info("import executed",
		slog.String("job_id", job.ID),
		slog.Int("created", result.Created),
		slog.Int("merged", result.Merged),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)),
	)

	if e.history != nil {
		run := &Run{
			ID:        job.ID,
			Source:    job.Source,
			TotalRows: job.TotalRows(),
			Created:   result.Created,
			Merged:    result.Merged,
			Skipped:   result.Skipped,
			Failed:    len(result.Errors),
			CreatedAt: time.Now().UTC(),
		}
		if err := e.history.Record(ctx, run, items); err != nil {
			e.logger.Error("recording import run", "job_id", job.ID, "error", err)
		}
	}

	e.eventBus.Publish(event.Event{
		Type: event.ImportExecuted,
		Data: map[string]any{
			"job_id":  job.ID,
			"source":  job.Source,
			"created": result.Created,
			"merged":  result.Merged,
			"skipped": result.Skipped,
			"errors":  len(result.Errors),
		},
	})

	return result, nil
}

// effectiveAction resolves the action for a row: the reviewer's choice,
// else create for rows without a candidate, else skip so that an
// unresolved duplicate is never merged or duplicated by accident.
func effectiveAction(rowIndex int, cand *DuplicateCandidate, actions map[int]Action) Action {
	if a, ok := actions[rowIndex]; ok {
		return a
	}
	if cand == nil {
		return ActionCreateNew
	}
	return ActionSkip
}

// apply performs one row's action and returns the affected player ID.
func (e *Executor) apply(ctx context.Context, row CanonicalRow, cand *DuplicateCandidate, action Action) (string, error) {
	switch action {
	case ActionSkip:
		if cand != nil {
			return cand.ExistingID, nil
		}
		return "", nil

	case ActionCreateNew:
		p := row.toPlayer()
		if err := e.registry.Create(ctx, p); err != nil {
			if errors.Is(err, player.ErrDuplicate) {
				return "", fmt.Errorf("create failed: %w", player.ErrDuplicate)
			}
			return "", fmt.Errorf("create failed: %w", err)
		}
		return p.ID, nil

	case ActionMerge:
		if cand == nil {
			return "", fmt.Errorf("merge requested but row has no duplicate candidate")
		}
		existing, err := e.registry.GetByID(ctx, cand.ExistingID)
		if err != nil {
			return "", fmt.Errorf("merge failed: loading %s: %w", cand.ExistingID, err)
		}
		if !mergeInto(existing, row) {
			return existing.ID, nil
		}
		if err := e.registry.Update(ctx, existing); err != nil {
			return "", fmt.Errorf("merge failed: %w", err)
		}
		return existing.ID, nil

	default:
		return "", fmt.Errorf("unhandled action %s", action)
	}
}

// mergeInto fills empty fields of existing from row and reports whether
// anything changed. Populated fields are never overwritten, and season
// totals are copied only when existing has no stat line at all.
func mergeInto(existing *player.Player, row CanonicalRow) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&existing.Position, row.Position)
	fill(&existing.DateOfBirth, row.DateOfBirth)
	fill(&existing.Team, row.Team)
	fill(&existing.League, row.League)

	if existing.Stats.IsEmpty() && !row.Stats.IsEmpty() {
		existing.Stats = row.Stats
		changed = true
	}
	return changed
}

// needsWrite reports whether any row would create or merge.
func needsWrite(job *Job, actions map[int]Action) bool {
	candidates := job.candidates()
	for _, row := range job.Rows {
		if effectiveAction(row.RowIndex, candidates[row.RowIndex], actions) != ActionSkip {
			return true
		}
	}
	return false
}

func rowIndexSet(job *Job) map[int]struct{} {
	set := make(map[int]struct{}, job.TotalRows())
	for _, r := range job.Rows {
		set[r.RowIndex] = struct{}{}
	}
	for _, pe := range job.Errors {
		set[pe.RowIndex] = struct{}{}
	}
	return set
}
