package roster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/rosterimport/internal/event"
)

// DefaultSampleSize is how many canonical rows a preview shows.
const DefaultSampleSize = 10

// ImportPreview is the reviewable summary of an upload. It is created
// once per job and never modified; Get returns copies with a refreshed
// ExpiresAt.
type ImportPreview struct {
	JobID      string               `json:"job_id"`
	Source     string               `json:"source,omitempty"`
	TotalRows  int                  `json:"total_rows"`
	NewPlayers int                  `json:"new_players"`
	Duplicates []DuplicateCandidate `json:"duplicates"`
	Errors     []ParseError         `json:"errors"`
	Preview    []CanonicalRow       `json:"preview"`
	ExpiresAt  time.Time            `json:"expires_at"`
}

// PreviewOptions describes an upload.
type PreviewOptions struct {
	Format Format
	// Source is a display label such as the uploaded file name.
	Source string
}

// Service assembles previews and keeps them as pending jobs.
type Service struct {
	matcher    *Matcher
	store      *JobStore
	sampleSize int
	logger     *slog.Logger
	eventBus   *event.Bus
}

// NewService creates a preview service. sampleSize <= 0 uses DefaultSampleSize.
func NewService(matcher *Matcher, store *JobStore, sampleSize int, logger *slog.Logger) *Service {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Service{
		matcher:    matcher,
		store:      store,
		sampleSize: sampleSize,
		logger:     logger.With(slog.String("component", "import-preview")),
	}
}

// SetEventBus sets the event bus for publishing preview events.
func (s *Service) SetEventBus(bus *event.Bus) {
	s.eventBus = bus
}

// Preview normalizes and matches an upload, stores it as a new job and
// returns the preview. Every call allocates a fresh job ID.
func (s *Service) Preview(ctx context.Context, data []byte, opts PreviewOptions) (*ImportPreview, error) {
	rows, parseErrs, err := Normalize(data, opts.Format)
	if err != nil {
		return nil, fmt.Errorf("parsing upload: %w", err)
	}

	matches, err := s.matcher.MatchAll(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("matching rows: %w", err)
	}

	duplicates := make([]DuplicateCandidate, 0)
	for _, c := range matches {
		if c != nil {
			duplicates = append(duplicates, *c)
		}
	}
	if parseErrs == nil {
		parseErrs = make([]ParseError, 0)
	}

	sample := rows
	if len(sample) > s.sampleSize {
		sample = sample[:s.sampleSize]
	}
	sample = append(make([]CanonicalRow, 0, len(sample)), sample...)

	job := &Job{
		ID:         uuid.New().String(),
		Source:     opts.Source,
		Rows:       rows,
		Errors:     parseErrs,
		Duplicates: duplicates,
		CreatedAt:  time.Now().UTC(),
	}
	preview := &ImportPreview{
		JobID:      job.ID,
		Source:     opts.Source,
		TotalRows:  job.TotalRows(),
		NewPlayers: len(rows) - len(duplicates),
		Duplicates: duplicates,
		Errors:     parseErrs,
		Preview:    sample,
	}
	job.Preview = preview

	expiresAt, err := s.store.Put(job)
	if err != nil {
		return nil, fmt.Errorf("storing import job: %w", err)
	}

	s.logger.Info("import previewed",
		slog.String("job_id", job.ID),
		slog.String("source", opts.Source),
		slog.Int("total_rows", preview.TotalRows),
		slog.Int("new_players", preview.NewPlayers),
		slog.Int("duplicates", len(duplicates)),
		slog.Int("errors", len(parseErrs)),
	)
	s.eventBus.Publish(event.Event{
		Type: event.ImportPreviewed,
		Data: map[string]any{
			"job_id":     job.ID,
			"source":     job.Source,
			"total_rows": preview.TotalRows,
			"duplicates": len(duplicates),
		},
	})

	out := *preview
	out.ExpiresAt = expiresAt
	return &out, nil
}

// Get returns the preview of a pending job and extends its expiry.
func (s *Service) Get(jobID string) (*ImportPreview, error) {
	job, expiresAt, err := s.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	out := *job.Preview
	out.ExpiresAt = expiresAt
	return &out, nil
}
