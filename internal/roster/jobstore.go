package roster

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sydlexius/rosterimport/internal/event"
)

// Job is the single-use unit of work between preview and execute.
type Job struct {
	ID         string
	Source     string
	Rows       []CanonicalRow
	Errors     []ParseError
	Duplicates []DuplicateCandidate
	Preview    *ImportPreview
	CreatedAt  time.Time
}

// TotalRows counts every data row of the upload, including unparseable ones.
func (j *Job) TotalRows() int {
	return len(j.Rows) + len(j.Errors)
}

// candidates indexes the job's duplicates by row.
func (j *Job) candidates() map[int]*DuplicateCandidate {
	m := make(map[int]*DuplicateCandidate, len(j.Duplicates))
	for i := range j.Duplicates {
		m[j.Duplicates[i].RowIndex] = &j.Duplicates[i]
	}
	return m
}

type jobEntry struct {
	job       *Job
	expiresAt time.Time
}

// JobStore keeps pending jobs in memory with an inactivity TTL. All
// operations hold one mutex, so Consume is a single check-and-remove and
// two concurrent executes of the same job cannot both succeed.
type JobStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxPending int
	jobs       map[string]*jobEntry
	consumed   map[string]time.Time // job ID -> tombstone expiry
	now        func() time.Time
	eventBus   *event.Bus
}

// NewJobStore creates a store. maxPending <= 0 means unlimited.
func NewJobStore(ttl time.Duration, maxPending int) *JobStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &JobStore{
		ttl:        ttl,
		maxPending: maxPending,
		jobs:       make(map[string]*jobEntry),
		consumed:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetEventBus sets the bus that receives one import.expired event per
// job that times out, whichever path notices the expiry first.
func (s *JobStore) SetEventBus(bus *event.Bus) {
	s.eventBus = bus
}

// TTL returns the inactivity timeout.
func (s *JobStore) TTL() time.Duration {
	return s.ttl
}

// Put stores a new job and returns its expiry.
func (s *JobStore) Put(job *Job) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, exists := s.jobs[job.ID]; exists {
		return time.Time{}, fmt.Errorf("job %s already stored", job.ID)
	}
	if s.maxPending > 0 && len(s.jobs) >= s.maxPending {
		s.publishExpired(s.sweepLocked(now))
		if len(s.jobs) >= s.maxPending {
			return time.Time{}, ErrStoreFull
		}
	}

	expiresAt := now.Add(s.ttl)
	s.jobs[job.ID] = &jobEntry{job: job, expiresAt: expiresAt}
	return expiresAt, nil
}

// Get returns a pending job and extends its expiry.
func (s *JobStore) Get(id string) (*Job, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, done := s.consumed[id]; done {
		return nil, time.Time{}, ErrJobAlreadyExecuted
	}
	entry, ok := s.jobs[id]
	if !ok {
		return nil, time.Time{}, ErrJobNotFound
	}
	if !now.Before(entry.expiresAt) {
		delete(s.jobs, id)
		s.publishExpired([]*Job{entry.job})
		return nil, time.Time{}, ErrJobNotFound
	}
	entry.expiresAt = now.Add(s.ttl)
	return entry.job, entry.expiresAt, nil
}

// Consume removes a pending job and marks its ID as executed.
func (s *JobStore) Consume(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, done := s.consumed[id]; done {
		return nil, ErrJobAlreadyExecuted
	}
	entry, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	delete(s.jobs, id)
	if !now.Before(entry.expiresAt) {
		s.publishExpired([]*Job{entry.job})
		return nil, ErrJobNotFound
	}
	s.consumed[id] = now.Add(s.ttl)
	return entry.job, nil
}

// Len returns the number of pending jobs, expired ones included until swept.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Sweep evicts expired jobs and tombstones and returns how many jobs
// were evicted.
func (s *JobStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := s.sweepLocked(s.now())
	s.publishExpired(expired)
	return len(expired)
}

// sweepLocked removes expired jobs and tombstones and returns the evicted
// jobs ordered by ID.
func (s *JobStore) sweepLocked(now time.Time) []*Job {
	var expired []*Job
	for id, entry := range s.jobs {
		if !now.Before(entry.expiresAt) {
			delete(s.jobs, id)
			expired = append(expired, entry.job)
		}
	}
	slices.SortFunc(expired, func(a, b *Job) int { return strings.Compare(a.ID, b.ID) })
	for id, until := range s.consumed {
		if !now.Before(until) {
			delete(s.consumed, id)
		}
	}
	return expired
}

// publishExpired emits an import.expired event for each job. Publish never
// blocks, so it is safe to call with the store locked.
func (s *JobStore) publishExpired(jobs []*Job) {
	for _, job := range jobs {
		s.eventBus.Publish(event.Event{
			Type: event.ImportExpired,
			Data: map[string]any{
				"job_id":     job.ID,
				"source":     job.Source,
				"total_rows": job.TotalRows(),
			},
		})
	}
}

// Run sweeps on every tick until ctx is done.
func (s *JobStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
