package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNoJob is returned by Reserve when nothing is ready to run.
	ErrNoJob       = errors.New("worker: no job ready")
	ErrJobNotFound = errors.New("worker: job not found")
)

// Store persists jobs. Reserve must hand a job to exactly one caller even
// when several dispatchers share the store.
type Store interface {
	Add(ctx context.Context, job *Job) error
	// Reserve promotes delayed jobs due at now, then pops the oldest waiting
	// job, marks it active and leases it until now+lease.
	Reserve(ctx context.Context, now time.Time, lease time.Duration) (*Job, error)
	// Reclaim returns active jobs whose lease expired before now, leased
	// again to the caller. The caller files them with Save.
	Reclaim(ctx context.Context, now time.Time, lease time.Duration) ([]*Job, error)
	// Save persists a state change and files the job under its new state.
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Purge deletes completed and failed jobs that finished before the cutoff.
	Purge(ctx context.Context, before time.Time) (int, error)
	Counts(ctx context.Context) (Counts, error)
}

type Counts struct {
	Waiting  int64 `json:"waiting"`
	Active   int64 `json:"active"`
	Delayed  int64 `json:"delayed"`
	Finished int64 `json:"finished"`
}

// MemoryStore keeps jobs in process. It is meant for tests and single
// instance development; nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	waiting  []string
	active   map[string]time.Time
	delayed  map[string]time.Time
	finished map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*Job),
		active:   make(map[string]time.Time),
		delayed:  make(map[string]time.Time),
		finished: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Add(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return errors.New("worker: duplicate job id " + job.ID)
	}
	cp := job.clone()
	cp.State = StateWaiting
	s.jobs[cp.ID] = cp
	s.waiting = append(s.waiting, cp.ID)
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, now time.Time, lease time.Duration) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promoteLocked(now)
	for len(s.waiting) > 0 {
		id := s.waiting[0]
		s.waiting = s.waiting[1:]
		job, ok := s.jobs[id]
		if !ok || job.State != StateWaiting {
			continue
		}
		job.State = StateActive
		s.active[id] = now.Add(lease)
		return job.clone(), nil
	}
	return nil, ErrNoJob
}

func (s *MemoryStore) Reclaim(_ context.Context, now time.Time, lease time.Duration) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for id, deadline := range s.active {
		if deadline.After(now) {
			continue
		}
		job, ok := s.jobs[id]
		if !ok {
			delete(s.active, id)
			continue
		}
		s.active[id] = now.Add(lease)
		out = append(out, job.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// promoteLocked moves due delayed jobs to waiting, earliest first.
func (s *MemoryStore) promoteLocked(now time.Time) {
	var due []string
	for id, at := range s.delayed {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return s.delayed[due[i]].Before(s.delayed[due[j]])
	})
	for _, id := range due {
		delete(s.delayed, id)
		if job, ok := s.jobs[id]; ok {
			job.State = StateWaiting
			s.waiting = append(s.waiting, id)
		}
	}
}

func (s *MemoryStore) Save(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	cp := job.clone()
	s.jobs[cp.ID] = cp
	delete(s.active, cp.ID)
	delete(s.delayed, cp.ID)
	switch cp.State {
	case StateWaiting:
		s.waiting = append(s.waiting, cp.ID)
	case StateDelayed:
		s.delayed[cp.ID] = cp.RunAt
	case StateCompleted, StateFailed:
		at := time.Now()
		if cp.FinishedAt != nil {
			at = *cp.FinishedAt
		}
		s.finished[cp.ID] = at
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

func (s *MemoryStore) Purge(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, at := range s.finished {
		if at.Before(before) {
			delete(s.finished, id)
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Counts(_ context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, id := range s.waiting {
		if job, ok := s.jobs[id]; ok && job.State == StateWaiting {
			c.Waiting++
		}
	}
	c.Active = int64(len(s.active))
	c.Delayed = int64(len(s.delayed))
	c.Finished = int64(len(s.finished))
	return c, nil
}
