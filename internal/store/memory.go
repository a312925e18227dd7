package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/you/sendlater/internal/domain"
)

// MemoryStore is an in-memory JobStore with the same transition semantics as
// the Redis backend. It backs tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

var _ JobStore = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*domain.Job)}
}

func (s *MemoryStore) Create(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return domain.ErrJobExists
	}
	s.jobs[j.ID] = clone(j)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(j), nil
}

func (s *MemoryStore) Put(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; !ok {
		return domain.ErrNotFound
	}
	s.jobs[j.ID] = clone(j)
	return nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration, workerID string) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Job
	for _, j := range s.jobs {
		switch {
		case j.Status == domain.StatusPending && !j.DueAt.After(now):
			due = append(due, j)
		case j.Status == domain.StatusClaimed && j.ClaimExpiresAt != nil && !j.ClaimExpiresAt.After(now):
			// Expired lease: reclaimable. Attempts are not touched here;
			// only an explicit outcome counts as an attempt.
			due = append(due, j)
		}
	}

	sort.Slice(due, func(i, k int) bool {
		if due[i].DueAt.Equal(due[k].DueAt) {
			return due[i].ID < due[k].ID
		}
		return due[i].DueAt.Before(due[k].DueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	expires := now.Add(lease)
	claimed := make([]*domain.Job, 0, len(due))
	for _, j := range due {
		worker := workerID
		j.Status = domain.StatusClaimed
		j.ClaimedBy = &worker
		j.ClaimExpiresAt = &expires
		j.UpdatedAt = now
		claimed = append(claimed, clone(j))
	}
	return claimed, nil
}

func (s *MemoryStore) Release(_ context.Context, id, workerID string, outcome domain.Outcome, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	if !j.LeaseHeldBy(workerID, now) {
		return domain.ErrStaleLease
	}

	j.ClaimedBy = nil
	j.ClaimExpiresAt = nil
	j.UpdatedAt = now

	if outcome.Kind == domain.OutcomeSuccess {
		j.Status = domain.StatusSent
		return nil
	}

	j.Attempts++
	reason := outcome.Reason
	j.LastError = &reason

	if outcome.Kind == domain.OutcomeFatal || j.Attempts >= j.MaxAttempts {
		j.Status = domain.StatusFailed
		return nil
	}

	j.Status = domain.StatusPending
	j.DueAt = retryAt
	return nil
}

func (s *MemoryStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != domain.StatusPending {
		return domain.ErrNotCancelable
	}
	j.Status = domain.StatusCancelled
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) List(_ context.Context, ownerID string, f ListFilter) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Job
	for _, j := range s.jobs {
		if j.OwnerID != ownerID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, clone(j))
	}

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func clone(j *domain.Job) *domain.Job {
	c := *j
	if j.LastError != nil {
		v := *j.LastError
		c.LastError = &v
	}
	if j.ClaimedBy != nil {
		v := *j.ClaimedBy
		c.ClaimedBy = &v
	}
	if j.ClaimExpiresAt != nil {
		v := *j.ClaimExpiresAt
		c.ClaimExpiresAt = &v
	}
	return &c
}
