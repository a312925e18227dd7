// Package store persists jobs and provides the single serialization point
// for dispatch: an atomic claim-with-lease over the due-time index.
package store

import (
	"context"
	"time"

	"github.com/you/sendlater/internal/domain"
)

// ListFilter narrows List results.
type ListFilter struct {
	// Status filters by job status. Empty means all statuses.
	Status domain.Status
	// Limit caps the number of jobs returned. Zero means no limit.
	Limit int
}

// JobStore is the persistence contract for jobs. Implementations must make
// ClaimDue, Release and Cancel atomic per job: two concurrent claims can
// never both win the same job while both leases are valid.
type JobStore interface {
	// Create persists a new job. Fails with domain.ErrJobExists on id reuse.
	Create(ctx context.Context, j *domain.Job) error

	// Get retrieves a job by id. Fails with domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// Put overwrites an existing job and keeps the due-time index in step
	// with the new status and due_at. Fails with domain.ErrNotFound. The
	// claim and release transitions have their own atomic operations; Put
	// is for everything else.
	Put(ctx context.Context, j *domain.Job) error

	// ClaimDue atomically selects up to limit jobs that are pending with
	// due_at <= now, or claimed with an expired lease, ordered by due_at
	// ascending then id. Each is transitioned to claimed with a lease of
	// now + lease held by workerID, and returned.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration, workerID string) ([]*domain.Job, error)

	// Release records a worker outcome as one atomic transition. retryAt is
	// the next due time, used only when the outcome is retryable and
	// attempts remain. Fails with domain.ErrStaleLease when workerID no
	// longer holds a live lease; callers must drop their result in that
	// case rather than retry.
	Release(ctx context.Context, id, workerID string, outcome domain.Outcome, retryAt time.Time) error

	// Cancel transitions a pending job to cancelled. Fails with
	// domain.ErrNotFound or domain.ErrNotCancelable.
	Cancel(ctx context.Context, id string) error

	// List returns the owner's jobs, most recently created first.
	List(ctx context.Context, ownerID string, f ListFilter) ([]*domain.Job, error)
}
