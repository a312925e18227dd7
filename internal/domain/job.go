// Package domain holds the job model and the error taxonomy shared by the
// scheduler, dispatcher and store layers.
package domain

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a job in this status can transition further.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one scheduled email delivery. MessageID is an opaque reference to
// the stored message content; the queue never looks inside it.
type Job struct {
	ID          string
	OwnerID     string
	MessageID   string
	DueAt       time.Time
	Status      Status
	Attempts    int
	MaxAttempts int
	LastError   *string

	// Lease fields, set only while Status == StatusClaimed.
	ClaimedBy      *string
	ClaimExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LeaseHeldBy reports whether workerID holds a live lease on the job at now.
func (j *Job) LeaseHeldBy(workerID string, now time.Time) bool {
	return j.Status == StatusClaimed &&
		j.ClaimedBy != nil && *j.ClaimedBy == workerID &&
		j.ClaimExpiresAt != nil && j.ClaimExpiresAt.After(now)
}

// OutcomeKind classifies the result of one delivery attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome is what a worker reports back after executing a job.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// JobSummary is the read model projected to API callers.
type JobSummary struct {
	ID        string    `json:"id"`
	DueAt     time.Time `json:"due_at"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError *string   `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary projects the externally visible view of a job.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:        j.ID,
		DueAt:     j.DueAt,
		Status:    j.Status,
		Attempts:  j.Attempts,
		LastError: j.LastError,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}
