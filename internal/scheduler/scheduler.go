// Package scheduler validates delivery requests and turns them into queued
// jobs. It is the only writer of new jobs and the only path for cancellation.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/sendlater/internal/domain"
	"github.com/you/sendlater/internal/storage"
	"github.com/you/sendlater/internal/store"
)

// MessageStore persists email content; the job only carries its id.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *storage.Message) (string, error)
	GetMessage(ctx context.Context, id string) (*storage.Message, error)
}

// Request is a validated-at-the-edge delivery request.
type Request struct {
	To      []string
	Subject string
	Body    string
	DueAt   time.Time
}

type Service struct {
	jobs     store.JobStore
	messages MessageStore
	log      *zap.Logger

	maxAttempts   int
	pastTolerance time.Duration
}

func New(jobs store.JobStore, messages MessageStore, log *zap.Logger, maxAttempts int, pastTolerance time.Duration) *Service {
	return &Service{
		jobs:          jobs,
		messages:      messages,
		log:           log,
		maxAttempts:   maxAttempts,
		pastTolerance: pastTolerance,
	}
}

// Enqueue persists the message content, then creates a pending job indexed
// by its due time. A due time further in the past than the configured
// tolerance is rejected with ErrInvalidSchedule; "now" is fine.
func (s *Service) Enqueue(ctx context.Context, ownerID string, req Request) (*domain.Job, error) {
	now := time.Now().UTC()
	if req.DueAt.Before(now.Add(-s.pastTolerance)) {
		return nil, domain.ErrInvalidSchedule
	}

	msgID, err := s.messages.InsertMessage(ctx, &storage.Message{
		OwnerID: ownerID,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		return nil, err
	}

	j := &domain.Job{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		MessageID:   msgID,
		DueAt:       req.DueAt.UTC(),
		Status:      domain.StatusPending,
		MaxAttempts: s.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, err
	}

	s.log.Info("job enqueued",
		zap.String("job_id", j.ID),
		zap.String("owner_id", ownerID),
		zap.Time("due_at", j.DueAt),
	)
	return j, nil
}

// Cancel transitions an owner's pending job to cancelled. A job that is
// claimed or terminal is not cancelable.
func (s *Service) Cancel(ctx context.Context, jobID, ownerID string) error {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.OwnerID != ownerID {
		return domain.ErrForbidden
	}
	if err := s.jobs.Cancel(ctx, jobID); err != nil {
		return err
	}
	s.log.Info("job cancelled", zap.String("job_id", jobID), zap.String("owner_id", ownerID))
	return nil
}

// Get returns one of the owner's jobs.
func (s *Service) Get(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	return j, nil
}

// List projects the owner's jobs to their externally visible summaries.
func (s *Service) List(ctx context.Context, ownerID string, f store.ListFilter) ([]domain.JobSummary, error) {
	jobs, err := s.jobs.List(ctx, ownerID, f)
	if err != nil {
		return nil, err
	}
	out := make([]domain.JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Summary())
	}
	return out, nil
}
