// Package dispatch drives jobs from due to delivered: a Dispatcher polls the
// store and claims due batches, a bounded Pool of workers executes each claim
// through the Executor, which reports the outcome back to the store.
package dispatch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/sendlater/internal/backoff"
	"github.com/you/sendlater/internal/domain"
	"github.com/you/sendlater/internal/mail"
	"github.com/you/sendlater/internal/storage"
	"github.com/you/sendlater/internal/store"
)

// MessageLoader resolves a job's message reference to sendable content.
type MessageLoader interface {
	GetMessage(ctx context.Context, id string) (*storage.Message, error)
}

// Executor performs one delivery attempt and records the outcome. The store
// rejects the release if this worker's lease has lapsed in the meantime; a
// stale result is dropped so it cannot corrupt a newer claim.
type Executor struct {
	jobs      store.JobStore
	messages  MessageLoader
	transport mail.Transport
	policy    backoff.Policy
	workerID  string
	timeout   time.Duration
	log       *zap.Logger
}

// NewExecutor creates an Executor. timeout bounds one delivery attempt and
// should stay below the claim lease so an attempt cannot outlive its lease.
func NewExecutor(jobs store.JobStore, messages MessageLoader, transport mail.Transport, policy backoff.Policy, workerID string, timeout time.Duration, log *zap.Logger) *Executor {
	return &Executor{
		jobs:      jobs,
		messages:  messages,
		transport: transport,
		policy:    policy,
		workerID:  workerID,
		timeout:   timeout,
		log:       log,
	}
}

// Execute sends the job's message and releases the claim with the classified
// outcome. A missing message is a fatal failure: retrying cannot restore it.
func (e *Executor) Execute(ctx context.Context, j *domain.Job) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var sendErr error
	msg, err := e.messages.GetMessage(ctx, j.MessageID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		sendErr = mail.Fatal(errors.Errorf("message %s missing", j.MessageID))
	case err != nil:
		sendErr = err
	default:
		sendErr = e.transport.Send(ctx, &mail.Message{
			To:             msg.To,
			Subject:        msg.Subject,
			Body:           msg.Body,
			IdempotencyKey: j.ID,
		})
	}

	// Release on a fresh context: a timed-out send must still be able to
	// record its outcome.
	releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.release(releaseCtx, j, mail.Classify(sendErr))
}

func (e *Executor) release(ctx context.Context, j *domain.Job, outcome domain.Outcome) {
	// Next due time only matters for the retry transition; it is computed
	// from the attempt this release will record, so delays grow with each
	// failure and due_at only moves forward.
	retryAt := time.Now().UTC().Add(e.policy.Delay(j.Attempts + 1))

	err := e.jobs.Release(ctx, j.ID, e.workerID, outcome, retryAt)
	switch {
	case errors.Is(err, domain.ErrStaleLease):
		e.log.Warn("lease lost before release, dropping result",
			zap.String("job_id", j.ID),
			zap.Stringer("outcome", outcome.Kind),
		)
		return
	case err != nil:
		e.log.Error("release failed",
			zap.String("job_id", j.ID),
			zap.Error(err),
		)
		return
	}

	switch outcome.Kind {
	case domain.OutcomeSuccess:
		e.log.Info("email sent", zap.String("job_id", j.ID))
	case domain.OutcomeRetryable:
		e.log.Info("delivery attempt failed",
			zap.String("job_id", j.ID),
			zap.Int("attempt", j.Attempts+1),
			zap.Int("max_attempts", j.MaxAttempts),
			zap.Time("retry_at", retryAt),
			zap.String("reason", outcome.Reason),
		)
	case domain.OutcomeFatal:
		e.log.Warn("delivery failed permanently",
			zap.String("job_id", j.ID),
			zap.String("reason", outcome.Reason),
		)
	}
}
