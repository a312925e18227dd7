// Package mail sends email through an outbound transport and classifies
// delivery failures as retryable or fatal.
package mail

import (
	"context"
	"errors"
	"net/textproto"

	"github.com/you/sendlater/internal/domain"
)

// Message is the content handed to the transport. IdempotencyKey carries the
// job id so a dedup-capable provider can enforce exactly-once.
type Message struct {
	To             []string
	Subject        string
	Body           string
	IdempotencyKey string
}

// Transport delivers a message. A nil error means the provider accepted it.
type Transport interface {
	Send(ctx context.Context, m *Message) error
}

// fatalError marks a permanent failure: retrying cannot help.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err as a permanent delivery failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err}
}

// Classify maps a transport error to a delivery outcome. SMTP 5xx replies
// are permanent; 4xx replies, network errors and timeouts are transient.
func Classify(err error) domain.Outcome {
	if err == nil {
		return domain.Outcome{Kind: domain.OutcomeSuccess}
	}

	var fatal *fatalError
	if errors.As(err, &fatal) {
		return domain.Outcome{Kind: domain.OutcomeFatal, Reason: err.Error()}
	}

	var proto *textproto.Error
	if errors.As(err, &proto) && proto.Code >= 500 {
		return domain.Outcome{Kind: domain.OutcomeFatal, Reason: err.Error()}
	}

	// 4xx SMTP replies, dial failures, timeouts, context cancellation: all
	// worth another attempt.
	return domain.Outcome{Kind: domain.OutcomeRetryable, Reason: err.Error()}
}
