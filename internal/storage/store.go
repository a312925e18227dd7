// Package storage persists user-facing email content in Postgres. The queue
// only ever carries the message id; content lives here.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/sendlater/internal/domain"
)

// Message is a stored email body. Validation happens at the API edge; by the
// time a message reaches here it is trusted input.
type Message struct {
	ID        string
	OwnerID   string
	To        []string
	Subject   string
	Body      string
	CreatedAt time.Time
}

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// InsertMessage persists email content and returns the generated id.
func (s *Store) InsertMessage(ctx context.Context, m *Message) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `insert into messages(id, owner_id, recipients, subject, body)
values ($1, $2, $3, $4, $5)`,
		id, m.OwnerID, m.To, m.Subject, m.Body,
	)
	if err != nil {
		return "", errors.Wrap(err, "insert message")
	}
	return id, nil
}

// GetMessage loads a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	m := Message{ID: id}
	err := s.db.QueryRow(ctx, `select owner_id, recipients, subject, body, created_at
from messages where id = $1`, id).Scan(&m.OwnerID, &m.To, &m.Subject, &m.Body, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "get message")
	}
	return &m, nil
}
