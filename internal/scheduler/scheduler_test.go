package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/you/sendlater/internal/domain"
	"github.com/you/sendlater/internal/storage"
	"github.com/you/sendlater/internal/store"
)

type fakeMessages struct {
	byID map[string]*storage.Message
	next int
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{byID: make(map[string]*storage.Message)}
}

func (f *fakeMessages) InsertMessage(_ context.Context, m *storage.Message) (string, error) {
	f.next++
	id := fmt.Sprintf("msg-%d", f.next)
	m.ID = id
	f.byID[id] = m
	return id, nil
}

func (f *fakeMessages) GetMessage(_ context.Context, id string) (*storage.Message, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func newService(t *testing.T) (*Service, store.JobStore) {
	t.Helper()
	jobs := store.NewMemory()
	return New(jobs, newFakeMessages(), zap.NewNop(), 3, time.Minute), jobs
}

func req(due time.Time) Request {
	return Request{To: []string{"a@example.com"}, Subject: "hi", Body: "later", DueAt: due}
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	svc, jobs := newService(t)

	due := time.Now().Add(10 * time.Minute)
	j, err := svc.Enqueue(ctx, "u1", req(due))
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", j.Status)
	}
	if j.Attempts != 0 || j.MaxAttempts != 3 {
		t.Errorf("attempts = %d/%d, want 0/3", j.Attempts, j.MaxAttempts)
	}
	if j.MessageID == "" {
		t.Error("job has no message reference")
	}

	stored, err := jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if !stored.DueAt.Equal(due) {
		t.Errorf("due_at = %v, want %v", stored.DueAt, due)
	}
}

func TestEnqueue_PastToleranceWindow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	// "now" and slightly past are accepted.
	if _, err := svc.Enqueue(ctx, "u1", req(time.Now())); err != nil {
		t.Errorf("enqueue now: %v", err)
	}
	if _, err := svc.Enqueue(ctx, "u1", req(time.Now().Add(-30*time.Second))); err != nil {
		t.Errorf("enqueue within tolerance: %v", err)
	}

	// An hour in the past is well beyond the one-minute tolerance.
	_, err := svc.Enqueue(ctx, "u1", req(time.Now().Add(-time.Hour)))
	if !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Errorf("enqueue far past err = %v, want ErrInvalidSchedule", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	svc, jobs := newService(t)

	j, err := svc.Enqueue(ctx, "u1", req(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Cancel(ctx, j.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	got, _ := jobs.Get(ctx, j.ID)
	if got.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	if err := svc.Cancel(ctx, j.ID, "u1"); !errors.Is(err, domain.ErrNotCancelable) {
		t.Errorf("second cancel err = %v, want ErrNotCancelable", err)
	}
	if err := svc.Cancel(ctx, "nope", "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing cancel err = %v, want ErrNotFound", err)
	}
}

func TestCancel_WrongOwner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	j, err := svc.Enqueue(ctx, "u1", req(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Cancel(ctx, j.ID, "u2"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("cross-owner cancel err = %v, want ErrForbidden", err)
	}
}

func TestList_ProjectsSummaries(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	j, err := svc.Enqueue(ctx, "u1", req(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Enqueue(ctx, "u2", req(time.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	got, err := svc.List(ctx, "u1", store.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("list returned %d summaries, want 1", len(got))
	}
	if got[0].ID != j.ID || got[0].Status != domain.StatusPending {
		t.Errorf("summary = %+v", got[0])
	}
}

func TestGet_WrongOwner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	j, err := svc.Enqueue(ctx, "u1", req(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, j.ID, "u2"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("cross-owner get err = %v, want ErrForbidden", err)
	}
}
