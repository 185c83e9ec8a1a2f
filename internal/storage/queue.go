package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

// ErrNotQueued is returned when an action id is unknown.
var ErrNotQueued = errors.New("action not queued")

// QueueStore persists offline actions per owner, in insertion order.
type QueueStore interface {
	Append(ctx context.Context, owner string, a domain.QueuedAction) error
	List(ctx context.Context, owner string) ([]domain.QueuedAction, error)
	UpdateRetry(ctx context.Context, id string, retryCount int) error
	Remove(ctx context.Context, id string) error
}

type memoryRow struct {
	owner  string
	action domain.QueuedAction
}

// MemoryQueue is the in-process QueueStore.
type MemoryQueue struct {
	mu   sync.Mutex
	rows []memoryRow
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Append(_ context.Context, owner string, a domain.QueuedAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.rows {
		if r.action.ID == a.ID {
			return errors.New("duplicate action id " + a.ID)
		}
	}
	q.rows = append(q.rows, memoryRow{owner: owner, action: a})
	return nil
}

func (q *MemoryQueue) List(_ context.Context, owner string) ([]domain.QueuedAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.QueuedAction, 0, len(q.rows))
	for _, r := range q.rows {
		if r.owner == owner {
			out = append(out, r.action)
		}
	}
	return out, nil
}

func (q *MemoryQueue) UpdateRetry(_ context.Context, id string, retryCount int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.rows {
		if q.rows[i].action.ID == id {
			q.rows[i].action.RetryCount = retryCount
			return nil
		}
	}
	return ErrNotQueued
}

func (q *MemoryQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.rows {
		if q.rows[i].action.ID == id {
			q.rows = append(q.rows[:i], q.rows[i+1:]...)
			return nil
		}
	}
	return ErrNotQueued
}
