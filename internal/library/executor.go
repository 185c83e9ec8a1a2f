package library

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
)

// Writer is the write side of the Pinboard client.
type Writer interface {
	AddBookmark(ctx context.Context, p domain.AddParams) (domain.Bookmark, error)
	DeleteBookmark(ctx context.Context, rawURL string) (bool, error)
	PatchURL(ctx context.Context, rawURL string, snapshot []domain.Bookmark, mutate func(*domain.Bookmark)) (domain.Bookmark, error)
}

// Executor replays queued actions against Pinboard. It implements
// offline.Executor.
type Executor struct {
	client   Writer
	snapshot func() []domain.Bookmark
}

// NewExecutor returns an executor resolving flag patches from snapshot,
// usually Index.All.
func NewExecutor(client Writer, snapshot func() []domain.Bookmark) *Executor {
	return &Executor{client: client, snapshot: snapshot}
}

func (e *Executor) Execute(ctx context.Context, a domain.QueuedAction) error {
	switch a.Type {
	case domain.ActionAdd, domain.ActionUpdate:
		var p domain.SavePayload
		if err := a.Decode(&p); err != nil {
			return err
		}
		_, err := e.client.AddBookmark(ctx, p.Params(a.Type == domain.ActionUpdate))
		// a retried add whose first attempt landed before the connection dropped
		if err != nil && a.RetryCount > 0 && pinboard.IsAlreadyExists(err) {
			return nil
		}
		return err

	case domain.ActionDelete:
		var p domain.DeletePayload
		if err := a.Decode(&p); err != nil {
			return err
		}
		_, err := e.client.DeleteBookmark(ctx, p.URL)
		if err != nil && a.RetryCount > 0 && pinboard.IsItemNotFound(err) {
			return nil
		}
		return err

	case domain.ActionMarkRead, domain.ActionMarkShared:
		var p domain.FlagPayload
		if err := a.Decode(&p); err != nil {
			return err
		}
		var snap []domain.Bookmark
		if e.snapshot != nil {
			snap = e.snapshot()
		}
		_, err := e.client.PatchURL(ctx, p.URL, snap, func(b *domain.Bookmark) {
			if a.Type == domain.ActionMarkRead {
				b.IsRead = p.Value
			} else {
				b.IsShared = p.Value
			}
		})
		return err
	}
	return fmt.Errorf("unknown action type %q", a.Type)
}
