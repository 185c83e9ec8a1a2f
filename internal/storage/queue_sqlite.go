package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

// SQLiteQueue is the durable QueueStore. Order is the autoincrement seq, so
// actions replay in the order they were appended even across restarts.
type SQLiteQueue struct {
	db *DB
}

func (db *DB) Queue() *SQLiteQueue {
	return &SQLiteQueue{db: db}
}

func (q *SQLiteQueue) Append(ctx context.Context, owner string, a domain.QueuedAction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue (id, owner, type, payload, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, owner, string(a.Type), []byte(a.Payload), a.CreatedAt.UnixMilli(), a.RetryCount)
	if err != nil {
		return fmt.Errorf("append action %s: %w", a.ID, err)
	}
	return nil
}

func (q *SQLiteQueue) List(ctx context.Context, owner string) ([]domain.QueuedAction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, type, payload, created_at, retry_count
		FROM queue WHERE owner = ? ORDER BY seq ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []domain.QueuedAction
	for rows.Next() {
		var (
			a       domain.QueuedAction
			typ     string
			payload []byte
			created int64
		)
		if err := rows.Scan(&a.ID, &typ, &payload, &created, &a.RetryCount); err != nil {
			return nil, err
		}
		a.Type = domain.ActionType(typ)
		a.Payload = payload
		a.CreatedAt = time.UnixMilli(created)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (q *SQLiteQueue) UpdateRetry(ctx context.Context, id string, retryCount int) error {
	return q.exec(ctx, `UPDATE queue SET retry_count = ? WHERE id = ?`, retryCount, id)
}

func (q *SQLiteQueue) Remove(ctx context.Context, id string) error {
	return q.exec(ctx, `DELETE FROM queue WHERE id = ?`, id)
}

func (q *SQLiteQueue) exec(ctx context.Context, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotQueued
	}
	return nil
}
