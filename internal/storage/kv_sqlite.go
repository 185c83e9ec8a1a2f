package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Table names usable as KV buckets.
const (
	BucketCache     = "cache_entries"
	BucketSnapshots = "snapshots"
)

// SQLiteKV is a KV backed by one of the key/value tables.
type SQLiteKV struct {
	db    *DB
	table string
}

// Bucket returns the KV stored in table, which must be one of the Bucket
// constants.
func (db *DB) Bucket(table string) (*SQLiteKV, error) {
	switch table {
	case BucketCache, BucketSnapshots:
		return &SQLiteKV{db: db, table: table}, nil
	}
	return nil, fmt.Errorf("unknown bucket %q", table)
}

func (s *SQLiteKV) Get(ctx context.Context, key string) (Item, bool, error) {
	var (
		value []byte
		ts    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM `+s.table+` WHERE key = ?`, key).Scan(&value, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("get %s/%s: %w", s.table, key, err)
	}
	return Item{Value: value, UpdatedAt: time.UnixMilli(ts)}, true, nil
}

func (s *SQLiteKV) Put(ctx context.Context, key string, it Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.table+` (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, it.Value, it.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.table, key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.table, key, err)
	}
	return nil
}

func (s *SQLiteKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM `+s.table+` WHERE key LIKE ? ESCAPE '\' ORDER BY key`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", s.table, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteKV) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", s.table, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
