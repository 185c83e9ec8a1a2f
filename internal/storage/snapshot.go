package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Snapshots stores JSON documents that outlive the TTL cache. A snapshot is
// only replaced, never expired, so offline reads have something to serve.
type Snapshots struct {
	kv  KV
	now func() time.Time
}

func NewSnapshots(kv KV, now func() time.Time) *Snapshots {
	if now == nil {
		now = time.Now
	}
	return &Snapshots{kv: kv, now: now}
}

// Save replaces the snapshot under key.
func (s *Snapshots) Save(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	return s.kv.Put(ctx, key, Item{Value: b, UpdatedAt: s.now()})
}

// Load decodes the snapshot under key into v and returns when it was saved.
func (s *Snapshots) Load(ctx context.Context, key string, v any) (time.Time, bool, error) {
	it, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	if err := json.Unmarshal(it.Value, v); err != nil {
		return time.Time{}, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return it.UpdatedAt, true, nil
}

// Raw returns the stored bytes, for callers that cache encoded payloads.
func (s *Snapshots) Raw(ctx context.Context, key string) (Item, bool, error) {
	return s.kv.Get(ctx, key)
}

// SaveRaw stores already encoded bytes.
func (s *Snapshots) SaveRaw(ctx context.Context, key string, b []byte) error {
	return s.kv.Put(ctx, key, Item{Value: b, UpdatedAt: s.now()})
}
