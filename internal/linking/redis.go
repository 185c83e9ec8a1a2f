package linking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

// RedisStore keeps linking state in Redis so it survives restarts and is
// shared between processes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Durable() bool { return true }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ─────────────────────────────────────────────────────────────────
// Linking codes
// ─────────────────────────────────────────────────────────────────

func (s *RedisStore) IssueCode(ctx context.Context, credential string) (string, error) {
	code, err := NewCode()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, CodeKey(code), credential, CodeTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store linking code: %w", err)
	}
	return code, nil
}

func (s *RedisStore) RedeemCode(ctx context.Context, code string) (string, bool, error) {
	code, ok := NormalizeCode(code)
	if !ok {
		return "", false, nil
	}
	credential, err := s.client.GetDel(ctx, CodeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to redeem linking code: %w", err)
	}
	return credential, true, nil
}

// ─────────────────────────────────────────────────────────────────
// Chat links
// ─────────────────────────────────────────────────────────────────

func (s *RedisStore) LinkChat(ctx context.Context, chatID int64, credential string) error {
	prevChat, hadPrev, err := s.LookupChatByCredential(ctx, credential)
	if err != nil {
		return err
	}
	prevCred, hadCred, err := s.LookupCredential(ctx, chatID)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if hadPrev && prevChat != chatID {
			pipe.Del(ctx, ChatKey(prevChat))
		}
		if hadCred && prevCred != credential {
			pipe.Del(ctx, CredentialKey(prevCred))
		}
		pipe.Set(ctx, ChatKey(chatID), credential, 0)
		pipe.Set(ctx, CredentialKey(credential), strconv.FormatInt(chatID, 10), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to link chat: %w", err)
	}
	return nil
}

func (s *RedisStore) LookupCredential(ctx context.Context, chatID int64) (string, bool, error) {
	credential, err := s.client.Get(ctx, ChatKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to lookup chat: %w", err)
	}
	return credential, true, nil
}

func (s *RedisStore) LookupChatByCredential(ctx context.Context, credential string) (int64, bool, error) {
	raw, err := s.client.Get(ctx, CredentialKey(credential)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to lookup credential: %w", err)
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt chat id %q: %w", raw, err)
	}
	return chatID, true, nil
}

func (s *RedisStore) Unlink(ctx context.Context, credential string) (bool, error) {
	chatID, ok, err := s.LookupChatByCredential(ctx, credential)
	if err != nil || !ok {
		return false, err
	}
	bound, _, err := s.LookupCredential(ctx, chatID)
	if err != nil {
		return false, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, CredentialKey(credential))
		if bound == credential {
			pipe.Del(ctx, ChatKey(chatID), PendingKey(chatID))
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to unlink: %w", err)
	}
	return true, nil
}

// ─────────────────────────────────────────────────────────────────
// Pending bookmarks
// ─────────────────────────────────────────────────────────────────

func (s *RedisStore) SetPending(ctx context.Context, chatID int64, p domain.PendingBookmark) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pending bookmark: %w", err)
	}
	if err := s.client.Set(ctx, PendingKey(chatID), data, PendingTTL).Err(); err != nil {
		return fmt.Errorf("failed to save pending bookmark: %w", err)
	}
	return nil
}

func (s *RedisStore) GetPending(ctx context.Context, chatID int64) (domain.PendingBookmark, bool, error) {
	data, err := s.client.Get(ctx, PendingKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PendingBookmark{}, false, nil
	}
	if err != nil {
		return domain.PendingBookmark{}, false, fmt.Errorf("failed to get pending bookmark: %w", err)
	}
	var p domain.PendingBookmark
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.PendingBookmark{}, false, fmt.Errorf("failed to unmarshal pending bookmark: %w", err)
	}
	return p, true, nil
}

func (s *RedisStore) ClearPending(ctx context.Context, chatID int64) error {
	if err := s.client.Del(ctx, PendingKey(chatID)).Err(); err != nil {
		return fmt.Errorf("failed to clear pending bookmark: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────
// Update de-duplication
// ─────────────────────────────────────────────────────────────────

func (s *RedisStore) MarkUpdateSeen(ctx context.Context, updateID int64) (bool, error) {
	first, err := s.client.SetNX(ctx, UpdateKey(updateID), 1, UpdateTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark update: %w", err)
	}
	return first, nil
}
