package linking

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

type entry[V any] struct {
	value   V
	expires time.Time // zero = never
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// MemoryStore is the in-process fallback used when no Redis is configured.
// State is lost on restart and not shared between processes.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	codes       map[string]entry[string]
	chats       map[int64]string // chat -> credential
	credentials map[string]int64 // sha256(credential) -> chat
	pending     map[int64]entry[domain.PendingBookmark]
	updates     map[int64]entry[struct{}]
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:         now,
		codes:       make(map[string]entry[string]),
		chats:       make(map[int64]string),
		credentials: make(map[string]int64),
		pending:     make(map[int64]entry[domain.PendingBookmark]),
		updates:     make(map[int64]entry[struct{}]),
	}
}

func (s *MemoryStore) Durable() bool { return false }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) IssueCode(_ context.Context, credential string) (string, error) {
	code, err := NewCode()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = entry[string]{value: credential, expires: s.now().Add(CodeTTL)}
	return code, nil
}

func (s *MemoryStore) RedeemCode(_ context.Context, code string) (string, bool, error) {
	code, ok := NormalizeCode(code)
	if !ok {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.codes[code]
	delete(s.codes, code)
	if !ok || e.expired(s.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) LinkChat(_ context.Context, chatID int64, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := domain.HashCredential(credential)
	if prev, ok := s.credentials[hash]; ok && prev != chatID {
		delete(s.chats, prev)
	}
	if prevCred, ok := s.chats[chatID]; ok && prevCred != credential {
		delete(s.credentials, domain.HashCredential(prevCred))
	}
	s.chats[chatID] = credential
	s.credentials[hash] = chatID
	return nil
}

func (s *MemoryStore) LookupCredential(_ context.Context, chatID int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.chats[chatID]
	return credential, ok, nil
}

func (s *MemoryStore) LookupChatByCredential(_ context.Context, credential string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chatID, ok := s.credentials[domain.HashCredential(credential)]
	return chatID, ok, nil
}

func (s *MemoryStore) Unlink(_ context.Context, credential string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := domain.HashCredential(credential)
	chatID, ok := s.credentials[hash]
	if !ok {
		return false, nil
	}
	delete(s.credentials, hash)
	if s.chats[chatID] == credential {
		delete(s.chats, chatID)
		delete(s.pending, chatID)
	}
	return true, nil
}

func (s *MemoryStore) SetPending(_ context.Context, chatID int64, p domain.PendingBookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[chatID] = entry[domain.PendingBookmark]{value: p, expires: s.now().Add(PendingTTL)}
	return nil
}

func (s *MemoryStore) GetPending(_ context.Context, chatID int64) (domain.PendingBookmark, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[chatID]
	if !ok || e.expired(s.now()) {
		delete(s.pending, chatID)
		return domain.PendingBookmark{}, false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) ClearPending(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, chatID)
	return nil
}

func (s *MemoryStore) MarkUpdateSeen(_ context.Context, updateID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.updates[updateID]; ok && !e.expired(s.now()) {
		return false, nil
	}
	s.updates[updateID] = entry[struct{}]{expires: s.now().Add(UpdateTTL)}
	return true, nil
}

// Sweep drops expired entries and returns how many were removed. Reads
// already ignore them; this only bounds memory.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, e := range s.codes {
		if e.expired(now) {
			delete(s.codes, k)
			n++
		}
	}
	for k, e := range s.pending {
		if e.expired(now) {
			delete(s.pending, k)
			n++
		}
	}
	for k, e := range s.updates {
		if e.expired(now) {
			delete(s.updates, k)
			n++
		}
	}
	return n
}
