package linking

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gotest.tools/v3/assert"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

type fixture struct {
	store   Store
	advance func(time.Duration)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemoryFixture(t *testing.T) fixture {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	return fixture{store: NewMemoryStore(clk.Now), advance: clk.Advance}
}

func newRedisFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return fixture{store: NewRedisStore(client), advance: mr.FastForward}
}

func forEachStore(t *testing.T, fn func(t *testing.T, f fixture)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryFixture(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisFixture(t)) })
}

const cred = "alice:0123456789ABCDEF"

func TestCodeRedeemsExactlyOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		for i := 0; i < 20; i++ {
			code, err := f.store.IssueCode(ctx, cred)
			assert.NilError(t, err)
			assert.Equal(t, len(code), CodeLength)
			for _, r := range code {
				assert.Check(t, strings.ContainsRune(CodeAlphabet, r), "code %q has %q", code, r)
			}

			got, ok, err := f.store.RedeemCode(ctx, code)
			assert.NilError(t, err)
			assert.Check(t, ok)
			assert.Equal(t, got, cred)

			_, ok, err = f.store.RedeemCode(ctx, code)
			assert.NilError(t, err)
			assert.Check(t, !ok, "second redemption must fail")
		}
	})
}

func TestCodeRedemptionIsCaseInsensitive(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		code, err := f.store.IssueCode(ctx, cred)
		assert.NilError(t, err)

		got, ok, err := f.store.RedeemCode(ctx, "  "+strings.ToLower(code)+" ")
		assert.NilError(t, err)
		assert.Check(t, ok)
		assert.Equal(t, got, cred)
	})
}

func TestCodeExpires(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		code, err := f.store.IssueCode(ctx, cred)
		assert.NilError(t, err)

		f.advance(CodeTTL + time.Second)
		_, ok, err := f.store.RedeemCode(ctx, code)
		assert.NilError(t, err)
		assert.Check(t, !ok)
	})
}

func TestInvalidCodes(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		for _, code := range []string{"", "ABC123", "ABCDE", "ABCDEFG", "ABCDE0"} {
			_, ok, err := f.store.RedeemCode(context.Background(), code)
			assert.NilError(t, err)
			assert.Check(t, !ok, "code %q", code)
		}
	})
}

func TestLinkLookupUnlink(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()

		_, ok, err := f.store.LookupCredential(ctx, 42)
		assert.NilError(t, err)
		assert.Check(t, !ok)

		assert.NilError(t, f.store.LinkChat(ctx, 42, cred))

		got, ok, err := f.store.LookupCredential(ctx, 42)
		assert.NilError(t, err)
		assert.Check(t, ok)
		assert.Equal(t, got, cred)

		chat, ok, err := f.store.LookupChatByCredential(ctx, cred)
		assert.NilError(t, err)
		assert.Check(t, ok)
		assert.Equal(t, chat, int64(42))

		// relinking the same credential elsewhere frees the old chat
		assert.NilError(t, f.store.LinkChat(ctx, 7, cred))
		_, ok, err = f.store.LookupCredential(ctx, 42)
		assert.NilError(t, err)
		assert.Check(t, !ok)

		assert.NilError(t, f.store.SetPending(ctx, 7, domain.PendingBookmark{URL: "https://example.com/"}))

		was, err := f.store.Unlink(ctx, cred)
		assert.NilError(t, err)
		assert.Check(t, was)

		_, ok, err = f.store.LookupCredential(ctx, 7)
		assert.NilError(t, err)
		assert.Check(t, !ok)
		_, ok, err = f.store.GetPending(ctx, 7)
		assert.NilError(t, err)
		assert.Check(t, !ok, "unlink clears pending state")

		was, err = f.store.Unlink(ctx, cred)
		assert.NilError(t, err)
		assert.Check(t, !was)
	})
}

func TestLinkingAChatToAnotherCredential(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		other := "bob:FEDCBA"

		assert.NilError(t, f.store.LinkChat(ctx, 42, cred))
		assert.NilError(t, f.store.LinkChat(ctx, 42, other))

		_, ok, err := f.store.LookupChatByCredential(ctx, cred)
		assert.NilError(t, err)
		assert.Check(t, !ok, "old credential must no longer resolve to the chat")

		got, _, err := f.store.LookupCredential(ctx, 42)
		assert.NilError(t, err)
		assert.Equal(t, got, other)
	})
}

func TestReverseIndexDoesNotStoreRawCredential(t *testing.T) {
	key := CredentialKey(cred)
	assert.Check(t, !strings.Contains(key, "alice"))
	assert.Equal(t, key, KeyPrefixCredential+domain.HashCredential(cred))
}

func TestPendingOverwriteAndExpiry(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		first := domain.PendingBookmark{URL: "https://a.example/", Description: "A"}
		second := domain.PendingBookmark{URL: "https://b.example/", Description: "B"}

		assert.NilError(t, f.store.SetPending(ctx, 1, first))
		assert.NilError(t, f.store.SetPending(ctx, 1, second))

		got, ok, err := f.store.GetPending(ctx, 1)
		assert.NilError(t, err)
		assert.Check(t, ok)
		assert.Equal(t, got.URL, second.URL)

		assert.NilError(t, f.store.ClearPending(ctx, 1))
		_, ok, err = f.store.GetPending(ctx, 1)
		assert.NilError(t, err)
		assert.Check(t, !ok)

		assert.NilError(t, f.store.SetPending(ctx, 1, first))
		f.advance(PendingTTL + time.Second)
		_, ok, err = f.store.GetPending(ctx, 1)
		assert.NilError(t, err)
		assert.Check(t, !ok, "pending bookmark must expire")
	})
}

func TestMarkUpdateSeen(t *testing.T) {
	forEachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()

		first, err := f.store.MarkUpdateSeen(ctx, 1001)
		assert.NilError(t, err)
		assert.Check(t, first)

		again, err := f.store.MarkUpdateSeen(ctx, 1001)
		assert.NilError(t, err)
		assert.Check(t, !again)

		f.advance(UpdateTTL + time.Second)
		later, err := f.store.MarkUpdateSeen(ctx, 1001)
		assert.NilError(t, err)
		assert.Check(t, later)
	})
}

func TestDurable(t *testing.T) {
	assert.Check(t, !newMemoryFixture(t).store.Durable())
	assert.Check(t, newRedisFixture(t).store.Durable())
}

func TestMemorySweep(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	s := NewMemoryStore(clk.Now)
	ctx := context.Background()

	_, err := s.IssueCode(ctx, cred)
	assert.NilError(t, err)
	assert.NilError(t, s.SetPending(ctx, 1, domain.PendingBookmark{URL: "https://a.example/"}))
	assert.NilError(t, s.LinkChat(ctx, 1, cred))

	assert.Equal(t, s.Sweep(), 0)
	clk.Advance(CodeTTL)
	assert.Equal(t, s.Sweep(), 2)

	_, ok, _ := s.LookupCredential(ctx, 1)
	assert.Check(t, ok, "links never expire")
}

func TestNormalizeCode(t *testing.T) {
	got, ok := NormalizeCode(" abc234 ")
	assert.Check(t, ok)
	assert.Equal(t, got, "ABC234")

	_, ok = NormalizeCode("ABC1O4")
	assert.Check(t, !ok)
}
