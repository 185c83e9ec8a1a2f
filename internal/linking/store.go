// Package linking holds the short-lived state of the Telegram handshake:
// linking codes, chat <-> credential bindings and pending bookmarks.
package linking

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

const (
	// CodeAlphabet excludes the look-alikes 0/O and 1/I.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6

	CodeTTL    = 10 * time.Minute
	PendingTTL = 5 * time.Minute
	// UpdateTTL bounds how long a Telegram update id is remembered.
	UpdateTTL = 24 * time.Hour
)

// Store is implemented by RedisStore and MemoryStore. The backend is chosen
// once at startup.
//
// Issued codes are not checked against live ones: with 32^6 codes and a ten
// minute TTL a collision is unlikely enough to accept, and it would only
// make an older code redeem to the newer credential.
type Store interface {
	IssueCode(ctx context.Context, credential string) (string, error)
	// RedeemCode atomically consumes a code. Expired or unknown codes
	// report false.
	RedeemCode(ctx context.Context, code string) (string, bool, error)

	// LinkChat binds chatID to credential, replacing any chat previously
	// bound to the same credential.
	LinkChat(ctx context.Context, chatID int64, credential string) error
	LookupCredential(ctx context.Context, chatID int64) (string, bool, error)
	LookupChatByCredential(ctx context.Context, credential string) (int64, bool, error)
	Unlink(ctx context.Context, credential string) (bool, error)

	SetPending(ctx context.Context, chatID int64, p domain.PendingBookmark) error
	GetPending(ctx context.Context, chatID int64) (domain.PendingBookmark, bool, error)
	ClearPending(ctx context.Context, chatID int64) error

	// MarkUpdateSeen reports true the first time updateID is seen.
	MarkUpdateSeen(ctx context.Context, updateID int64) (bool, error)

	// Durable reports whether state survives across processes. Multi-step
	// conversations are only safe on a durable store.
	Durable() bool
	Ping(ctx context.Context) error
}

// NewCode returns a random code from CodeAlphabet.
func NewCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	size := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate linking code: %w", err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode uppercases and trims user input. It returns false when the
// result cannot be a valid code.
func NormalizeCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return "", false
	}
	for _, r := range code {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return "", false
		}
	}
	return code, true
}
