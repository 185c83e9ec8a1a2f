package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Limits enforced by Pinboard on posts/add.
const (
	MaxDescriptionLen = 255
	MaxExtendedLen    = 65536
	MaxTagLen         = 255
	MaxTags           = 100
)

// ErrValidation is wrapped by every local validation failure so callers can
// reject a request before any network call.
var ErrValidation = errors.New("validation failed")

// Bookmark is a saved URL owned by the remote store.
type Bookmark struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	// Hash is the content fingerprint assigned by Pinboard.
	// Bookmarks created locally carry a "temp-" hash until the next full read.
	Hash string `json:"hash"`

	// URL is the canonical locator, unique per bookmark.
	URL string `json:"url"`

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	// Description is the title shown in lists.
	Description string `json:"description"`

	// Extended holds free-text notes (markdown is rendered by the library view).
	Extended string `json:"extended"`

	// Tags is an unordered set of short tokens.
	Tags []string `json:"tags"`

	// ─────────────────────────────
	// Metadata & flags
	// ─────────────────────────────

	CreatedAt time.Time `json:"createdAt"`

	// IsRead is the inverse of Pinboard's "toread" flag.
	IsRead bool `json:"isRead"`

	// IsShared is Pinboard's public visibility flag.
	IsShared bool `json:"isShared"`
}

// IsTemporary reports whether the hash was synthesized locally.
func (b Bookmark) IsTemporary() bool {
	return strings.HasPrefix(b.Hash, TempHashPrefix)
}

// HasTag reports whether the bookmark carries tag (case-insensitive).
func (b Bookmark) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// TempHashPrefix marks hashes fabricated before the remote store assigned one.
const TempHashPrefix = "temp-"

// AddParams is a full add-or-replace submission. Pinboard has no partial
// update, so every field must be present when Replace is set.
type AddParams struct {
	URL         string
	Description string
	Extended    string
	Tags        []string
	Replace     bool
	Shared      *bool
	ToRead      *bool
	CreatedAt   time.Time
}

// ParamsFromBookmark builds a replace submission carrying every field of b.
func ParamsFromBookmark(b Bookmark) AddParams {
	shared := b.IsShared
	toRead := !b.IsRead
	return AddParams{
		URL:         b.URL,
		Description: b.Description,
		Extended:    b.Extended,
		Tags:        append([]string(nil), b.Tags...),
		Replace:     true,
		Shared:      &shared,
		ToRead:      &toRead,
		CreatedAt:   b.CreatedAt,
	}
}

// Validate checks the params against Pinboard's limits.
func (p AddParams) Validate() error {
	if err := ValidateURL(p.URL); err != nil {
		return err
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrValidation)
	}
	if n := utf8.RuneCountInString(p.Description); n > MaxDescriptionLen {
		return fmt.Errorf("%w: description is %d characters, max %d", ErrValidation, n, MaxDescriptionLen)
	}
	if len(p.Extended) > MaxExtendedLen {
		return fmt.Errorf("%w: notes exceed %d bytes", ErrValidation, MaxExtendedLen)
	}
	if len(p.Tags) > MaxTags {
		return fmt.Errorf("%w: %d tags, max %d", ErrValidation, len(p.Tags), MaxTags)
	}
	for _, tag := range p.Tags {
		if tag == "" || strings.ContainsAny(tag, " \t\n\r,") {
			return fmt.Errorf("%w: invalid tag %q", ErrValidation, tag)
		}
		if utf8.RuneCountInString(tag) > MaxTagLen {
			return fmt.Errorf("%w: tag %q exceeds %d characters", ErrValidation, tag, MaxTagLen)
		}
	}
	return nil
}

// ValidateURL accepts absolute URLs with a scheme Pinboard stores.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed url: %v", ErrValidation, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "javascript", "mailto", "ftp", "file", "feed":
	default:
		return fmt.Errorf("%w: unsupported url scheme %q", ErrValidation, u.Scheme)
	}
	if u.Opaque == "" && u.Host == "" && u.Scheme != "file" {
		return fmt.Errorf("%w: url has no host", ErrValidation)
	}
	return nil
}

// PendingBookmark is a chat-submitted link waiting for a tags-or-skip reply.
type PendingBookmark struct {
	URL         string    `json:"url"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}
