package pinboard

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

// Patch is the only way to change a stored bookmark. Pinboard has no partial
// update, so the current record is resolved (from snapshot when it holds the
// hash, otherwise by a full re-fetch), mutate is applied to a copy and every
// field is resubmitted with replace=yes.
//
// Concurrent writers are not detected: the last resubmission wins.
func (c *Client) Patch(ctx context.Context, hash string, snapshot []domain.Bookmark, mutate func(*domain.Bookmark)) (domain.Bookmark, error) {
	return c.patch(ctx, func(b domain.Bookmark) bool { return b.Hash == hash }, hash, snapshot, mutate)
}

// PatchURL is Patch keyed by URL, for bookmarks whose hash is still
// temporary.
func (c *Client) PatchURL(ctx context.Context, rawURL string, snapshot []domain.Bookmark, mutate func(*domain.Bookmark)) (domain.Bookmark, error) {
	return c.patch(ctx, func(b domain.Bookmark) bool { return b.URL == rawURL }, rawURL, snapshot, mutate)
}

func (c *Client) patch(ctx context.Context, match func(domain.Bookmark) bool, ref string, snapshot []domain.Bookmark, mutate func(*domain.Bookmark)) (domain.Bookmark, error) {
	current, ok := find(snapshot, match)
	if !ok {
		all, err := c.GetAllBookmarks(ctx, Filter{})
		if err != nil {
			return domain.Bookmark{}, fmt.Errorf("resolve bookmark %s: %w", ref, err)
		}
		if current, ok = find(all, match); !ok {
			return domain.Bookmark{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
	}

	updated := current
	updated.Tags = append([]string(nil), current.Tags...)
	mutate(&updated)

	if _, err := c.AddBookmark(ctx, domain.ParamsFromBookmark(updated)); err != nil {
		return domain.Bookmark{}, err
	}
	return updated, nil
}

func find(list []domain.Bookmark, match func(domain.Bookmark) bool) (domain.Bookmark, bool) {
	for _, b := range list {
		if match(b) {
			return b, true
		}
	}
	return domain.Bookmark{}, false
}

// UpdateReadStatus flips the read flag through Patch.
func (c *Client) UpdateReadStatus(ctx context.Context, hash string, isRead bool, snapshot []domain.Bookmark) (domain.Bookmark, error) {
	return c.Patch(ctx, hash, snapshot, func(b *domain.Bookmark) { b.IsRead = isRead })
}

// UpdateShareStatus flips the shared flag through Patch.
func (c *Client) UpdateShareStatus(ctx context.Context, hash string, isShared bool, snapshot []domain.Bookmark) (domain.Bookmark, error) {
	return c.Patch(ctx, hash, snapshot, func(b *domain.Bookmark) { b.IsShared = isShared })
}
