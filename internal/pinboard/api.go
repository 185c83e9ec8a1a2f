package pinboard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/retry"
)

// SnapshotKey is where the last full list of a credential is kept.
func SnapshotKey(token string) string {
	return "bookmarks:" + domain.HashCredential(token)
}

// GetAllBookmarks fetches posts/all, retrying server and network failures.
// When the remote stays unreachable, the last full snapshot (at most
// SnapshotMaxAge old) is served with the filter applied locally.
func (c *Client) GetAllBookmarks(ctx context.Context, f Filter) ([]domain.Bookmark, error) {
	bookmarks, err := retry.DoValue(ctx, c.readRetry, func(ctx context.Context) ([]domain.Bookmark, error) {
		var posts []post
		if err := c.getJSON(ctx, "posts/all", f.values(), &posts); err != nil {
			return nil, err
		}
		out := make([]domain.Bookmark, 0, len(posts))
		for _, p := range posts {
			out = append(out, p.toBookmark())
		}
		return out, nil
	})
	if err == nil {
		if f.IsZero() {
			c.saveSnapshot(ctx, bookmarks)
		}
		return bookmarks, nil
	}

	if !errors.Is(err, ErrOffline) && !errors.Is(err, ErrNetwork) && c.online() {
		return nil, err
	}
	if snap, ok := c.loadSnapshot(ctx); ok {
		c.log.Warn("pinboard unreachable, serving snapshot", logger.Error(err), logger.Int("count", len(snap)))
		return f.Apply(snap), nil
	}
	return nil, err
}

func (c *Client) saveSnapshot(ctx context.Context, bookmarks []domain.Bookmark) {
	if c.snapshots == nil {
		return
	}
	if err := c.snapshots.Save(ctx, SnapshotKey(c.token), bookmarks); err != nil {
		c.log.Warn("failed to save bookmark snapshot", logger.Error(err))
	}
}

func (c *Client) loadSnapshot(ctx context.Context) ([]domain.Bookmark, bool) {
	if c.snapshots == nil {
		return nil, false
	}
	var snap []domain.Bookmark
	savedAt, ok, err := c.snapshots.Load(context.WithoutCancel(ctx), SnapshotKey(c.token), &snap)
	if err != nil {
		c.log.Warn("failed to load bookmark snapshot", logger.Error(err))
		return nil, false
	}
	if !ok || c.now().Sub(savedAt) > c.maxAge {
		return nil, false
	}
	return snap, true
}

// AddBookmark validates p locally and submits posts/add. Pinboard does not
// echo the stored post, so the returned bookmark carries a temporary hash
// until the next full read.
func (c *Client) AddBookmark(ctx context.Context, p domain.AddParams) (domain.Bookmark, error) {
	if err := p.Validate(); err != nil {
		return domain.Bookmark{}, err
	}

	v := url.Values{}
	v.Set("url", p.URL)
	v.Set("description", p.Description)
	if p.Extended != "" {
		v.Set("extended", p.Extended)
	}
	if len(p.Tags) > 0 {
		v.Set("tags", domain.JoinTags(p.Tags))
	}
	if !p.CreatedAt.IsZero() {
		v.Set("dt", p.CreatedAt.UTC().Format(timeLayout))
	}
	v.Set("replace", yesNo(p.Replace))
	if p.Shared != nil {
		v.Set("shared", yesNo(*p.Shared))
	}
	if p.ToRead != nil {
		v.Set("toread", yesNo(*p.ToRead))
	}

	if err := c.write(ctx, "posts/add", v); err != nil {
		return domain.Bookmark{}, err
	}

	created := p.CreatedAt
	if created.IsZero() {
		created = c.now().UTC()
	}
	b := domain.Bookmark{
		Hash:        domain.TempHashPrefix + uuid.NewString(),
		URL:         p.URL,
		Description: p.Description,
		Extended:    p.Extended,
		Tags:        append([]string{}, p.Tags...),
		CreatedAt:   created,
		IsShared:    p.Shared == nil || *p.Shared,
		IsRead:      p.ToRead == nil || !*p.ToRead,
	}
	return b, nil
}

// DeleteBookmark removes the bookmark saved under rawURL. Anything but an
// explicit "done" is an error.
func (c *Client) DeleteBookmark(ctx context.Context, rawURL string) (bool, error) {
	if err := domain.ValidateURL(rawURL); err != nil {
		return false, err
	}
	v := url.Values{}
	v.Set("url", rawURL)
	if err := c.write(ctx, "posts/delete", v); err != nil {
		return false, err
	}
	return true, nil
}

// write sends a mutating call once and checks its result code.
func (c *Client) write(ctx context.Context, endpoint string, v url.Values) error {
	var res result
	if err := c.getJSON(ctx, endpoint, v, &res); err != nil {
		return err
	}
	if code := res.code(); code != "done" {
		if code == "" {
			code = "empty result code"
		}
		return &Error{Kind: KindRejected, Op: endpoint, StatusCode: 200, Err: errors.New(code)}
	}
	return nil
}

// GetTags returns every tag with its usage count.
func (c *Client) GetTags(ctx context.Context) (map[string]int, error) {
	return retry.DoValue(ctx, c.readRetry, func(ctx context.Context) (map[string]int, error) {
		var raw map[string]count
		if err := c.getJSON(ctx, "tags/get", nil, &raw); err != nil {
			return nil, err
		}
		tags := make(map[string]int, len(raw))
		for name, n := range raw {
			tags[name] = int(n)
		}
		return tags, nil
	})
}

// ValidateCredential performs the cheapest authenticated read. A rejected
// credential, or an answer without update_time, reports false with no error.
func (c *Client) ValidateCredential(ctx context.Context) (bool, error) {
	var ut updateTime
	err := retry.Do(ctx, c.readRetry, func(ctx context.Context) error {
		return c.getJSON(ctx, "posts/update", nil, &ut)
	})
	switch {
	case errors.Is(err, ErrAuth):
		return false, nil
	case err != nil:
		return false, err
	}
	return strings.TrimSpace(ut.UpdateTime) != "", nil
}

// String hides the credential from logs.
func (c *Client) String() string {
	return fmt.Sprintf("pinboard.Client{user=%s}", c.Username())
}
