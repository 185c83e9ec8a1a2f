// Package library is the state layer behind the bookmark API: it loads the
// remote list through the cache, overlays queued edits, filters, sorts and
// groups it into views, and applies edits optimistically through the
// offline queue.
package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/pinbook/internal/cache"
	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/offline"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
)

var (
	ErrNotFound = errors.New("bookmark not found")
	ErrExists   = errors.New("bookmark already exists")
)

// Remote is the read side of the Pinboard client.
type Remote interface {
	GetAllBookmarks(ctx context.Context, f pinboard.Filter) ([]domain.Bookmark, error)
	GetTags(ctx context.Context) (map[string]int, error)
}

// Queue is the offline queue of the session.
type Queue interface {
	Enqueue(ctx context.Context, typ domain.ActionType, payload any) (offline.Result, error)
	Pending(ctx context.Context) ([]domain.QueuedAction, error)
	Remove(ctx context.Context, id string) error
}

// Folders is the local-only bookmark to folder mapping, keyed by URL.
type Folders interface {
	Folder(rawURL string) string
	SetFolder(rawURL, folder string) error
}

type Options struct {
	Owner   string // credential hash, namespaces cache keys
	Remote  Remote
	Cache   *cache.Cache
	Queue   Queue
	Index   *Index
	Folders Folders
	Notes   *Notes
	Logger  logger.Logger
	Now     func() time.Time
}

type Library struct {
	remote  Remote
	cache   *cache.Cache
	queue   Queue
	index   *Index
	folders Folders
	notes   *Notes
	log     logger.Logger
	now     func() time.Time

	bookmarksKey string
	tagsKey      string

	// mu orders index replacement against optimistic edits.
	mu sync.Mutex
}

func New(opts Options) *Library {
	l := &Library{
		remote:       opts.Remote,
		cache:        opts.Cache,
		queue:        opts.Queue,
		index:        opts.Index,
		folders:      opts.Folders,
		notes:        opts.Notes,
		log:          opts.Logger,
		now:          opts.Now,
		bookmarksKey: "bookmarks:" + opts.Owner,
		tagsKey:      "tags:" + opts.Owner,
	}
	if l.index == nil {
		l.index = NewIndex()
	}
	if l.notes == nil {
		l.notes = NewNotes()
	}
	if l.log == nil {
		l.log = logger.Nop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Index exposes the working set, e.g. as the snapshot for queued patches.
func (l *Library) Index() *Index { return l.index }

// Load refreshes the working set from the cache (or Pinboard) and replays
// pending queued edits on top.
func (l *Library) Load(ctx context.Context) (cache.Status, error) {
	list, status, err := cache.Fetch(ctx, l.cache, l.bookmarksKey, func(ctx context.Context) ([]domain.Bookmark, error) {
		return l.remote.GetAllBookmarks(ctx, pinboard.Filter{})
	})
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	actions, err := l.queue.Pending(ctx)
	if err != nil {
		return status, fmt.Errorf("list pending actions: %w", err)
	}
	l.index.Replace(overlay(list, actions))
	return status, nil
}

// Tags returns tag counts, cached like the bookmark list.
func (l *Library) Tags(ctx context.Context) (map[string]int, cache.Status, error) {
	return cache.Fetch(ctx, l.cache, l.tagsKey, l.remote.GetTags)
}

// Confirm folds an action Pinboard accepted into the cached list, so it is
// still visible once it leaves the queue. It is wired as the queue's
// OnDone hook.
func (l *Library) Confirm(ctx context.Context, a domain.QueuedAction) {
	err := cache.UpdateJSON(ctx, l.cache, l.bookmarksKey, func(list []domain.Bookmark) []domain.Bookmark {
		return overlay(list, []domain.QueuedAction{a})
	})
	if err != nil {
		l.log.Warn("could not fold confirmed action into cache",
			logger.String("id", a.ID), logger.Error(err))
	}
	if a.Type == domain.ActionAdd || a.Type == domain.ActionUpdate || a.Type == domain.ActionDelete {
		if err := l.cache.Invalidate(ctx, l.tagsKey); err != nil {
			l.log.Debug("tags cache invalidation failed", logger.Error(err))
		}
	}
}

// ─────────────────────────────
// Views
// ─────────────────────────────

// Item is a bookmark as rendered by the front end.
type Item struct {
	domain.Bookmark
	NotesHTML string `json:"notesHtml,omitempty"`
	Folder    string `json:"folder,omitempty"`
	Pending   bool   `json:"pending,omitempty"`
}

// Group is one folder of the folders layout.
type Group struct {
	Folder string `json:"folder"`
	Items  []Item `json:"items"`
}

type View struct {
	Layout Layout       `json:"layout"`
	Sort   Sort         `json:"sort"`
	Filter Filter       `json:"filter"`
	Q      string       `json:"q,omitempty"`
	Tag    string       `json:"tag,omitempty"`
	Total  int          `json:"total"`
	Source cache.Status `json:"source"`
	Items  []Item       `json:"items,omitempty"`
	Groups []Group      `json:"groups,omitempty"`
}

// View loads the working set and shapes it for q.
func (l *Library) View(ctx context.Context, q Query) (View, error) {
	status, err := l.Load(ctx)
	if err != nil {
		return View{}, err
	}
	if q.Filter == "" {
		q.Filter = FilterAll
	}
	if q.Layout == "" {
		q.Layout = LayoutList
	}

	list := apply(l.index.All(), q)
	v := View{
		Layout: q.Layout,
		Sort:   q.Sort,
		Filter: q.Filter,
		Q:      q.Q,
		Tag:    q.Tag,
		Total:  len(list),
		Source: status,
	}
	if v.Sort == "" {
		v.Sort = SortNewest
		if q.Q != "" {
			v.Sort = SortRelevance
		}
	}

	items := make([]Item, 0, len(list))
	for _, b := range page(list, q.Offset, q.Limit) {
		items = append(items, l.item(b, q.Layout))
	}

	if q.Layout == LayoutFolders {
		v.Groups = groupByFolder(items)
		return v, nil
	}
	v.Items = items
	return v, nil
}

func (l *Library) item(b domain.Bookmark, layout Layout) Item {
	it := Item{Bookmark: b, Pending: b.IsTemporary()}
	if l.folders != nil {
		it.Folder = l.folders.Folder(b.URL)
	}
	// compact rows never show notes
	if layout != LayoutCompact && b.Extended != "" {
		html, err := l.notes.Render(b.Extended)
		if err != nil {
			l.log.Debug("notes rendering failed", logger.String("hash", b.Hash), logger.Error(err))
		}
		it.NotesHTML = html
	}
	return it
}

// groupByFolder keeps the item order inside each folder. Folders are sorted
// by name with Unsorted last.
func groupByFolder(items []Item) []Group {
	groups := map[string][]Item{}
	var names []string
	for _, it := range items {
		name := it.Folder
		if name == "" {
			name = Unsorted
		}
		if _, ok := groups[name]; !ok && name != Unsorted {
			names = append(names, name)
		}
		groups[name] = append(groups[name], it)
	}
	sortStrings(names)
	if _, ok := groups[Unsorted]; ok {
		names = append(names, Unsorted)
	}

	out := make([]Group, 0, len(names))
	for _, name := range names {
		out = append(out, Group{Folder: name, Items: groups[name]})
	}
	return out
}

// SetFolder files the bookmark at rawURL under folder; an empty folder
// clears the mapping.
func (l *Library) SetFolder(rawURL, folder string) error {
	if l.folders == nil {
		return errors.New("folders are not configured")
	}
	if err := domain.ValidateURL(rawURL); err != nil {
		return err
	}
	return l.folders.SetFolder(rawURL, folder)
}

// ─────────────────────────────
// Optimistic edits
// ─────────────────────────────

// Change is the outcome of an edit. Queued means Pinboard has not confirmed
// it yet; it will be replayed by the offline queue.
type Change struct {
	Bookmark domain.Bookmark `json:"bookmark"`
	Queued   bool            `json:"queued"`
	ActionID string          `json:"actionId"`
}

// Add saves a new bookmark. The returned bookmark carries a temporary hash
// until the next reload.
func (l *Library) Add(ctx context.Context, p domain.AddParams) (Change, error) {
	p.Replace = false
	if err := p.Validate(); err != nil {
		return Change{}, err
	}
	if _, ok := l.index.GetByURL(p.URL); ok {
		return Change{}, fmt.Errorf("%w: %s", ErrExists, p.URL)
	}

	b := fromParams(p, domain.TempHashPrefix+uuid.NewString(), l.now())
	payload := domain.SavePayloadFrom(p)
	payload.Hash = b.Hash

	return l.mutate(ctx, domain.ActionAdd, payload, b,
		func() { l.index.Put(b) },
		func() { l.index.Delete(b.Hash) },
	)
}

// Update resubmits every field of the bookmark with hash. The URL is the
// remote key and cannot change.
func (l *Library) Update(ctx context.Context, hash string, p domain.AddParams) (Change, error) {
	prev, ok := l.index.Get(hash)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if p.URL == "" {
		p.URL = prev.URL
	}
	if p.URL != prev.URL {
		return Change{}, fmt.Errorf("%w: url cannot change, delete and add instead", domain.ErrValidation)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = prev.CreatedAt
	}
	// replace=yes resets omitted flags remotely, so resend the current ones
	if p.Shared == nil {
		shared := prev.IsShared
		p.Shared = &shared
	}
	if p.ToRead == nil {
		toRead := !prev.IsRead
		p.ToRead = &toRead
	}
	p.Replace = true
	if err := p.Validate(); err != nil {
		return Change{}, err
	}

	next := fromParams(p, prev.Hash, l.now())
	payload := domain.SavePayloadFrom(p)
	payload.Hash = prev.Hash

	return l.mutate(ctx, domain.ActionUpdate, payload, next,
		func() { l.index.Put(next) },
		func() { l.index.Put(prev) },
	)
}

// Delete removes the bookmark at rawURL.
func (l *Library) Delete(ctx context.Context, rawURL string) (Change, error) {
	if err := domain.ValidateURL(rawURL); err != nil {
		return Change{}, err
	}
	prev, ok := l.index.GetByURL(rawURL)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	return l.mutate(ctx, domain.ActionDelete, domain.DeletePayload{URL: rawURL}, prev,
		func() { l.index.Delete(prev.Hash) },
		func() { l.index.Put(prev) },
	)
}

func (l *Library) MarkRead(ctx context.Context, hash string, isRead bool) (Change, error) {
	return l.flag(ctx, domain.ActionMarkRead, hash, isRead)
}

func (l *Library) MarkShared(ctx context.Context, hash string, isShared bool) (Change, error) {
	return l.flag(ctx, domain.ActionMarkShared, hash, isShared)
}

func (l *Library) flag(ctx context.Context, typ domain.ActionType, hash string, value bool) (Change, error) {
	prev, ok := l.index.Get(hash)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	next := prev
	if typ == domain.ActionMarkRead {
		next.IsRead = value
	} else {
		next.IsShared = value
	}
	payload := domain.FlagPayload{Hash: prev.Hash, URL: prev.URL, Value: value}

	return l.mutate(ctx, typ, payload, next,
		func() { l.index.Put(next) },
		func() { l.index.Put(prev) },
	)
}

// BulkResult reports a bulk edit item by item. Failed items were rolled back.
type BulkResult struct {
	Changed []Change          `json:"changed"`
	Failed  map[string]string `json:"failed,omitempty"` // hash -> error
}

// BulkMarkRead flips the read flag of every hash. Each item is applied and,
// on a confirmed failure, rolled back on its own.
func (l *Library) BulkMarkRead(ctx context.Context, hashes []string, isRead bool) BulkResult {
	res := BulkResult{Changed: make([]Change, 0, len(hashes))}
	for _, hash := range hashes {
		ch, err := l.MarkRead(ctx, hash, isRead)
		if err != nil {
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[hash] = err.Error()
			continue
		}
		res.Changed = append(res.Changed, ch)
	}
	return res
}

// mutate applies an edit locally, queues it and rolls it back when Pinboard
// rejects it for good. Transient failures keep the edit and the action.
func (l *Library) mutate(ctx context.Context, typ domain.ActionType, payload any, result domain.Bookmark, apply, rollback func()) (Change, error) {
	l.mu.Lock()
	apply()
	res, err := l.queue.Enqueue(ctx, typ, payload)
	l.mu.Unlock()

	if err != nil {
		rollback()
		return Change{}, err
	}

	if res.Err != nil && !stillQueued(res.Err) {
		rollback()
		if rerr := l.queue.Remove(ctx, res.Action.ID); rerr != nil {
			l.log.Warn("could not remove rejected action", logger.String("id", res.Action.ID), logger.Error(rerr))
		}
		l.log.Info("edit rolled back",
			logger.String("type", string(typ)),
			logger.String("url", result.URL),
			logger.Error(res.Err))
		return Change{}, res.Err
	}

	return Change{Bookmark: result, Queued: !res.Done, ActionID: res.Action.ID}, nil
}

// stillQueued reports failures worth another drain.
func stillQueued(err error) bool {
	return pinboard.IsTransient(err) || errors.Is(err, pinboard.ErrRateLimit)
}
