package library

import (
	"sync"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

// Index is the in-memory working set of a session's bookmarks, keyed by hash
// with a secondary lookup by URL. Optimistic edits land here first.
type Index struct {
	mu         sync.RWMutex
	bookmarks  map[string]domain.Bookmark // hash -> bookmark
	byURL      map[string]string          // url -> hash
	lastReload time.Time
}

func NewIndex() *Index {
	return &Index{
		bookmarks: make(map[string]domain.Bookmark),
		byURL:     make(map[string]string),
	}
}

// Replace swaps the whole working set.
func (idx *Index) Replace(bookmarks []domain.Bookmark) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.bookmarks = make(map[string]domain.Bookmark, len(bookmarks))
	idx.byURL = make(map[string]string, len(bookmarks))
	for _, b := range bookmarks {
		idx.put(b)
	}
	idx.lastReload = time.Now()
}

func (idx *Index) Get(hash string) (domain.Bookmark, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	b, ok := idx.bookmarks[hash]
	return b, ok
}

func (idx *Index) GetByURL(rawURL string) (domain.Bookmark, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hash, ok := idx.byURL[rawURL]
	if !ok {
		return domain.Bookmark{}, false
	}
	return idx.bookmarks[hash], true
}

// All returns a copy of every bookmark, in no particular order.
func (idx *Index) All() []domain.Bookmark {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]domain.Bookmark, 0, len(idx.bookmarks))
	for _, b := range idx.bookmarks {
		out = append(out, b)
	}
	return out
}

// Put adds or replaces b. A bookmark with the same URL under another hash is
// replaced too, since URLs are unique remotely.
func (idx *Index) Put(b domain.Bookmark) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.put(b)
}

func (idx *Index) put(b domain.Bookmark) {
	if old, ok := idx.byURL[b.URL]; ok && old != b.Hash {
		delete(idx.bookmarks, old)
	}
	if prev, ok := idx.bookmarks[b.Hash]; ok && prev.URL != b.URL {
		delete(idx.byURL, prev.URL)
	}
	b.Tags = append([]string(nil), b.Tags...)
	idx.bookmarks[b.Hash] = b
	idx.byURL[b.URL] = b.Hash
}

// Delete removes the bookmark with hash and returns it.
func (idx *Index) Delete(hash string) (domain.Bookmark, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	b, ok := idx.bookmarks[hash]
	if !ok {
		return domain.Bookmark{}, false
	}
	delete(idx.bookmarks, hash)
	delete(idx.byURL, b.URL)
	return b, true
}

func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.bookmarks)
}

// LastReload returns when Replace last ran.
func (idx *Index) LastReload() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.lastReload
}
