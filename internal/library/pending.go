package library

import (
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

// overlay applies queued actions on top of a remote list so edits made
// while offline survive a reload. Applying an action the list already
// reflects is a no-op.
func overlay(list []domain.Bookmark, actions []domain.QueuedAction) []domain.Bookmark {
	if len(actions) == 0 {
		return list
	}
	idx := NewIndex()
	for _, b := range list {
		idx.put(b)
	}
	for _, a := range actions {
		applyAction(idx, a)
	}
	return idx.All()
}

// applyAction mutates idx the way a successful replay of a would mutate the
// remote store. Undecodable payloads are skipped.
func applyAction(idx *Index, a domain.QueuedAction) {
	switch a.Type {
	case domain.ActionAdd, domain.ActionUpdate:
		var p domain.SavePayload
		if a.Decode(&p) != nil {
			return
		}
		hash := p.Hash
		if hash == "" {
			hash = domain.TempHashPrefix + a.ID
		}
		if cur, ok := idx.GetByURL(p.URL); ok {
			hash = cur.Hash
			if p.CreatedAt.IsZero() {
				p.CreatedAt = cur.CreatedAt
			}
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = a.CreatedAt
		}
		idx.Put(fromParams(p.Params(a.Type == domain.ActionUpdate), hash, a.CreatedAt))

	case domain.ActionDelete:
		var p domain.DeletePayload
		if a.Decode(&p) != nil {
			return
		}
		if cur, ok := idx.GetByURL(p.URL); ok {
			idx.Delete(cur.Hash)
		}

	case domain.ActionMarkRead, domain.ActionMarkShared:
		var p domain.FlagPayload
		if a.Decode(&p) != nil {
			return
		}
		cur, ok := idx.GetByURL(p.URL)
		if !ok {
			cur, ok = idx.Get(p.Hash)
		}
		if !ok {
			return
		}
		if a.Type == domain.ActionMarkRead {
			cur.IsRead = p.Value
		} else {
			cur.IsShared = p.Value
		}
		idx.Put(cur)
	}
}

// fromParams builds the bookmark a submission produces. Pinboard defaults
// apply to unset flags: shared, unread off.
func fromParams(p domain.AddParams, hash string, now time.Time) domain.Bookmark {
	b := domain.Bookmark{
		Hash:        hash,
		URL:         p.URL,
		Description: p.Description,
		Extended:    p.Extended,
		Tags:        append([]string(nil), p.Tags...),
		CreatedAt:   p.CreatedAt,
		IsRead:      true,
		IsShared:    true,
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if p.ToRead != nil {
		b.IsRead = !*p.ToRead
	}
	if p.Shared != nil {
		b.IsShared = *p.Shared
	}
	return b
}
