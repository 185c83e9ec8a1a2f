package library

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

// Filter narrows the list by read/visibility state.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterUnread   Filter = "unread"
	FilterUntagged Filter = "untagged"
	FilterShared   Filter = "shared"
	FilterPrivate  Filter = "private"
)

type Sort string

const (
	SortNewest    Sort = "newest"
	SortOldest    Sort = "oldest"
	SortTitle     Sort = "title"
	SortURL       Sort = "url"
	SortRelevance Sort = "relevance" // only meaningful with a search query
)

type Layout string

const (
	LayoutList    Layout = "list"
	LayoutGrid    Layout = "grid"
	LayoutCompact Layout = "compact"
	LayoutFolders Layout = "folders"
)

// Unsorted names the folder group of bookmarks without a folder.
const Unsorted = "Unsorted"

// Query is a view request. Zero values pick the defaults.
type Query struct {
	Q      string
	Tag    string
	Filter Filter
	Sort   Sort
	Layout Layout
	Offset int
	Limit  int
}

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterUnread, FilterUntagged, FilterShared, FilterPrivate:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown filter %q", domain.ErrValidation, s)
}

func ParseSort(s string) (Sort, error) {
	switch v := Sort(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return "", nil
	case SortNewest, SortOldest, SortTitle, SortURL, SortRelevance:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown sort %q", domain.ErrValidation, s)
}

func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return "", nil
	case LayoutList, LayoutGrid, LayoutCompact, LayoutFolders:
		return l, nil
	}
	return "", fmt.Errorf("%w: unknown layout %q", domain.ErrValidation, s)
}

func (f Filter) match(b domain.Bookmark) bool {
	switch f {
	case FilterUnread:
		return !b.IsRead
	case FilterUntagged:
		return len(b.Tags) == 0
	case FilterShared:
		return b.IsShared
	case FilterPrivate:
		return !b.IsShared
	default:
		return true
	}
}

// searchable implements fuzzy.Source over title, URL and tags.
type searchable []domain.Bookmark

func (s searchable) String(i int) string {
	b := s[i]
	return b.Description + " " + b.URL + " " + strings.Join(b.Tags, " ")
}

func (s searchable) Len() int { return len(s) }

// apply filters and orders list. With a search query and no explicit sort,
// results keep the fuzzy match ranking.
func apply(list []domain.Bookmark, q Query) []domain.Bookmark {
	out := make([]domain.Bookmark, 0, len(list))
	for _, b := range list {
		if q.Tag != "" && !b.HasTag(q.Tag) {
			continue
		}
		if !q.Filter.match(b) {
			continue
		}
		out = append(out, b)
	}

	query := strings.TrimSpace(q.Q)
	order := q.Sort
	if query != "" {
		matches := fuzzy.FindFrom(query, searchable(out))
		ranked := make([]domain.Bookmark, len(matches))
		for i, m := range matches {
			ranked[i] = out[m.Index]
		}
		out = ranked
		if order == "" {
			order = SortRelevance
		}
	}
	if order == "" {
		order = SortNewest
	}
	sortBookmarks(out, order)
	return out
}

func sortBookmarks(list []domain.Bookmark, s Sort) {
	var less func(a, b domain.Bookmark) bool
	switch s {
	case SortRelevance:
		return
	case SortOldest:
		less = func(a, b domain.Bookmark) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case SortTitle:
		less = func(a, b domain.Bookmark) bool {
			return strings.ToLower(a.Description) < strings.ToLower(b.Description)
		}
	case SortURL:
		less = func(a, b domain.Bookmark) bool { return a.URL < b.URL }
	default:
		less = func(a, b domain.Bookmark) bool { return a.CreatedAt.After(b.CreatedAt) }
	}
	// stable on URL so equal keys do not shuffle between requests
	sort.SliceStable(list, func(i, j int) bool {
		if less(list[i], list[j]) {
			return true
		}
		if less(list[j], list[i]) {
			return false
		}
		return list[i].URL < list[j].URL
	})
}

func page[T any](list []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []T{}
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

func sortStrings(s []string) {
	sort.Slice(s, func(i, j int) bool { return strings.ToLower(s[i]) < strings.ToLower(s[j]) })
}
