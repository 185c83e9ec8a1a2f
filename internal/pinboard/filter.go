package pinboard

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

// Filter narrows posts/all. The zero value fetches everything.
type Filter struct {
	Tags     []string // up to 3, all must match
	Start    int
	Results  int // 0 = no limit
	FromDate time.Time
	ToDate   time.Time
}

// IsZero reports whether the filter fetches the full set.
func (f Filter) IsZero() bool {
	return len(f.Tags) == 0 && f.Start == 0 && f.Results == 0 && f.FromDate.IsZero() && f.ToDate.IsZero()
}

func (f Filter) values() url.Values {
	v := url.Values{}
	if len(f.Tags) > 0 {
		v.Set("tag", strings.Join(f.Tags, " "))
	}
	if f.Start > 0 {
		v.Set("start", strconv.Itoa(f.Start))
	}
	if f.Results > 0 {
		v.Set("results", strconv.Itoa(f.Results))
	}
	if !f.FromDate.IsZero() {
		v.Set("fromdt", f.FromDate.UTC().Format(timeLayout))
	}
	if !f.ToDate.IsZero() {
		v.Set("todt", f.ToDate.UTC().Format(timeLayout))
	}
	return v
}

// Apply evaluates the filter locally, the same way posts/all would. It is
// used when a snapshot stands in for the remote answer.
func (f Filter) Apply(in []domain.Bookmark) []domain.Bookmark {
	if f.IsZero() {
		return in
	}
	out := make([]domain.Bookmark, 0, len(in))
	for _, b := range in {
		if !f.FromDate.IsZero() && b.CreatedAt.Before(f.FromDate) {
			continue
		}
		if !f.ToDate.IsZero() && b.CreatedAt.After(f.ToDate) {
			continue
		}
		if !hasAllTags(b, f.Tags) {
			continue
		}
		out = append(out, b)
	}
	if f.Start > 0 {
		if f.Start >= len(out) {
			return []domain.Bookmark{}
		}
		out = out[f.Start:]
	}
	if f.Results > 0 && f.Results < len(out) {
		out = out[:f.Results]
	}
	return out
}

func hasAllTags(b domain.Bookmark, tags []string) bool {
	for _, t := range tags {
		if !b.HasTag(t) {
			return false
		}
	}
	return true
}
