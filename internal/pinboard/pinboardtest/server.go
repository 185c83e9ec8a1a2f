// Package pinboardtest provides an in-memory Pinboard API for tests.
package pinboardtest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

type post struct {
	Href        string `json:"href"`
	Description string `json:"description"`
	Extended    string `json:"extended"`
	Meta        string `json:"meta"`
	Hash        string `json:"hash"`
	Time        string `json:"time"`
	Shared      string `json:"shared"`
	ToRead      string `json:"toread"`
	Tags        string `json:"tags"`
}

type failure struct {
	status int
	left   int
}

// Server is a fake Pinboard v1 endpoint backed by a slice of posts.
type Server struct {
	*httptest.Server

	Token string

	mu          sync.Mutex
	posts       []post
	calls       map[string]int
	requests    map[string][]url.Values
	failures    map[string]*failure
	contentType string
	now         func() time.Time
}

// NewServer starts a fake accepting token and closes it with the test.
func NewServer(t testing.TB, token string) *Server {
	t.Helper()
	s := &Server{
		Token:       token,
		calls:       map[string]int{},
		requests:    map[string][]url.Values{},
		failures:    map[string]*failure{},
		contentType: "application/json; charset=utf-8",
		now:         time.Now,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Seed stores bookmarks as if they had been added remotely.
func (s *Server) Seed(bookmarks ...domain.Bookmark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bookmarks {
		p := post{
			Href:        b.URL,
			Description: b.Description,
			Extended:    b.Extended,
			Hash:        b.Hash,
			Time:        b.CreatedAt.UTC().Format(time.RFC3339),
			Shared:      yesNo(b.IsShared),
			ToRead:      yesNo(!b.IsRead),
			Tags:        strings.Join(b.Tags, " "),
		}
		if p.Hash == "" {
			p.Hash = hashURL(b.URL)
		}
		s.upsert(p)
	}
}

// FailNext makes the next n calls to endpoint answer with status.
func (s *Server) FailNext(endpoint string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = &failure{status: status, left: n}
}

// SetContentType overrides the Content-Type of successful answers.
func (s *Server) SetContentType(ct string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contentType = ct
}

// Calls returns how many requests hit endpoint, failed ones included.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// Requests returns the query of every call to endpoint, in order.
func (s *Server) Requests(endpoint string) []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.requests[endpoint]...)
}

// Bookmark returns the stored bookmark for rawURL.
func (s *Server) Bookmark(rawURL string) (domain.Bookmark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.posts {
		if p.Href == rawURL {
			return toBookmark(p), true
		}
	}
	return domain.Bookmark{}, false
}

// Len is the number of stored bookmarks.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimPrefix(r.URL.Path, "/")
	q := r.URL.Query()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[endpoint]++
	s.requests[endpoint] = append(s.requests[endpoint], q)

	if f := s.failures[endpoint]; f != nil && f.left > 0 {
		f.left--
		if f.status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "3")
		}
		http.Error(w, http.StatusText(f.status), f.status)
		return
	}
	if q.Get("auth_token") != s.Token {
		http.Error(w, "401 Forbidden", http.StatusUnauthorized)
		return
	}

	var out any
	switch endpoint {
	case "posts/all":
		out = s.all(q)
	case "posts/add":
		out = s.add(q)
	case "posts/delete":
		out = s.delete(q)
	case "tags/get":
		out = s.tags()
	case "posts/update":
		out = map[string]string{"update_time": s.now().UTC().Format(time.RFC3339)}
	case "user/api_token":
		_, secret, _ := strings.Cut(s.Token, ":")
		out = map[string]string{"result": secret}
	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", s.contentType)
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) all(q url.Values) []post {
	tags := strings.Fields(q.Get("tag"))
	out := make([]post, 0, len(s.posts))
	for _, p := range s.posts {
		if hasTags(p, tags) {
			out = append(out, p)
		}
	}
	if start, _ := strconv.Atoi(q.Get("start")); start > 0 {
		if start >= len(out) {
			return []post{}
		}
		out = out[start:]
	}
	if n, _ := strconv.Atoi(q.Get("results")); n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

func (s *Server) add(q url.Values) map[string]string {
	href := q.Get("url")
	if href == "" || q.Get("description") == "" {
		return map[string]string{"result_code": "missing url"}
	}
	for _, p := range s.posts {
		if p.Href == href && q.Get("replace") == "no" {
			return map[string]string{"result_code": "item already exists"}
		}
	}

	p := post{
		Href:        href,
		Description: q.Get("description"),
		Extended:    q.Get("extended"),
		Hash:        hashURL(href),
		Time:        s.now().UTC().Format(time.RFC3339),
		Shared:      "yes",
		ToRead:      "no",
		Tags:        strings.Join(strings.Fields(q.Get("tags")), " "),
	}
	if dt := q.Get("dt"); dt != "" {
		p.Time = dt
	}
	if v := q.Get("shared"); v != "" {
		p.Shared = v
	}
	if v := q.Get("toread"); v != "" {
		p.ToRead = v
	}
	s.upsert(p)
	return map[string]string{"result_code": "done"}
}

func (s *Server) delete(q url.Values) map[string]string {
	href := q.Get("url")
	for i, p := range s.posts {
		if p.Href == href {
			s.posts = append(s.posts[:i], s.posts[i+1:]...)
			return map[string]string{"result_code": "done"}
		}
	}
	return map[string]string{"result_code": "item not found"}
}

// tags answers counts as strings, the way Pinboard sometimes does.
func (s *Server) tags() map[string]string {
	counts := map[string]int{}
	for _, p := range s.posts {
		for _, t := range strings.Fields(p.Tags) {
			counts[t]++
		}
	}
	out := make(map[string]string, len(counts))
	for t, n := range counts {
		out[t] = strconv.Itoa(n)
	}
	return out
}

func (s *Server) upsert(p post) {
	for i := range s.posts {
		if s.posts[i].Href == p.Href {
			s.posts[i] = p
			return
		}
	}
	// newest first, like posts/all
	s.posts = append([]post{p}, s.posts...)
}

func hasTags(p post, want []string) bool {
	have := strings.Fields(p.Tags)
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func toBookmark(p post) domain.Bookmark {
	created, _ := time.Parse(time.RFC3339, p.Time)
	return domain.Bookmark{
		Hash:        p.Hash,
		URL:         p.Href,
		Description: p.Description,
		Extended:    p.Extended,
		Tags:        strings.Fields(p.Tags),
		CreatedAt:   created,
		IsRead:      p.ToRead != "yes",
		IsShared:    p.Shared != "no",
	}
}

func hashURL(u string) string {
	sum := md5.Sum([]byte(u))
	return hex.EncodeToString(sum[:])
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
