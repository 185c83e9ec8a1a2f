package pinboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard/pinboardtest"
	"github.com/MrSnakeDoc/pinbook/internal/retry"
)

const testToken = "alice:0123456789ABCDEF"

type fakeConn struct {
	mu       sync.Mutex
	online   bool
	observed []error
}

func (f *fakeConn) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeConn) Observe(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, err)
}

func (f *fakeConn) set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = v
}

type memSnapshots struct {
	data    map[string][]byte
	savedAt map[string]time.Time
	now     func() time.Time
}

func newMemSnapshots(now func() time.Time) *memSnapshots {
	return &memSnapshots{data: map[string][]byte{}, savedAt: map[string]time.Time{}, now: now}
}

func (m *memSnapshots) Save(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = b
	m.savedAt[key] = m.now()
	return nil
}

func (m *memSnapshots) Load(_ context.Context, key string, v any) (time.Time, bool, error) {
	b, ok := m.data[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return m.savedAt[key], true, json.Unmarshal(b, v)
}

func newTestClient(t *testing.T, baseURL string, opts Options) *Client {
	t.Helper()
	opts.BaseURL = baseURL
	if opts.Token == "" {
		opts.Token = testToken
	}
	if opts.ReadRetry.MaxAttempts == 0 {
		// no sleeping between attempts
		opts.ReadRetry = retry.Policy{MaxAttempts: 5}
	}
	opts.Timeout = 2 * time.Second
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAddThenGetAllRoundTrip(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	c := newTestClient(t, srv.URL, Options{})
	ctx := context.Background()

	added, err := c.AddBookmark(ctx, domain.AddParams{
		URL:         "https://example.com/a",
		Description: "Example",
		Tags:        domain.ParseTags("a b"),
	})
	if err != nil {
		t.Fatalf("AddBookmark: %v", err)
	}
	if !added.IsTemporary() {
		t.Errorf("added hash = %q, want temporary", added.Hash)
	}

	all, err := c.GetAllBookmarks(ctx, Filter{})
	if err != nil {
		t.Fatalf("GetAllBookmarks: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d bookmarks, want 1", len(all))
	}
	got := all[0]
	if len(got.Tags) != 2 || got.Tags[0] != "a" || got.Tags[1] != "b" {
		t.Errorf("tags = %v, want [a b]", got.Tags)
	}
	if got.IsTemporary() || got.Hash == "" {
		t.Errorf("stored hash = %q, want server assigned", got.Hash)
	}

	q := srv.Requests("posts/add")[0]
	if q.Get("format") != "json" || q.Get("replace") != "no" || q.Get("tags") != "a b" {
		t.Errorf("posts/add query = %v", q)
	}
}

func TestAddBookmarkValidatesBeforeNetwork(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	c := newTestClient(t, srv.URL, Options{})

	_, err := c.AddBookmark(context.Background(), domain.AddParams{URL: "not a url", Description: "x"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if n := srv.Calls("posts/add"); n != 0 {
		t.Errorf("posts/add calls = %d, want 0", n)
	}
}

func TestAddBookmarkAlreadyExists(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	srv.Seed(domain.Bookmark{URL: "https://example.com/", Description: "Example"})
	c := newTestClient(t, srv.URL, Options{})

	_, err := c.AddBookmark(context.Background(), domain.AddParams{URL: "https://example.com/", Description: "Again"})
	if !errors.Is(err, ErrRejected) || !IsAlreadyExists(err) {
		t.Fatalf("err = %v, want already-exists rejection", err)
	}
}

func TestDeleteBookmark(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	srv.Seed(domain.Bookmark{URL: "https://example.com/", Description: "Example"})
	c := newTestClient(t, srv.URL, Options{})
	ctx := context.Background()

	ok, err := c.DeleteBookmark(ctx, "https://example.com/")
	if err != nil || !ok {
		t.Fatalf("DeleteBookmark = %v, %v", ok, err)
	}
	if srv.Len() != 0 {
		t.Errorf("server still holds %d bookmarks", srv.Len())
	}

	ok, err = c.DeleteBookmark(ctx, "https://example.com/")
	if ok || !errors.Is(err, ErrRejected) || !IsItemNotFound(err) {
		t.Errorf("second DeleteBookmark = %v, %v; want item-not-found rejection", ok, err)
	}
}

func TestGetTagsAcceptsStringCounts(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	srv.Seed(
		domain.Bookmark{URL: "https://a.example/", Description: "a", Tags: []string{"go", "web"}},
		domain.Bookmark{URL: "https://b.example/", Description: "b", Tags: []string{"go"}},
	)
	c := newTestClient(t, srv.URL, Options{})

	tags, err := c.GetTags(context.Background())
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if tags["go"] != 2 || tags["web"] != 1 {
		t.Errorf("tags = %v", tags)
	}
}

func TestCountUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want int
		err  bool
	}{
		{in: `3`, want: 3},
		{in: `"12"`, want: 12},
		{in: `""`, want: 0},
		{in: `null`, want: 0},
		{in: `"x"`, err: true},
	}
	for _, tt := range tests {
		var c count
		err := json.Unmarshal([]byte(tt.in), &c)
		if (err != nil) != tt.err {
			t.Errorf("unmarshal %s: err = %v", tt.in, err)
			continue
		}
		if !tt.err && int(c) != tt.want {
			t.Errorf("unmarshal %s = %d, want %d", tt.in, c, tt.want)
		}
	}
}

func TestGetAllRetriesServerErrors(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	srv.Seed(domain.Bookmark{URL: "https://example.com/", Description: "Example"})
	srv.FailNext("posts/all", http.StatusBadGateway, 2)
	c := newTestClient(t, srv.URL, Options{})

	all, err := c.GetAllBookmarks(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("GetAllBookmarks: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d bookmarks", len(all))
	}
	if n := srv.Calls("posts/all"); n != 3 {
		t.Errorf("posts/all calls = %d, want 3", n)
	}
}

func TestGetAllGivesUpAfterFiveAttempts(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	srv.FailNext("posts/all", http.StatusInternalServerError, 10)
	c := newTestClient(t, srv.URL, Options{})

	_, err := c.GetAllBookmarks(context.Background(), Filter{})
	if !errors.Is(err, ErrServer) {
		t.Fatalf("err = %v, want ErrServer", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusInternalServerError {
		t.Errorf("typed error = %+v", pe)
	}
	if n := srv.Calls("posts/all"); n != 5 {
		t.Errorf("posts/all calls = %d, want 5", n)
	}
}

func TestOnRejectedFiresOnAuthFailure(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	ctx := context.Background()

	var rejected int
	bad := newTestClient(t, srv.URL, Options{Token: "alice:WRONG", OnRejected: func() { rejected++ }})
	if _, err := bad.GetTags(ctx); !errors.Is(err, ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if rejected != 1 {
		t.Errorf("rejected = %d, want 1", rejected)
	}

	srv.FailNext("tags/get", http.StatusInternalServerError, 1)
	good := newTestClient(t, srv.URL, Options{OnRejected: func() { rejected++ }})
	if _, err := good.GetTags(ctx); err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if rejected != 1 {
		t.Errorf("rejected = %d after a server error, want 1", rejected)
	}
}

func TestAuthAndRateLimitAreNotRetried(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	ctx := context.Background()

	bad := newTestClient(t, srv.URL, Options{Token: "alice:WRONG"})
	if _, err := bad.GetAllBookmarks(ctx, Filter{}); !errors.Is(err, ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
	if n := srv.Calls("posts/all"); n != 1 {
		t.Errorf("posts/all calls = %d, want 1", n)
	}

	srv.FailNext("tags/get", http.StatusTooManyRequests, 1)
	c := newTestClient(t, srv.URL, Options{})
	_, err := c.GetTags(ctx)
	if !errors.Is(err, ErrRateLimit) {
		t.Fatalf("err = %v, want ErrRateLimit", err)
	}
	if d, ok := RetryAfter(err); !ok || d != 3*time.Second {
		t.Errorf("RetryAfter = %v, %v", d, ok)
	}
	if n := srv.Calls("tags/get"); n != 1 {
		t.Errorf("tags/get calls = %d, want 1", n)
	}
}

func TestOfflineServesFreshSnapshot(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	srv.Seed(
		domain.Bookmark{URL: "https://a.example/", Description: "a", Tags: []string{"go"}},
		domain.Bookmark{URL: "https://b.example/", Description: "b"},
	)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	conn := &fakeConn{online: true}
	snaps := newMemSnapshots(clock)
	c := newTestClient(t, srv.URL, Options{Connectivity: conn, Snapshots: snaps, Now: clock})
	ctx := context.Background()

	if _, err := c.GetAllBookmarks(ctx, Filter{}); err != nil {
		t.Fatalf("online GetAllBookmarks: %v", err)
	}
	if len(conn.observed) == 0 || conn.observed[0] != nil {
		t.Errorf("observed = %v, want a success", conn.observed)
	}

	conn.set(false)
	now = now.Add(23 * time.Hour)

	all, err := c.GetAllBookmarks(ctx, Filter{})
	if err != nil {
		t.Fatalf("offline GetAllBookmarks: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("snapshot size = %d, want 2", len(all))
	}
	tagged, err := c.GetAllBookmarks(ctx, Filter{Tags: []string{"go"}})
	if err != nil || len(tagged) != 1 {
		t.Errorf("filtered snapshot = %v, %v", tagged, err)
	}
	if n := srv.Calls("posts/all"); n != 1 {
		t.Errorf("posts/all calls = %d, want 1", n)
	}

	now = now.Add(2 * time.Hour)
	if _, err := c.GetAllBookmarks(ctx, Filter{}); !errors.Is(err, ErrOffline) {
		t.Errorf("stale snapshot: err = %v, want ErrOffline", err)
	}
}

func TestFilteredFetchDoesNotReplaceSnapshot(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	srv.Seed(domain.Bookmark{URL: "https://a.example/", Description: "a", Tags: []string{"go"}})
	snaps := newMemSnapshots(time.Now)
	c := newTestClient(t, srv.URL, Options{Snapshots: snaps})

	if _, err := c.GetAllBookmarks(context.Background(), Filter{Tags: []string{"go"}}); err != nil {
		t.Fatalf("GetAllBookmarks: %v", err)
	}
	if len(snaps.data) != 0 {
		t.Errorf("filtered fetch saved a snapshot")
	}
}

func TestValidateCredential(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	ctx := context.Background()

	ok, err := newTestClient(t, srv.URL, Options{}).ValidateCredential(ctx)
	if err != nil || !ok {
		t.Errorf("valid token: %v, %v", ok, err)
	}
	ok, err = newTestClient(t, srv.URL, Options{Token: "alice:NOPE"}).ValidateCredential(ctx)
	if err != nil || ok {
		t.Errorf("invalid token: %v, %v", ok, err)
	}
}

func TestValidateCredentialMissingMarker(t *testing.T) {
	srv := http.NewServeMux()
	srv.HandleFunc("/posts/update", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":"alice"}`))
	})
	ts := newHTTPTestServer(t, srv)
	ok, err := newTestClient(t, ts, Options{}).ValidateCredential(context.Background())
	if err != nil || ok {
		t.Errorf("ValidateCredential = %v, %v; want false, nil", ok, err)
	}
}

func TestUpdateReadStatusResubmitsEveryField(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	srv.Seed(domain.Bookmark{
		URL:         "https://example.com/",
		Description: "Example",
		Extended:    "notes",
		Tags:        []string{"x", "y"},
		CreatedAt:   created,
		IsShared:    false,
		IsRead:      false,
	})
	stored, _ := srv.Bookmark("https://example.com/")
	c := newTestClient(t, srv.URL, Options{})

	updated, err := c.UpdateReadStatus(context.Background(), stored.Hash, true, nil)
	if err != nil {
		t.Fatalf("UpdateReadStatus: %v", err)
	}
	if !updated.IsRead || updated.Hash != stored.Hash {
		t.Errorf("updated = %+v", updated)
	}
	if n := srv.Calls("posts/all"); n != 1 {
		t.Errorf("posts/all calls = %d, want 1 (resolve)", n)
	}

	q := srv.Requests("posts/add")[0]
	want := url.Values{
		"url": {"https://example.com/"}, "description": {"Example"}, "extended": {"notes"},
		"tags": {"x y"}, "replace": {"yes"}, "shared": {"no"}, "toread": {"no"},
		"dt": {"2024-05-06T07:08:09Z"},
	}
	for k, v := range want {
		if q.Get(k) != v[0] {
			t.Errorf("posts/add %s = %q, want %q", k, q.Get(k), v[0])
		}
	}
}

func TestPatchUsesSnapshotWhenItHoldsTheHash(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	c := newTestClient(t, srv.URL, Options{})
	snapshot := []domain.Bookmark{{Hash: "h1", URL: "https://example.com/", Description: "Example", IsShared: true}}

	updated, err := c.UpdateShareStatus(context.Background(), "h1", false, snapshot)
	if err != nil {
		t.Fatalf("UpdateShareStatus: %v", err)
	}
	if updated.IsShared {
		t.Errorf("IsShared still true")
	}
	if snapshot[0].IsShared != true {
		t.Errorf("snapshot was mutated")
	}
	if n := srv.Calls("posts/all"); n != 0 {
		t.Errorf("posts/all calls = %d, want 0", n)
	}
}

func TestPatchUnknownHash(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	c := newTestClient(t, srv.URL, Options{})

	_, err := c.Patch(context.Background(), "missing", nil, func(*domain.Bookmark) {})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestForward(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	srv.Seed(domain.Bookmark{URL: "https://example.com/", Description: "Example", Tags: []string{"go"}})
	c := newTestClient(t, srv.URL, Options{})
	ctx := context.Background()

	body, err := c.Forward(ctx, "tags/get", url.Values{"format": {"xml"}, "auth_token": {"someone:else"}})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	var tags map[string]string
	if err := json.Unmarshal(body, &tags); err != nil || tags["go"] != "1" {
		t.Errorf("body = %s (%v)", body, err)
	}
	q := srv.Requests("tags/get")[0]
	if q.Get("format") != "json" || q.Get("auth_token") != testToken {
		t.Errorf("forwarded query = %v", q)
	}

	for _, ep := range []string{"../posts/all", "admin/users", "/posts/all", "posts//all", ""} {
		if _, err := c.Forward(ctx, ep, nil); !errors.Is(err, ErrRejected) {
			t.Errorf("Forward(%q) err = %v, want rejection", ep, err)
		}
	}

	srv.SetContentType("text/xml")
	if _, err := c.Forward(ctx, "tags/get", nil); !errors.Is(err, ErrFormat) {
		t.Errorf("xml answer err = %v, want ErrFormat", err)
	}
}

func TestOfflineSendsNothing(t *testing.T) {
	srv := pinboardtest.NewServer(t, testToken)
	c := newTestClient(t, srv.URL, Options{Connectivity: &fakeConn{online: false}})

	_, err := c.AddBookmark(context.Background(), domain.AddParams{URL: "https://example.com/", Description: "x"})
	if !errors.Is(err, ErrOffline) || !IsTransient(err) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}
	if srv.Calls("posts/add") != 0 {
		t.Errorf("request sent while offline")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-1", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
