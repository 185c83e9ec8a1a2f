package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/library"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
	"github.com/MrSnakeDoc/pinbook/internal/session"
)

// ListBookmarks renders the library view for
// ?q=&tag=&filter=&sort=&layout=&offset=&limit=. Empty sort and layout fall
// back to the saved UI prefs.
func ListBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r, d)
		if err != nil {
			writeError(w, d, err)
			return
		}
		s, err := resolveSession(d, r)
		if err != nil {
			writeError(w, d, err)
			return
		}
		view, err := s.Library.View(r.Context(), q)
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func parseQuery(r *http.Request, d deps.Deps) (library.Query, error) {
	v := r.URL.Query()
	q := library.Query{
		Q:   strings.TrimSpace(v.Get("q")),
		Tag: strings.TrimSpace(v.Get("tag")),
	}

	var saved struct{ layout, sort string }
	if d.Prefs != nil {
		ui := d.Prefs.UI()
		saved.layout = ui.Layout
		// a search ranks by relevance unless the request asks otherwise
		if q.Q == "" {
			saved.sort = ui.Sort
		}
	}

	var err error
	if q.Filter, err = library.ParseFilter(v.Get("filter")); err != nil {
		return q, err
	}
	if q.Sort, err = library.ParseSort(firstNonEmpty(v.Get("sort"), saved.sort)); err != nil {
		return q, err
	}
	if q.Layout, err = library.ParseLayout(firstNonEmpty(v.Get("layout"), saved.layout)); err != nil {
		return q, err
	}
	if q.Offset, err = nonNegative(v.Get("offset"), "offset"); err != nil {
		return q, err
	}
	if q.Limit, err = nonNegative(v.Get("limit"), "limit"); err != nil {
		return q, err
	}
	return q, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonNegative(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, name)
	}
	return n, nil
}

// bookmarkRequest is the body of POST and PUT. Tags may be sent as a list
// or as a space separated string.
type bookmarkRequest struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	Extended    string `json:"extended"`
	Tags        tags   `json:"tags"`
	Shared      *bool  `json:"shared"`
	ToRead      *bool  `json:"toRead"`
}

type tags []string

func (t *tags) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = list
		return nil
	}
	var text string
	if err := json.Unmarshal(b, &text); err != nil {
		return errors.New("tags must be a list or a string")
	}
	*t = domain.ParseTags(text)
	return nil
}

func (b bookmarkRequest) params() domain.AddParams {
	return domain.AddParams{
		URL:         strings.TrimSpace(b.URL),
		Description: strings.TrimSpace(b.Description),
		Extended:    b.Extended,
		Tags:        []string(b.Tags),
		Shared:      b.Shared,
		ToRead:      b.ToRead,
	}
}

// warm loads the working set so edits are checked against it. Without
// connectivity the edit goes ahead against whatever is local.
func warm(r *http.Request, s *session.Session) error {
	if _, err := s.Library.Load(r.Context()); err != nil && !pinboard.IsTransient(err) {
		return err
	}
	return nil
}

// writeChange answers 201/200 when Pinboard confirmed the edit and 202 when
// it was queued.
func writeChange(w http.ResponseWriter, ch library.Change, confirmed int) {
	status := confirmed
	if ch.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, ch)
}

func AddBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bookmarkRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s, err := resolveSession(d, r)
		if err != nil {
			writeError(w, d, err)
			return
		}
		if err := warm(r, s); err != nil {
			writeError(w, d, err)
			return
		}
		ch, err := s.Library.Add(r.Context(), req.params())
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeChange(w, ch, http.StatusCreated)
	}
}

func UpdateBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bookmarkRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s, err := resolveSession(d, r)
		if err != nil {
			writeError(w, d, err)
			return
		}
		if err := warm(r, s); err != nil {
			writeError(w, d, err)
			return
		}
		ch, err := s.Library.Update(r.Context(), chi.URLParam(r, "hash"), req.params())
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeChange(w, ch, http.StatusOK)
	}
}

type patchRequest struct {
	IsRead   *bool `json:"isRead"`
	IsShared *bool `json:"isShared"`
}

// PatchBookmark flips the read and/or shared flag.
func PatchBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req patchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.IsRead == nil && req.IsShared == nil {
			badRequest(w, "isRead or isShared is required")
			return
		}
		s, err := resolveSession(d, r)
		if err != nil {
			writeError(w, d, err)
			return
		}
		ctx := r.Context()
		if err := warm(r, s); err != nil {
			writeError(w, d, err)
			return
		}

		hash := chi.URLParam(r, "hash")
		var ch library.Change
		if req.IsRead != nil {
			if ch, err = s.Library.MarkRead(ctx, hash, *req.IsRead); err != nil {
				writeError(w, d, err)
				return
			}
		}
		if req.IsShared != nil {
			queued := ch.Queued
			if ch, err = s.Library.MarkShared(ctx, hash, *req.IsShared); err != nil {
				writeError(w, d, err)
				return
			}
			ch.Queued = ch.Queued || queued
		}
		writeChange(w, ch, http.StatusOK)
	}
}

// DeleteBookmark handles DELETE /api/bookmarks?url=.
func DeleteBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
		if rawURL == "" {
			badRequest(w, "url is required")
			return
		}
		s, err := resolveSession(d, r)
		if err != nil {
			writeError(w, d, err)
			return
		}
		if err := warm(r, s); err != nil {
			writeError(w, d, err)
			return
		}
		ch, err := s.Library.Delete(r.Context(), rawURL)
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeChange(w, ch, http.StatusOK)
	}
}

type bulkReadRequest struct {
	Hashes []string `json:"hashes"`
	IsRead bool     `json:"isRead"`
}

func BulkMarkRead(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkReadRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Hashes) == 0 {
			badRequest(w, "hashes is required")
			return
		}
		s, err := resolveSession(d, r)
		if err != nil {
			writeError(w, d, err)
			return
		}
		if err := warm(r, s); err != nil {
			writeError(w, d, err)
			return
		}
		res := s.Library.BulkMarkRead(r.Context(), req.Hashes, req.IsRead)
		status := http.StatusOK
		if len(res.Changed) == 0 {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, res)
	}
}

type folderRequest struct {
	URL    string `json:"url"`
	Folder string `json:"folder"`
}

// SetFolder stores the local-only folder of a URL. An empty folder clears it.
func SetFolder(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req folderRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s, err := resolveSession(d, r)
		if err != nil {
			writeError(w, d, err)
			return
		}
		if err := s.Library.SetFolder(strings.TrimSpace(req.URL), req.Folder); err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

type tagsResponse struct {
	Tags   map[string]int `json:"tags"`
	Source string         `json:"source"`
}

func Tags(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := resolveSession(d, r)
		if err != nil {
			writeError(w, d, err)
			return
		}
		tags, status, err := s.Library.Tags(r.Context())
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, tagsResponse{Tags: tags, Source: string(status)})
	}
}
