package library

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

func TestParseQueryParams(t *testing.T) {
	f, err := ParseFilter(" Unread ")
	assert.NilError(t, err)
	assert.Equal(t, f, FilterUnread)

	f, err = ParseFilter("")
	assert.NilError(t, err)
	assert.Equal(t, f, FilterAll)

	_, err = ParseFilter("starred")
	assert.Check(t, errors.Is(err, domain.ErrValidation))

	s, err := ParseSort("TITLE")
	assert.NilError(t, err)
	assert.Equal(t, s, SortTitle)
	_, err = ParseSort("random")
	assert.Check(t, errors.Is(err, domain.ErrValidation))

	l, err := ParseLayout("folders")
	assert.NilError(t, err)
	assert.Equal(t, l, LayoutFolders)
	_, err = ParseLayout("masonry")
	assert.Check(t, errors.Is(err, domain.ErrValidation))
}

func queued(t *testing.T, id string, typ domain.ActionType, payload any) domain.QueuedAction {
	t.Helper()
	raw, err := json.Marshal(payload)
	assert.NilError(t, err)
	return domain.QueuedAction{ID: id, Type: typ, Payload: raw, CreatedAt: day0.Add(24 * time.Hour)}
}

func TestOverlay(t *testing.T) {
	remote := []domain.Bookmark{
		{Hash: "a", URL: "https://a.example/", Description: "A", CreatedAt: day0, IsShared: true},
		{Hash: "b", URL: "https://b.example/", Description: "B", CreatedAt: day0},
	}
	toRead := true
	actions := []domain.QueuedAction{
		queued(t, "1", domain.ActionAdd, domain.SavePayload{URL: "https://c.example/", Description: "C", ToRead: &toRead}),
		queued(t, "2", domain.ActionUpdate, domain.SavePayload{Hash: "a", URL: "https://a.example/", Description: "A2", Tags: []string{"x"}}),
		queued(t, "3", domain.ActionDelete, domain.DeletePayload{URL: "https://b.example/"}),
		queued(t, "4", domain.ActionMarkShared, domain.FlagPayload{Hash: "temp-1", URL: "https://c.example/", Value: false}),
		{ID: "5", Type: domain.ActionDelete, Payload: []byte("not json")},
	}

	out := overlay(remote, actions)
	sortBookmarks(out, SortURL)
	assert.Assert(t, is.Len(out, 2))

	a := out[0]
	assert.Equal(t, a.Hash, "a")
	assert.Equal(t, a.Description, "A2")
	assert.DeepEqual(t, a.Tags, []string{"x"})
	assert.Check(t, a.CreatedAt.Equal(day0), "update keeps the remote creation time")

	c := out[1]
	assert.Equal(t, c.Hash, domain.TempHashPrefix+"1")
	assert.Check(t, !c.IsRead)
	assert.Check(t, !c.IsShared)
	assert.Check(t, c.CreatedAt.Equal(day0.Add(24*time.Hour)))

	// replaying the same actions again changes nothing
	again := overlay(out, actions[:4])
	sortBookmarks(again, SortURL)
	assert.DeepEqual(t, again, out)

	// the remote list is not modified in place
	assert.Equal(t, remote[0].Description, "A")
}
