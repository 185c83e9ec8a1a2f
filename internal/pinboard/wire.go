package pinboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
)

// timeLayout is the ISO 8601 form Pinboard uses for dt, fromdt and todt.
const timeLayout = "2006-01-02T15:04:05Z"

// post is a bookmark as returned by posts/all and posts/get.
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

func (p post) toBookmark() domain.Bookmark {
	created, _ := time.Parse(time.RFC3339, p.Time)
	return domain.Bookmark{
		Hash:        p.Hash,
		URL:         p.Href,
		Description: p.Description,
		Extended:    p.Extended,
		Tags:        domain.ParseTags(p.Tags),
		CreatedAt:   created,
		IsRead:      p.ToRead != "yes",
		IsShared:    p.Shared != "no",
	}
}

// result is the envelope of write endpoints ({"result_code":"done"}).
type result struct {
	ResultCode string `json:"result_code"`
	// posts/delete on older API versions answers {"result":"done"}.
	Result string `json:"result"`
}

func (r result) code() string {
	if r.ResultCode != "" {
		return r.ResultCode
	}
	return r.Result
}

// updateTime is the answer of posts/update.
type updateTime struct {
	UpdateTime string `json:"update_time"`
}

// count is a tag count that unmarshals from a JSON number or string.
type count int

func (c *count) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*c = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("parse tag count from %q: %w", s, err)
		}
		*c = count(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("parse tag count from %q: %w", n.String(), err)
	}
	*c = count(v)
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// isJSON reports whether a Content-Type header announces a JSON body.
// Pinboard historically labels JSON as text/json, so any "json" subtype or
// suffix is accepted.
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasSuffix(mt, "/json") || strings.HasSuffix(mt, "+json")
}
