package library

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Notes renders the free-text "extended" field as sanitized HTML.
type Notes struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

func NewNotes() *Notes {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,     // tables, strikethrough, autolinks, task lists
			extension.Linkify, // bare URLs in notes become links
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)

	return &Notes{markdown: md, policy: policy}
}

// Render converts markdown to HTML safe to embed in the page.
func (n *Notes) Render(src string) (string, error) {
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := n.markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render notes: %w", err)
	}
	return n.policy.Sanitize(buf.String()), nil
}
