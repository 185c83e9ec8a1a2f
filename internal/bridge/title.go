package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/utils"
	"github.com/MrSnakeDoc/pinbook/internal/version"
)

const maxPageBytes = 1 << 20

// TitleFetcher extracts a page title for a chat-submitted link. It is best
// effort: every failure falls back to the URL itself.
type TitleFetcher struct {
	client  *http.Client
	timeout time.Duration
}

func NewTitleFetcher(timeout time.Duration) *TitleFetcher {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &TitleFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		timeout: timeout,
	}
}

// Title never fails; it returns rawURL when no title can be found.
func (f *TitleFetcher) Title(ctx context.Context, rawURL string) string {
	title, err := f.fetch(ctx, rawURL)
	if err != nil || title == "" {
		return truncate(rawURL, domain.MaxDescriptionLen)
	}
	return title
}

func (f *TitleFetcher) fetch(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer utils.CloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mt != "text/html" && mt != "application/xhtml+xml" {
		return "", errors.New("not html: " + mt)
	}
	return extractTitle(io.LimitReader(resp.Body, maxPageBytes))
}

// extractTitle returns the cleaned text of the first <title>, falling back
// to an og:title meta tag.
func extractTitle(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var title, ogTitle string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				title = cleanTitle(textContent(n))
				return
			case "meta":
				if ogTitle == "" && getAttr(n, "property") == "og:title" {
					ogTitle = cleanTitle(getAttr(n, "content"))
				}
			case "svg":
				// <title> inside inline SVG is not the page title
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if title == "" {
		title = ogTitle
	}
	return title, nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// cleanTitle collapses whitespace and caps the length to what Pinboard
// accepts as a description.
func cleanTitle(s string) string {
	return truncate(strings.Join(strings.Fields(s), " "), domain.MaxDescriptionLen)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
