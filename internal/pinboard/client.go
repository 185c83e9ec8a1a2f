// Package pinboard is the single point of contact with the Pinboard v1 API.
// It translates the wire format into domain bookmarks, classifies failures
// and retries idempotent reads.
package pinboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/retry"
	"github.com/MrSnakeDoc/pinbook/internal/utils"
	"github.com/MrSnakeDoc/pinbook/internal/version"
)

const DefaultBaseURL = "https://api.pinboard.in/v1"

// maxBody bounds any upstream answer; a large posts/all is a few MiB.
const maxBody = 64 << 20

// Connectivity tells the client whether it is worth sending a request.
type Connectivity interface {
	Online() bool
}

// Observer is optionally implemented by a Connectivity source that wants to
// learn from real request outcomes.
type Observer interface {
	Observe(err error)
}

// SnapshotStore keeps the last full bookmark list for offline reads.
type SnapshotStore interface {
	Save(ctx context.Context, key string, v any) error
	Load(ctx context.Context, key string, v any) (time.Time, bool, error)
}

type Options struct {
	BaseURL        string
	Token          string
	HTTP           *http.Client
	Timeout        time.Duration
	ReadRetry      retry.Policy
	Connectivity   Connectivity
	Snapshots      SnapshotStore
	SnapshotMaxAge time.Duration
	Logger         logger.Logger
	Now            func() time.Time
	// OnRejected runs whenever Pinboard answers 401 or 403 for this token.
	OnRejected func()
}

// Client talks to Pinboard on behalf of one credential.
type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	readRetry retry.Policy
	conn      Connectivity
	snapshots SnapshotStore
	maxAge    time.Duration
	log       logger.Logger
	now       func() time.Time
	rejected  func()
}

func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("pinboard: token is empty")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("pinboard: invalid base url: %w", err)
	}

	hc := opts.HTTP
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	policy := opts.ReadRetry
	if policy.MaxAttempts == 0 {
		policy = retry.Default()
	}
	policy.Retryable = IsRetryable

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxAge := opts.SnapshotMaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	c := &Client{
		baseURL:   base,
		token:     opts.Token,
		http:      hc,
		conn:      opts.Connectivity,
		snapshots: opts.Snapshots,
		maxAge:    maxAge,
		log:       log,
		now:       now,
		rejected:  opts.OnRejected,
	}
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.log.Warn("pinboard request failed, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err))
	}
	c.readRetry = policy
	return c, nil
}

// Username is the user part of the credential.
func (c *Client) Username() string {
	if i := strings.IndexByte(c.token, ':'); i > 0 {
		return c.token[:i]
	}
	return ""
}

func (c *Client) online() bool {
	return c.conn == nil || c.conn.Online()
}

func (c *Client) observe(err error) {
	if o, ok := c.conn.(Observer); ok {
		o.Observe(err)
	}
}

// response is a raw upstream answer.
type response struct {
	status      int
	contentType string
	body        []byte
}

// get performs one authenticated request and classifies the outcome. The
// body of a 2xx answer is returned only when it is JSON. Connectivity
// observers hear about transport failures and about any received answer.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (response, error) {
	if !c.online() {
		return response{}, &Error{Kind: KindOffline, Op: endpoint}
	}

	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("auth_token", c.token)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return response{}, fmt.Errorf("pinboard %s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return response{}, ctx.Err()
		}
		perr := &Error{Kind: KindNetwork, Op: endpoint, Err: redactToken(err, c.token)}
		c.observe(perr)
		return response{}, perr
	}
	defer utils.CloseBody(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		perr := &Error{Kind: KindNetwork, Op: endpoint, StatusCode: resp.StatusCode, Err: err}
		c.observe(perr)
		return response{}, perr
	}
	c.observe(nil)

	r := response{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: body}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := classifyStatus(resp.StatusCode)
		perr := &Error{Kind: kind, Op: endpoint, StatusCode: resp.StatusCode}
		if kind == KindAuth && c.rejected != nil {
			c.rejected()
		}
		if kind == KindRateLimit {
			perr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		}
		if msg := strings.TrimSpace(string(body)); msg != "" && len(msg) < 512 {
			perr.Err = errors.New(msg)
		}
		return r, perr
	}
	if !isJSON(r.contentType) {
		return r, &Error{Kind: KindFormat, Op: endpoint, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("content type %q", r.contentType)}
	}
	return r, nil
}

// getJSON performs get and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, v any) error {
	r, err := c.get(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return &Error{Kind: KindFormat, Op: endpoint, StatusCode: r.status, Err: err}
	}
	return nil
}

// redactToken strips the credential out of transport errors, which embed the
// request URL.
func redactToken(err error, token string) error {
	msg := err.Error()
	if token == "" || !strings.Contains(msg, url.QueryEscape(token)) && !strings.Contains(msg, token) {
		return err
	}
	msg = strings.ReplaceAll(msg, url.QueryEscape(token), "REDACTED")
	msg = strings.ReplaceAll(msg, token, "REDACTED")
	return errors.New(msg)
}
