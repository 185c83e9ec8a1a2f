package pinboard

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// relayPrefixes are the API families the relay may reach.
var relayPrefixes = []string{"posts/", "tags/", "user/", "notes/"}

var endpointPattern = regexp.MustCompile(`^[a-z]+/[A-Za-z0-9_/]+$`)

// ValidateEndpoint rejects anything outside the relay whitelist.
func ValidateEndpoint(endpoint string) error {
	if !endpointPattern.MatchString(endpoint) || strings.Contains(endpoint, "//") {
		return fmt.Errorf("%w: invalid endpoint %q", ErrRejected, endpoint)
	}
	for _, p := range relayPrefixes {
		if strings.HasPrefix(endpoint, p) {
			return nil
		}
	}
	return fmt.Errorf("%w: endpoint %q is not allowed", ErrRejected, endpoint)
}

// Forward relays a raw call and returns the upstream JSON verbatim. format
// is always forced to json and the caller's auth_token is replaced by the
// client's own. A non-JSON answer fails with ErrFormat.
func (c *Client) Forward(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	q := url.Values{}
	for k, vs := range params {
		if k == "auth_token" || k == "format" || k == "endpoint" {
			continue
		}
		q[k] = vs
	}
	r, err := c.get(ctx, endpoint, q)
	if err != nil {
		return nil, err
	}
	return r.body, nil
}
