package utils

import (
	"io"
)

// maxDrain bounds how much of an unread body is discarded to keep the
// connection reusable.
const maxDrain = 64 << 10

// CloseBody drains what is left of an HTTP response body (up to 64KiB) and
// closes it, ignoring errors. Meant for defer.
func CloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrain))
	_ = body.Close()
}
