package pinboard

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinels for errors.Is. Every failure returned by Client wraps exactly one
// of them (or domain.ErrValidation for local rejections).
var (
	ErrAuth      = errors.New("pinboard: credential rejected")
	ErrRateLimit = errors.New("pinboard: rate limited")
	ErrServer    = errors.New("pinboard: server error")
	ErrNetwork   = errors.New("pinboard: network error")
	ErrOffline   = errors.New("pinboard: offline")
	ErrFormat    = errors.New("pinboard: unexpected response format")
	ErrRejected  = errors.New("pinboard: request rejected")
	ErrNotFound  = errors.New("pinboard: bookmark not found")
)

// Kind classifies a remote failure.
type Kind int

const (
	KindAuth Kind = iota + 1
	KindRateLimit
	KindServer
	KindNetwork
	KindOffline
	KindFormat
	KindRejected
)

func (k Kind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuth
	case KindRateLimit:
		return ErrRateLimit
	case KindServer:
		return ErrServer
	case KindNetwork:
		return ErrNetwork
	case KindOffline:
		return ErrOffline
	case KindFormat:
		return ErrFormat
	case KindRejected:
		return ErrRejected
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return strings.TrimPrefix(s.Error(), "pinboard: ")
	}
	return "unknown"
}

// Error is the typed failure carried by every remote call.
type Error struct {
	Kind       Kind
	Op         string // endpoint, e.g. "posts/add"
	StatusCode int    // upstream HTTP status, 0 when no response was received
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("pinboard ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsRetryable reports whether err is worth retrying transparently.
// Rate limits are deliberately excluded: the caller must back off.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServer) || errors.Is(err, ErrNetwork)
}

// IsTransient reports whether a failed mutation should stay queued rather
// than be treated as a confirmed rejection.
func IsTransient(err error) bool {
	return errors.Is(err, ErrOffline) || IsRetryable(err)
}

// IsAlreadyExists matches the rejection posts/add returns for replace=no on
// a URL that is already saved.
func IsAlreadyExists(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindRejected || pe.Err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(pe.Err.Error()), "already exists")
}

// IsItemNotFound matches the rejection posts/delete returns for an unknown URL.
func IsItemNotFound(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindRejected || pe.Err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(pe.Err.Error()), "not found")
}

// RetryAfter extracts the back-off hint of a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindRateLimit {
		return pe.RetryAfter, true
	}
	return 0, false
}

// classifyStatus maps a non-2xx upstream status to an error kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindServer
	default:
		return KindRejected
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
