package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/library"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
	"github.com/MrSnakeDoc/pinbook/internal/session"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "no credential", err: session.ErrNoCredential, status: http.StatusUnauthorized, code: "unauthorized"},
		{name: "validation", err: fmt.Errorf("%w: url is required", domain.ErrValidation), status: http.StatusBadRequest, code: "validation_failed"},
		{name: "unknown bookmark", err: fmt.Errorf("%w: abc", library.ErrNotFound), status: http.StatusNotFound, code: "not_found"},
		{name: "duplicate", err: library.ErrExists, status: http.StatusConflict, code: "already_exists"},
		{name: "offline", err: &pinboard.Error{Kind: pinboard.KindOffline}, status: http.StatusServiceUnavailable, code: "offline"},
		{name: "auth", err: &pinboard.Error{Kind: pinboard.KindAuth, StatusCode: 401}, status: http.StatusUnauthorized, code: "unauthorized"},
		{name: "rate limit", err: &pinboard.Error{Kind: pinboard.KindRateLimit, StatusCode: 429}, status: http.StatusTooManyRequests, code: "rate_limited"},
		{name: "server", err: &pinboard.Error{Kind: pinboard.KindServer, StatusCode: 503}, status: http.StatusBadGateway, code: "upstream_error"},
		{name: "network", err: &pinboard.Error{Kind: pinboard.KindNetwork}, status: http.StatusGatewayTimeout, code: "network_error"},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "network_error"},
		{name: "rejected", err: &pinboard.Error{Kind: pinboard.KindRejected, Err: errors.New("missing url")}, status: http.StatusUnprocessableEntity, code: "rejected"},
		{name: "format", err: &pinboard.Error{Kind: pinboard.KindFormat}, status: http.StatusBadGateway, code: "bad_format"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusFor(tt.err)
			if status != tt.status {
				t.Errorf("statusFor() status = %v, want %v", status, tt.status)
			}
			if code != tt.code {
				t.Errorf("statusFor() code = %v, want %v", code, tt.code)
			}
		})
	}
}

func TestWriteErrorSetsRetryAfter(t *testing.T) {
	d := deps.Deps{Logger: logger.Nop()}

	tests := []struct {
		name string
		wait time.Duration
		want string
	}{
		{name: "whole seconds", wait: 3 * time.Second, want: "3"},
		{name: "rounded up", wait: 1500 * time.Millisecond, want: "2"},
		{name: "no hint", wait: 0, want: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, d, &pinboard.Error{Kind: pinboard.KindRateLimit, StatusCode: 429, RetryAfter: tt.wait})
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("status = %v, want 429", rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.want {
				t.Errorf("Retry-After = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeepLink(t *testing.T) {
	if got := DeepLink("pinbook_bot", "ABC234"); got != "https://t.me/pinbook_bot?start=ABC234" {
		t.Errorf("DeepLink() = %v", got)
	}
}
