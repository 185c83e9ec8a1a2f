package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/library"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
	"github.com/MrSnakeDoc/pinbook/internal/session"
)

// TokenHeader carries the Pinboard credential on bookmark API calls.
const TokenHeader = "X-Pinboard-Token"

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, details string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Details: details})
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps an error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNoCredential), errors.Is(err, session.ErrInvalidCredential):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, library.ErrNotFound), errors.Is(err, pinboard.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, library.ErrExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, pinboard.ErrOffline):
		return http.StatusServiceUnavailable, "offline"
	case errors.Is(err, pinboard.ErrAuth):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, pinboard.ErrRateLimit):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, pinboard.ErrServer):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, pinboard.ErrFormat):
		return http.StatusBadGateway, "bad_format"
	case errors.Is(err, pinboard.ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "network_error"
	case errors.Is(err, pinboard.ErrRejected):
		return http.StatusUnprocessableEntity, "rejected"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError answers with the mapped status and an {error, details} body.
func writeError(w http.ResponseWriter, d deps.Deps, err error) {
	status, code := statusFor(err)
	setRetryAfter(w, err)

	resp := errorResponse{Error: code}
	switch status {
	case http.StatusInternalServerError:
		d.Logger.Error("request failed", logger.Error(err))
	case http.StatusServiceUnavailable:
		// offline is a state, not a failure
	default:
		resp.Details = err.Error()
		d.Logger.Debug("request rejected", logger.Int("status", status), logger.Error(err))
	}
	writeJSON(w, status, resp)
}

func setRetryAfter(w http.ResponseWriter, err error) {
	if wait, ok := pinboard.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
	}
}

// resolveSession picks the session of the request credential, falling back
// to the saved one.
func resolveSession(d deps.Deps, r *http.Request) (*session.Session, error) {
	return d.Sessions.Resolve(r.Header.Get(TokenHeader))
}
