package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
)

// Relay forwards GET /api/pinboard?endpoint=...&auth_token=... to Pinboard
// and returns the upstream JSON verbatim.
func Relay(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		endpoint := strings.Trim(q.Get("endpoint"), "/")
		if err := pinboard.ValidateEndpoint(endpoint); err != nil {
			badRequest(w, err.Error())
			return
		}

		token := q.Get("auth_token")
		if token == "" {
			token = r.Header.Get(TokenHeader)
		}
		s, err := d.Sessions.Resolve(token)
		if err != nil {
			writeError(w, d, err)
			return
		}

		body, err := s.Client.Forward(r.Context(), endpoint, q)
		if err != nil {
			relayError(w, d, endpoint, err)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			d.Logger.Debug("failed to write relay response", logger.Error(err))
		}
	}
}

// relayError keeps the upstream status when Pinboard answered.
func relayError(w http.ResponseWriter, d deps.Deps, endpoint string, err error) {
	var pe *pinboard.Error
	if !errors.As(err, &pe) || pe.StatusCode == 0 || pe.Kind == pinboard.KindFormat {
		writeError(w, d, err)
		return
	}
	setRetryAfter(w, err)
	d.Logger.Debug("relay upstream failure",
		logger.String("endpoint", endpoint),
		logger.Int("status", pe.StatusCode),
		logger.Error(err))
	writeJSON(w, pe.StatusCode, errorResponse{Error: pe.Kind.String(), Details: err.Error()})
}
