package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
)

type readyzResponse struct {
	Ready  bool              `json:"ready"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Readyz runs every readiness check. Pinboard being unreachable does not
// make the service unready: it keeps serving from the local layer.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := readyzResponse{Ready: true}
		for _, c := range d.Checks {
			if err := c.Ping(ctx); err != nil {
				if resp.Failed == nil {
					resp.Failed = map[string]string{}
				}
				resp.Failed[c.Name] = err.Error()
				resp.Ready = false
				d.Logger.Warn("readiness check failed", logger.String("check", c.Name), logger.Error(err))
			}
		}

		status := http.StatusOK
		if !resp.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
