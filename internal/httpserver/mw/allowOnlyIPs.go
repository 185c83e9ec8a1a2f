package mw

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/utils"
)

// AllowOnlyCIDRS restricts a route to the listed IPs/CIDRs. An empty list
// does not filter. trustProxy should be true when running behind a trusted
// reverse proxy/tunnel (e.g. cloudflared).
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	m := utils.NewIPMatcher(allowed)
	for _, bad := range m.Invalid {
		log.Warn("ignoring invalid allowed CIDR", logger.String("entry", bad))
	}
	if m.IsEmpty() {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustProxy)
			if !m.Allow(ip) {
				log.Debug("client ip rejected",
					logger.String("ip", ip),
					logger.String("path", r.URL.Path))
				forbidden(w, "client address not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forbidden answers 403 with the JSON error shape used by the API.
func forbidden(w http.ResponseWriter, details string) {
	writeError(w, http.StatusForbidden, "forbidden", details)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "details": details})
}
