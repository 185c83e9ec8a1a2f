package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
)

type componentStatus struct {
	OK       bool   `json:"ok"`
	Mode     string `json:"mode,omitempty"`
	Since    string `json:"since,omitempty"`
	Sessions *int   `json:"sessions,omitempty"`
	Impact   string `json:"impact,omitempty"`
	Error    string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		components := map[string]componentStatus{
			"pinboard": pinboardStatus(d),
			"linking":  linkingStatus(ctx, d),
		}
		for _, c := range d.Checks {
			if c.Name == "linking" {
				continue
			}
			st := componentStatus{OK: true}
			if err := c.Ping(ctx); err != nil {
				st = componentStatus{OK: false, Error: err.Error()}
			}
			components[c.Name] = st
		}

		response := infraResponse{
			Mode:       determineMode(components),
			Components: components,
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func pinboardStatus(d deps.Deps) componentStatus {
	sessions := d.Sessions.Len()
	st := componentStatus{OK: true, Mode: "online", Sessions: &sessions}
	if d.Monitor == nil {
		return st
	}
	st.Since = d.Monitor.Since().Format("2006-01-02 15:04:05")
	if !d.Monitor.Online() {
		st.OK = false
		st.Mode = "offline"
		st.Impact = "edits-queued-reads-from-cache"
	}
	return st
}

func linkingStatus(ctx context.Context, d deps.Deps) componentStatus {
	if d.Linking == nil {
		return componentStatus{OK: true, Mode: "disabled", Impact: "chat-bridge-disabled"}
	}
	st := componentStatus{OK: true, Mode: d.LinkingMode}
	if !d.Linking.Durable() {
		st.Impact = "single-step-saves"
	}
	if err := d.Linking.Ping(ctx); err != nil {
		st.OK = false
		st.Impact = "chat-bridge-unavailable"
		st.Error = err.Error()
	}
	return st
}

// determineMode summarises the components: "critical" when local state is
// broken, "degraded" when Pinboard or the linking store is unreachable.
func determineMode(components map[string]componentStatus) string {
	if storage, ok := components["storage"]; ok && !storage.OK {
		return "critical"
	}
	for _, name := range []string{"pinboard", "linking"} {
		if c, ok := components[name]; ok && !c.OK {
			return "degraded"
		}
	}
	return "operational"
}
