package handlers

import (
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/library"
	"github.com/MrSnakeDoc/pinbook/internal/prefs"
)

type sessionResponse struct {
	SignedIn bool   `json:"signedIn"`
	Username string `json:"username,omitempty"`
}

// GetSession reports whether a credential is saved.
func GetSession(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp sessionResponse
		if d.Prefs != nil {
			if auth, ok := d.Prefs.Credential(); ok {
				resp = sessionResponse{SignedIn: true, Username: auth.Username}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Login validates {apiToken} against Pinboard and saves it.
func Login(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s, err := d.Sessions.Login(r.Context(), strings.TrimSpace(req.APIToken))
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{SignedIn: true, Username: s.Username})
	}
}

// Logout forgets the saved credential. Queued edits stay on disk.
func Logout(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Sessions.Logout(); err != nil {
			writeError(w, d, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func GetPrefs(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Prefs.UI())
	}
}

// PutPrefs validates and saves the layout and sort preferences.
func PutPrefs(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req prefs.UI
		if !decodeBody(w, r, &req) {
			return
		}
		layout, err := library.ParseLayout(req.Layout)
		if err != nil {
			writeError(w, d, err)
			return
		}
		sort, err := library.ParseSort(req.Sort)
		if err != nil {
			writeError(w, d, err)
			return
		}
		ui := prefs.UI{Layout: string(layout), Sort: string(sort)}
		if err := d.Prefs.SetUI(ui); err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, ui)
	}
}
