package handlers

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/offline"
)

type queueResponse struct {
	Online  bool                  `json:"online"`
	Since   time.Time             `json:"since"`
	Pending []domain.QueuedAction `json:"pending"`
}

// Queue lists the edits waiting for Pinboard.
func Queue(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := resolveSession(d, r)
		if err != nil {
			writeError(w, d, err)
			return
		}
		pending, err := s.Queue.Pending(r.Context())
		if err != nil {
			writeError(w, d, err)
			return
		}
		resp := queueResponse{Online: true, Pending: pending}
		if d.Monitor != nil {
			resp.Online, resp.Since = d.Monitor.Online(), d.Monitor.Since()
		}
		if resp.Pending == nil {
			resp.Pending = []domain.QueuedAction{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type failedAction struct {
	ID         string            `json:"id"`
	Type       domain.ActionType `json:"type"`
	RetryCount int               `json:"retryCount"`
	Error      string            `json:"error"`
}

type drainResponse struct {
	Skipped   bool           `json:"skipped"`
	Succeeded int            `json:"succeeded"`
	Failed    []failedAction `json:"failed,omitempty"`
	Dropped   []failedAction `json:"dropped,omitempty"`
	Remaining int            `json:"remaining"`
}

func failures(list []offline.Failure) []failedAction {
	out := make([]failedAction, 0, len(list))
	for _, f := range list {
		out = append(out, failedAction{
			ID:         f.Action.ID,
			Type:       f.Action.Type,
			RetryCount: f.Action.RetryCount,
			Error:      f.Err.Error(),
		})
	}
	return out
}

// DrainQueue replays the queue now. While offline nothing is attempted
// and the answer has skipped=true.
func DrainQueue(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := resolveSession(d, r)
		if err != nil {
			writeError(w, d, err)
			return
		}
		rep, err := s.Queue.Drain(r.Context())
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, drainResponse{
			Skipped:   rep.Skipped,
			Succeeded: len(rep.Succeeded),
			Failed:    failures(rep.Failed),
			Dropped:   failures(rep.Dropped),
			Remaining: rep.Remaining,
		})
	}
}
