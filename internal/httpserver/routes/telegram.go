package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/mw"
)

func init() { Register("telegram", registerTelegram) }

// registerTelegram mounts the chat bridge. The webhook is called by
// Telegram itself, so it skips the Host check.
func registerTelegram(r chi.Router, d deps.Deps) {
	if d.Linking == nil {
		return
	}
	if d.Bridge != nil {
		r.Post(handlers.WebhookPath, handlers.Webhook(d))
	}

	host := mw.EnforceHost(d.AllowedHosts, d.Logger)
	r.With(host).Post("/api/telegram/link", handlers.Link(d))
	r.With(host).Post("/api/telegram/status", handlers.Status(d))
	r.With(host).Post("/api/telegram/disconnect", handlers.Disconnect(d))
}
