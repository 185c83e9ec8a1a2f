package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/mw"
)

func init() { Register("pinboard", registerPinboard) }

func registerPinboard(r chi.Router, d deps.Deps) {
	r.With(mw.EnforceHost(d.AllowedHosts, d.Logger)).Get("/api/pinboard", handlers.Relay(d))
}
