package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
)

type (
	// Registrar mounts a route group. It may mount nothing when the
	// feature it serves is not configured.
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type entry struct {
	name string
	reg  Registrar
	mws  []Middleware
}

var registry []entry

// Register a named route group with optional group-wide middlewares.
// Called from init().
func Register(name string, reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{name: name, reg: reg, mws: mws})
}

// RegisterAll mounts every group on r. Called once from httpserver.NewRouter.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, e := range registry {
		if len(e.mws) == 0 {
			e.reg(r, d)
		} else {
			e.reg(r.With(e.mws...), d)
		}
		d.Logger.Debug("route group registered", logger.String("group", e.name))
	}

	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		d.Logger.Debug("route", logger.String("method", method), logger.String("path", route))
		return nil
	})
}
