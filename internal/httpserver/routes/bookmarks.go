package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/mw"
)

func init() { Register("bookmarks", registerBookmarks) }

func registerBookmarks(r chi.Router, d deps.Deps) {
	r.Group(func(r chi.Router) {
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))

		r.Get("/api/bookmarks", handlers.ListBookmarks(d))
		r.Post("/api/bookmarks", handlers.AddBookmark(d))
		r.Delete("/api/bookmarks", handlers.DeleteBookmark(d))
		r.Post("/api/bookmarks/bulk/read", handlers.BulkMarkRead(d))
		r.Put("/api/bookmarks/folder", handlers.SetFolder(d))
		r.Put("/api/bookmarks/{hash}", handlers.UpdateBookmark(d))
		r.Patch("/api/bookmarks/{hash}", handlers.PatchBookmark(d))

		r.Get("/api/tags", handlers.Tags(d))

		r.Get("/api/queue", handlers.Queue(d))
		r.Post("/api/queue/drain", handlers.DrainQueue(d))

		r.Get("/api/session", handlers.GetSession(d))
		r.Post("/api/session", handlers.Login(d))
		r.Delete("/api/session", handlers.Logout(d))

		if d.Prefs != nil {
			r.Get("/api/prefs", handlers.GetPrefs(d))
			r.Put("/api/prefs", handlers.PutPrefs(d))
		}
	})
}
