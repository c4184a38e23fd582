package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/zettel/internal/graph"
	"github.com/starford/zettel/internal/repository"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(repo *repository.Repository, graphs *graph.Service, logger *slog.Logger, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(repo, graphs, logger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Route("/notes/{id}", func(r chi.Router) {
		r.Get("/", h.GetNote)
		r.Put("/", h.UpdateNote)
		r.Delete("/", h.DeleteNote)

		r.Get("/links", h.ForwardLinks)
		r.Post("/links", h.AddLink)
		r.Delete("/links", h.RemoveLink)
		r.Get("/backlinks", h.Backlinks)
		r.Get("/linked", h.LinkedNotes)
		r.Get("/similar", h.Similar)
	})
	r.Get("/timeline", h.Timeline)
	r.Get("/tags", h.Tags)

	// Graph.
	r.Route("/graph", func(r chi.Router) {
		r.Get("/orphans", h.Orphans)
		r.Get("/hubs", h.Hubs)
		r.Get("/central", h.Central)
		r.Get("/broken", h.Broken)
	})

	// Index maintenance.
	r.Route("/index", func(r chi.Router) {
		r.Post("/rebuild", h.Rebuild)
		r.Post("/reconcile", h.Reconcile)
		r.Get("/drift", h.Drift)
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
