package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Search.
	r.Post("/search", h.Search)

	// Sessions: selection state and export.
	r.Get("/sessions/{id}", h.GetSession)
	r.Post("/sessions/{id}/selection", h.Selection)
	r.Post("/sessions/{id}/plan", h.Plan)
	r.Post("/sessions/{id}/export", h.Export)

	// Stored code lists (inbox drops and API saves).
	r.Get("/codelists", h.ListCodeLists)
	r.Post("/codelists", h.CreateCodeList)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
