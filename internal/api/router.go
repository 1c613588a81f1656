// Package api builds the HTTP router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/rahulkarwa/promptpoll/internal/api/middleware"
	"github.com/rahulkarwa/promptpoll/internal/api/response"
)

// Dependencies holds all handler dependencies for the router.
type Dependencies struct {
	HealthHandler    http.HandlerFunc
	CreateRunHandler http.HandlerFunc
	GetRunHandler    http.HandlerFunc
	CancelRunHandler http.HandlerFunc
	ExportRunHandler http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Post("/", orNotImplemented(deps.CreateRunHandler))
		r.Get("/{runID}", orNotImplemented(deps.GetRunHandler))
		r.Post("/{runID}/cancel", orNotImplemented(deps.CancelRunHandler))
		r.Get("/{runID}/export", orNotImplemented(deps.ExportRunHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
