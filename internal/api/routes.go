package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the public HTTP surface.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/ping", h.Ping)
	r.Post("/subscriptions", h.CreateSubscription)
	r.Get("/statistics", h.ReadStatistics)

	return r
}
