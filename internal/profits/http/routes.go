package profitshttp

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the profit endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/api/profits", func(pr chi.Router) {
		pr.Get("/report", h.handleReport)
		pr.Get("/balance", h.handleBalance)
		pr.Get("/history", h.handleHistory)
		pr.Get("/period", h.handlePeriod)
	})
}
