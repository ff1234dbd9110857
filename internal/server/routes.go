package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	r.Post("/check", s.check)
	r.Post("/exec", s.exec)

	// Permissions
	r.Route("/permission", func(r chi.Router) {
		r.Get("/", s.listPermissions)
		r.Route("/{permissionID}", func(r chi.Router) {
			r.Get("/", s.getPermission)
			r.Post("/reply", s.replyPermission)
		})
	})

	// Event streaming (SSE)
	if s.bus != nil {
		r.Get("/event", s.allEvents)
	}
}
