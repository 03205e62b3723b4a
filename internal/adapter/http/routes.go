package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Get("/world", h.GetWorld)

		// Rooms
		r.Get("/rooms", h.ListRooms())
		r.Post("/rooms", h.CreateRoom())
		r.Get("/rooms/{id}", h.GetRoom())
		r.Delete("/rooms/{id}", h.DeleteRoom())

		// Agents
		r.Get("/agents", h.ListAgents())
		r.Post("/agents", h.SpawnAgent())
		r.Get("/agents/{id}", h.GetAgent())
		r.Delete("/agents/{id}", h.DeleteAgent())
		r.Post("/agents/{id}/move", h.MoveAgent)
		r.Post("/agents/{id}/actions", h.RequestAction)
		r.Delete("/agents/{id}/memories/{index}", h.DeleteMemory)
		r.Delete("/agents/{id}/contexts/{index}", h.DeleteContext)

		r.Post("/contexts", h.CreateContext())
		r.Get("/tools", h.ListTools())
		r.Post("/chat", h.Chat)

		// Simulation lifecycle
		r.Get("/simulation", h.SimulationStatus)
		r.Post("/simulation/start", h.Start())
		r.Post("/simulation/stop", h.Stop())
		r.Post("/simulation/reset", h.Reset())

		r.Get("/events", h.ListEvents)
	})
}
