package mockserver

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
)

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/sessions", s.handleSessions)
	s.app.Post("/broadcast/:event", s.handleBroadcast)
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	status := "healthy"
	for _, up := range s.cfg.Services {
		if !up {
			status = "degraded"
		}
	}
	return c.JSON(fiber.Map{
		"status":   status,
		"services": s.cfg.Services,
	})
}

func (s *Server) handleSessions(c fiber.Ctx) error {
	sessions := s.hub.Sessions()
	return c.JSON(fiber.Map{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleBroadcast(c fiber.Ctx) error {
	event := c.Params("event")
	var payload any
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_json",
				"message": err.Error(),
			})
		}
	}
	sent := s.hub.Broadcast(event, payload)
	return c.JSON(fiber.Map{"event": event, "delivered": sent})
}
