// Package api provides HTTP handlers for the tutoring service.
package api

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nigamk1/tutorboard/coordinator"
	"github.com/nigamk1/tutorboard/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store  store.Store
	coord  *coordinator.Coordinator
	logger *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(st store.Store, coord *coordinator.Coordinator, logger *slog.Logger) *Handler {
	return &Handler{
		store:  st,
		coord:  coord,
		logger: logger,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.GET("/v1/sessions/:session_id/turns", h.GetTurns)
	e.GET("/v1/sessions/:session_id/whiteboard", h.GetWhiteboard)
	e.POST("/v1/sessions/:session_id/end", h.EndSession)
	e.DELETE("/v1/sessions/:session_id", h.DeleteSession)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
