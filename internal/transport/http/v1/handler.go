// Package v1 provides the HTTP handlers of the chatvault API.
package v1

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatvault/internal/hub"
	"github.com/xiaot623/gogo/chatvault/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	hub      *hub.Hub
	pump     hub.PumpConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, h *hub.Hub, pump hub.PumpConfig, logger *slog.Logger) *Handler {
	return &Handler{
		service: svc,
		hub:     h,
		pump:    pump,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	// Chat
	e.POST("/chat", h.Chat)
	e.POST("/v1/chat", h.Chat)

	// Sessions
	e.GET("/sessions/:session_id", h.GetSession)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.POST("/sessions/:session_id/publish", h.PublishSession)
	e.POST("/v1/sessions/:session_id/publish", h.PublishSession)
	e.GET("/v1/sessions/:session_id/events", h.SessionEvents)

	// Snapshots
	e.GET("/v1/snapshots/:address", h.GetSnapshot)
}

// Health returns health status.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
