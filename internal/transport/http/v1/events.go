package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

// SessionEvents upgrades to a WebSocket that streams the session's events.
// GET /v1/sessions/:session_id/events
func (h *Handler) SessionEvents(c echo.Context) error {
	sessionID := c.Param("session_id")
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return h.writeError(c, err)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return nil
	}

	conn, err := h.hub.Subscribe(sessionID, ws)
	if err != nil {
		ws.Close()
		return nil
	}

	go conn.WritePump(h.pump)
	go conn.ReadPump(h.pump)

	return nil
}
