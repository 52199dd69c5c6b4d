package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

// Chat runs one turn of a conversation.
// POST /chat, POST /v1/chat
func (h *Handler) Chat(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.service.Converse(ctx, req.SessionID, req.Message)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, domain.ChatResponse{
		Reply:        res.Reply,
		SessionID:    res.SessionID,
		MessageCount: res.MessageCount,
	})
}
