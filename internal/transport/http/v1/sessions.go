package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatvault/internal/codec"
	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

// GetSession returns a session in its canonical encoding.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.service.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return h.writeSession(c, sess)
}

// PublishSession stores a snapshot of the session.
// POST /v1/sessions/:session_id/publish
func (h *Handler) PublishSession(c echo.Context) error {
	res, err := h.service.Publish(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, domain.PublishResponse{
		CID:          res.Address,
		Address:      res.Address,
		SessionID:    res.SessionID,
		MessageCount: res.MessageCount,
	})
}

// GetSnapshot loads a published snapshot. It is not imported as a session.
// GET /v1/snapshots/:address
func (h *Handler) GetSnapshot(c echo.Context) error {
	sess, err := h.service.Retrieve(c.Request().Context(), c.Param("address"))
	if err != nil {
		return h.writeError(c, err)
	}
	return h.writeSession(c, sess)
}

func (h *Handler) writeSession(c echo.Context, sess *domain.Session) error {
	body, err := codec.Encode(sess)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSONBlob(http.StatusOK, body)
}
