package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

func statusFor(code string) int {
	switch code {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInferenceFailure, domain.CodePublicationFailure:
		return http.StatusBadGateway
	case domain.CodePublishDenied, domain.CodeMalformedSnapshot:
		return http.StatusUnprocessableEntity
	case domain.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err as an ErrorResponse with the matching status.
func (h *Handler) writeError(c echo.Context, err error) error {
	code := domain.Classify(err)
	status := statusFor(code)
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.Error("request failed", "path", c.Path(), "code", code, "error", err)
	case code == domain.CodeNotFound:
		h.logger.Debug("not found", "path", c.Path(), "error", err)
	}
	return c.JSON(status, domain.ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		Retryable: domain.Retryable(err),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: msg, Code: domain.CodeInvalidInput})
}
