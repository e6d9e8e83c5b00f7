package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type errorEnvelope struct {
	Error ResponseError `json:"error"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, errorEnvelope{Error: ResponseError{Message: msg, Type: errType}})
}

func newRequestID() string {
	return "req_" + uuid.NewString()
}
