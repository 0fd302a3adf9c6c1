package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/logger"
	"github.com/pubgraph/backend/pkg/query"

	"github.com/labstack/echo/v4"
)

func statusFor(err error) int {
	var syntaxErr *query.SyntaxError
	switch {
	case errors.Is(err, query.ErrEmptyQuery),
		errors.Is(err, query.ErrUnsafeQuery),
		errors.As(err, &syntaxErr):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, query.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, query.ErrUnavailable), errors.Is(err, common.ErrPersistenceFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("[Server] Request failed", "path", c.Path(), "status", status, "err", err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
