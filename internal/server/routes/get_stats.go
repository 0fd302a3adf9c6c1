package routes

import (
	"net/http"

	"github.com/pubgraph/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

func GetStatsHandler(c echo.Context) error {
	graph := c.(*middleware.AppContext).App.Graph
	stats, err := graph.Stats(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// ReadyHandler reports whether the graph database answers.
func ReadyHandler(c echo.Context) error {
	graph := c.(*middleware.AppContext).App.Graph
	if err := graph.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	return c.String(http.StatusOK, "OK")
}
