package server

import (
	"github.com/pubgraph/backend/internal/server/middleware"
	"github.com/pubgraph/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check routes
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/health/ready", routes.ReadyHandler)

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Graph routes
	apiRoutes.POST("/graph/query", routes.QueryGraphHandler)
	apiRoutes.GET("/articles/:id/neighbourhood", routes.GetNeighbourhoodHandler)
	apiRoutes.GET("/stats", routes.GetStatsHandler)

	// Job routes
	apiRoutes.POST("/ingest", routes.IngestHandler)
	apiRoutes.POST("/similarity/rebuild", routes.RebuildSimilaritiesHandler)
	apiRoutes.GET("/runs", routes.GetRunsHandler)
	apiRoutes.GET("/runs/:id", routes.GetRunHandler)
}
