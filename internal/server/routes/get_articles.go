package routes

import (
	"net/http"
	"strconv"

	"github.com/pubgraph/backend/internal/server/middleware"
	"github.com/pubgraph/backend/internal/util"
	"github.com/pubgraph/backend/pkg/query"

	"github.com/labstack/echo/v4"
)

func GetNeighbourhoodHandler(c echo.Context) error {
	ids := util.ParseArticleIDs(c.Param("id"))
	if len(ids) != 1 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid article id"})
	}

	limit := query.DefaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
		}
		limit = min(n, query.MaxLimit)
	}

	graph := c.(*middleware.AppContext).App.Graph
	res, err := graph.Neighbourhood(c.Request().Context(), ids[0], limit)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
