package routes

import (
	"net/http"

	"github.com/pubgraph/backend/internal/server/middleware"
	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/query"

	"github.com/labstack/echo/v4"
)

func QueryGraphHandler(c echo.Context) error {
	type queryBody struct {
		query.Request
		Trace bool `json:"trace"`
	}

	type queryResponse struct {
		*common.GraphResult
		Trace *query.QueryTraceSnapshot `json:"trace,omitempty"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	req, err := data.Request.Normalize()
	if err != nil {
		return errorJSON(c, err)
	}

	ctx := c.Request().Context()
	var trace *query.QueryTrace
	if data.Trace {
		trace = query.NewQueryTrace()
		ctx = query.WithTracer(ctx, trace)
	}

	graph := c.(*middleware.AppContext).App.Graph
	res, err := graph.Query(ctx, req)
	if err != nil {
		return errorJSON(c, err)
	}

	resp := queryResponse{GraphResult: res}
	if trace != nil {
		s := trace.Snapshot()
		resp.Trace = &s
	}
	return c.JSON(http.StatusOK, resp)
}
