package routes

import (
	"net/http"

	"github.com/pubgraph/backend/internal/server/middleware"
	"github.com/pubgraph/backend/internal/util"
	"github.com/pubgraph/backend/pkg/pipeline"

	"github.com/labstack/echo/v4"
)

func GetRunsHandler(c echo.Context) error {
	reports := c.(*middleware.AppContext).App.Reports
	if reports == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "report storage is not configured"})
	}

	ids, err := reports.ListReports(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"runs": ids})
}

func GetRunHandler(c echo.Context) error {
	reports := c.(*middleware.AppContext).App.Reports
	if reports == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "report storage is not configured"})
	}

	report, err := reports.GetReport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}

	type runResponse struct {
		Report   *pipeline.Report `json:"report"`
		Progress util.RunProgress `json:"progress"`
		Summary  string           `json:"summary"`
		Failures map[string]int   `json:"failures_by_kind"`
	}
	failures := make(map[string]int)
	for kind, n := range report.FailuresByKind() {
		failures[string(kind)] = n
	}
	return c.JSON(http.StatusOK, runResponse{
		Report:   report,
		Progress: report.Progress(),
		Summary:  report.Summary(),
		Failures: failures,
	})
}
