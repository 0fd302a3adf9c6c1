package routes

import (
	"errors"
	"net/http"

	"github.com/pubgraph/backend/internal/queue"
	"github.com/pubgraph/backend/internal/server/middleware"
	"github.com/pubgraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

type ingestBody struct {
	IDs   []string `json:"ids"`
	Query string   `json:"query"`
	Limit int      `json:"limit" validate:"gte=0,lte=10000"`
}

type jobResponse struct {
	RunID  string   `json:"run_id"`
	Queue  string   `json:"queue"`
	IDs    []string `json:"ids,omitempty"`
	Query  string   `json:"query,omitempty"`
	Status string   `json:"status"`
}

var errNoQueue = errors.New("job queue is not configured")

// IngestHandler publishes an ingest job and answers before it runs.
func IngestHandler(c echo.Context) error {
	data := new(ingestBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	ch := c.(*middleware.AppContext).App.Queue
	if ch == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": errNoQueue.Error()})
	}

	msg, err := queue.PublishIngest(c.Request().Context(), ch, queue.IngestMsg{
		IDs:   data.IDs,
		Query: data.Query,
		Limit: data.Limit,
	})
	if err != nil {
		if errors.Is(err, queue.ErrEmptyIngest) || errors.Is(err, queue.ErrInvalidID) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		logger.Error("[Server] Failed to publish ingest job", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Failed to queue ingest job"})
	}

	return c.JSON(http.StatusAccepted, jobResponse{
		RunID:  msg.RunID,
		Queue:  queue.IngestQueue,
		IDs:    msg.IDs,
		Query:  msg.Query,
		Status: "queued",
	})
}

func RebuildSimilaritiesHandler(c echo.Context) error {
	ch := c.(*middleware.AppContext).App.Queue
	if ch == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": errNoQueue.Error()})
	}

	msg, err := queue.PublishSimilarityRebuild(c.Request().Context(), ch)
	if err != nil {
		logger.Error("[Server] Failed to publish similarity job", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Failed to queue similarity job"})
	}
	return c.JSON(http.StatusAccepted, jobResponse{
		RunID:  msg.RunID,
		Queue:  queue.SimilarityQueue,
		Status: "queued",
	})
}
