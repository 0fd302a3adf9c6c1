package middleware

import (
	"context"

	"github.com/pubgraph/backend/internal/queue"
	"github.com/pubgraph/backend/internal/storage"
	"github.com/pubgraph/backend/pkg/query"
	"github.com/pubgraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// Graph is the part of a graph backend the web layer uses.
type Graph interface {
	query.GraphQuerier
	Stats(ctx context.Context) (store.Stats, error)
	Ping(ctx context.Context) error
}

type App struct {
	Graph Graph
	// Queue is nil when the server runs without RabbitMQ.
	Queue queue.Channel
	// Reports is nil when no bucket is configured.
	Reports *storage.Store
	APIKey  string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
