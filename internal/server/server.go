package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pubgraph/backend/internal/app"
	"github.com/pubgraph/backend/internal/config"
	"github.com/pubgraph/backend/internal/queue"
	mid "github.com/pubgraph/backend/internal/server/middleware"
	"github.com/pubgraph/backend/pkg/logger"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance with middleware and routes for a.
func New(a *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(a))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func Init(cfg *config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := app.InitTelemetry(ctx, cfg.Telemetry, "server")
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Failed to flush traces", "err", err)
		}
	}()

	graph, _, err := app.OpenGraph(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to connect to graph database", "backend", cfg.Graph.Backend, "err", err)
	}
	defer graph.Close(context.Background())

	if err := graph.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to prepare graph schema", "err", err)
	}

	que := queue.Init(cfg.Queue)
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	reports, err := app.NewReportStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to create report storage", "err", err)
	}

	e := New(&mid.App{
		Graph:   graph,
		Queue:   ch,
		Reports: reports,
		APIKey:  cfg.Server.APIKey,
	})

	go func() {
		logger.Info("Starting server", "port", cfg.Server.Port)
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
