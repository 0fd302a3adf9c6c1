package app

import (
	"context"
	"strings"

	"github.com/pubgraph/backend/internal/config"
	"github.com/pubgraph/backend/internal/util"
	"github.com/pubgraph/backend/pkg/logger"
	"github.com/pubgraph/backend/pkg/logger/console"
	"github.com/pubgraph/backend/pkg/logger/jsonlog"
	"github.com/pubgraph/backend/pkg/telemetry"
)

// LoadConfig reads .env, the config file named by path or PUBGRAPH_CONFIG and
// the environment.
func LoadConfig(path string) (*config.Config, error) {
	util.LoadEnv()
	if path == "" {
		path = util.GetEnv("PUBGRAPH_CONFIG")
	}
	return config.Load(path)
}

// InitLogger installs the console or JSON logger. The returned func flushes
// buffered output.
func InitLogger(cfg config.LoggingConfig) func() {
	if strings.EqualFold(cfg.Format, "json") {
		l, err := jsonlog.NewJSONLogger(jsonlog.JSONLoggerParams{Mode: "prod", Debug: cfg.Debug})
		if err == nil {
			logger.Init(l)
			return func() { _ = l.Sync() }
		}
		logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: cfg.Debug}))
		logger.Warn("[App] JSON logger unavailable, using console", "err", err)
		return func() {}
	}

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: cfg.Debug}))
	return func() {}
}

// InitTelemetry starts tracing for component. Failures are logged and leave
// the no-op tracer in place.
func InitTelemetry(ctx context.Context, cfg config.TelemetryConfig, component string) telemetry.ShutdownFunc {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Exporter:    cfg.Exporter,
		ServiceName: cfg.ServiceName,
		Component:   component,
		SampleRatio: cfg.SampleRatio,
	})
	if err != nil {
		logger.Warn("[App] Tracing disabled", "err", err)
		return func(context.Context) error { return nil }
	}
	return shutdown
}
