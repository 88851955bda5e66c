// Package api implements the HTTP control surface consumed by the operator
// UI. All pipeline mutations go through here; long-running phases return
// immediately after the phase transition and proceed in the background.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/opendharma/archive-migrate/internal/analyzer"
	"github.com/opendharma/archive-migrate/internal/conf"
	"github.com/opendharma/archive-migrate/internal/datastore"
	"github.com/opendharma/archive-migrate/internal/decisions"
	"github.com/opendharma/archive-migrate/internal/executor"
	"github.com/opendharma/archive-migrate/internal/importer"
	"github.com/opendharma/archive-migrate/internal/logging"
	"github.com/opendharma/archive-migrate/internal/objectstore"
	"github.com/opendharma/archive-migrate/internal/observability"
	"github.com/opendharma/archive-migrate/internal/report"
	"github.com/opendharma/archive-migrate/internal/runstate"
)

// Controller wires the pipeline components to the echo routes.
type Controller struct {
	Echo     *echo.Echo
	Settings *conf.Settings

	ds        datastore.Interface
	store     objectstore.Client
	states    *runstate.StateManager
	importer  *importer.Importer
	analyzer  *analyzer.Analyzer
	decisions *decisions.Store
	executor  *executor.Manager
	publisher *report.Publisher
	metrics   *observability.Metrics

	validate    *validator.Validate
	reportCache *cache.Cache

	logger         *slog.Logger
	apiLogger      *slog.Logger
	apiLoggerClose func() error
}

// New creates the controller and registers all routes.
func New(settings *conf.Settings, ds datastore.Interface, store objectstore.Client, metrics *observability.Metrics) (*Controller, error) {
	states := runstate.NewStateManager(ds)

	c := &Controller{
		Echo:        echo.New(),
		Settings:    settings,
		ds:          ds,
		store:       store,
		states:      states,
		importer:    importer.New(ds, &settings.Policy),
		analyzer:    analyzer.New(ds, store, settings),
		decisions:   decisions.NewStore(ds, states),
		executor:    executor.NewManager(ds, store, states, &settings.Policy, metrics),
		publisher:   report.NewPublisher(ds),
		metrics:     metrics,
		validate:    validator.New(),
		reportCache: cache.New(5*time.Minute, 10*time.Minute),
		logger:      logging.ForService("api"),
	}

	c.Echo.HideBanner = true
	c.Echo.HidePort = true
	c.Echo.Use(middleware.Recover())
	c.Echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	if settings.WebServer.LogPath != "" {
		level := slog.LevelInfo
		if settings.WebServer.Debug {
			level = slog.LevelDebug
		}
		fileLogger, closeFn, err := logging.NewFileLogger(settings.WebServer.LogPath, "api", level)
		if err != nil {
			c.logger.Warn("failed to open api log file, logging to console only",
				"path", settings.WebServer.LogPath, "error", err)
		} else {
			c.apiLogger = fileLogger
			c.apiLoggerClose = closeFn
			c.Echo.Use(c.requestLogger())
		}
	}

	c.initRoutes()
	return c, nil
}

// initRoutes registers the control surface under /api/v1.
func (c *Controller) initRoutes() {
	c.Echo.GET("/healthz", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))

	g := c.Echo.Group("/api/v1")
	g.POST("/migrations/upload", c.Upload)
	g.GET("/migrations", c.List)
	g.GET("/migrations/:id", c.Get)
	g.POST("/migrations/:id/analyze", c.Analyze)
	g.GET("/migrations/:id/decisions", c.GetDecisions)
	g.POST("/migrations/:id/decisions", c.PostDecisions)
	g.POST("/migrations/:id/approve", c.Approve)
	g.POST("/migrations/:id/execute", c.Execute)
	g.POST("/migrations/:id/cancel", c.RequestCancel)
	g.GET("/migrations/:id/progress", c.Progress)
	g.GET("/migrations/:id/logs", c.Logs)
	g.GET("/migrations/:id/report", c.Report)
	g.DELETE("/migrations/:id", c.Delete)
}

// Start runs the HTTP server until the context is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + c.Settings.WebServer.Port
		c.logger.Info("control surface listening", "addr", addr)
		if err := c.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return c.Shutdown()
	}
}

// Shutdown stops the server and interrupts in-process executions; those
// runs stay in executing and resume on the next start.
func (c *Controller) Shutdown() error {
	c.executor.Shutdown()
	if c.apiLoggerClose != nil {
		defer func() { _ = c.apiLoggerClose() }()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.Echo.Shutdown(shutdownCtx)
}

// ResumeInterrupted restarts the execution of every run left in executing
// by a previous process. Runs stranded in analyzing have no analysis
// goroutine anymore and cannot be resumed mid-phase, so they are failed
// with a reason the operator can act on.
func (c *Controller) ResumeInterrupted() {
	runs, err := c.ds.ListRuns(100, 0)
	if err != nil {
		c.logger.Error("failed to list runs for resume", "error", err)
		return
	}
	for i := range runs {
		switch runs[i].Status {
		case datastore.RunStatusExecuting:
			if err := c.executor.Resume(runs[i].ID); err != nil {
				c.logger.Error("failed to resume run", "run_id", runs[i].ID, "error", err)
			}
		case datastore.RunStatusAnalyzing:
			c.logger.Warn("failing run interrupted during analysis", "run_id", runs[i].ID)
			if err := c.states.Fail(runs[i].ID, "analysis interrupted by service restart"); err != nil {
				c.logger.Error("failed to mark interrupted run failed", "run_id", runs[i].ID, "error", err)
			}
		}
	}
}

// requestLogger logs every request to the API file logger.
func (c *Controller) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true, LogURI: true, LogMethod: true, LogLatency: true,
		LogValuesFunc: func(ctx echo.Context, v middleware.RequestLoggerValues) error {
			c.apiLogger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", ctx.Response().Header().Get(echo.HeaderXRequestID))
			return nil
		},
	})
}

// HandleError renders an error as a JSON response with the specific reason
// and the request correlation id.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	requestID := ctx.Response().Header().Get(echo.HeaderXRequestID)
	c.logger.Error(message,
		"error", err,
		"path", ctx.Request().URL.Path,
		"request_id", requestID)
	return ctx.JSON(code, map[string]string{
		"error":     err.Error(),
		"message":   message,
		"requestId": requestID,
	})
}

// runParam parses the :id route parameter and loads the run.
func (c *Controller) runParam(ctx echo.Context) (*datastore.MigrationRun, error) {
	var id uint
	if _, err := fmt.Sscanf(ctx.Param("id"), "%d", &id); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid migration id")
	}
	run, err := c.ds.GetRun(id)
	if err != nil {
		if err == datastore.ErrRunNotFound {
			return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("migration %d not found", id))
		}
		return nil, err
	}
	return run, nil
}
