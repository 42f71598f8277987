// Package http provides the coordinator's admin and inspection API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/conversation"
	"github.com/deeplifeai/swarmweaver-sub001/internal/handoff"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
	"github.com/deeplifeai/swarmweaver-sub001/internal/loop"
	"github.com/deeplifeai/swarmweaver-sub001/internal/orchestrator"
	"github.com/deeplifeai/swarmweaver-sub001/internal/telemetry"
	"github.com/deeplifeai/swarmweaver-sub001/internal/workflow"
)

// Processor accepts inbound messages. *orchestrator.Orchestrator implements it.
type Processor interface {
	Process(ctx context.Context, msg chat.MessageReceived) (*orchestrator.Turn, error)
	Dispatch(ctx context.Context, msg chat.MessageReceived) error
	// Exec runs fn serialized with the conversation's turns.
	Exec(ctx context.Context, key chat.Key, fn func(ctx context.Context) error) error
	Lanes() int
}

// Deps are the components the API exposes.
type Deps struct {
	Processor Processor
	Mediator  *handoff.Mediator
	Workflow  *workflow.Manager
	Memory    *conversation.Manager
	Loops     *loop.Detector
	// Metrics serves /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler
	// Telemetry, when set, adds exporter health to /health. Degraded
	// telemetry does not fail the check.
	Telemetry *telemetry.Telemetry
}

// Server provides HTTP endpoints for the coordinator.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// ProcessTimeout bounds synchronous POST /api/v1/messages requests.
	ProcessTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Processor == nil || deps.Mediator == nil || deps.Workflow == nil || deps.Memory == nil || deps.Loops == nil {
		return nil, errors.New("processor, mediator, workflow, memory and loops are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 2 * time.Minute
	}
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if id := c.Response().Header().Get(echo.HeaderXRequestID); validRequestID.MatchString(id) {
				ctx = logging.WithRequestID(ctx, id)
				c.SetRequest(c.Request().WithContext(ctx))
			}

			err := next(c)
			if err != nil {
				// resolve the status before logging it
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/messages", s.handlePostMessage)

	v1.GET("/agents", s.handleListAgents)
	v1.PUT("/agents/:id/availability", s.handleSetAvailability)

	conv := v1.Group("/conversations/:channel")
	conv.GET("/state", s.handleGetState)
	conv.GET("/history", s.handleGetHistory)
	conv.POST("/reset", s.handleReset)
	conv.POST("/summarize", s.handleSummarize)
}

// Echo exposes the router for additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
