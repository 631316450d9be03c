// Package http serves the tcsd status surface.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tcsd/internal/checker"
	"github.com/fyrsmithlabs/tcsd/internal/constants"
	"github.com/fyrsmithlabs/tcsd/internal/logging"
	"github.com/fyrsmithlabs/tcsd/internal/telemetry"
)

// Machine is the state machine view served on /state.
type Machine interface {
	Active() []string
	Configuration() []string
	Started() bool
	Stopped() bool
}

// Checkers is the registry view served on /checkers.
type Checkers interface {
	Statuses() []checker.Status
	AllInLimit(names ...string) bool
}

// Constants exposes the current constants snapshot.
type Constants interface {
	Snapshot() *constants.Snapshot
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Deps are the components the status surface reports on. Nil members are
// reported as unavailable.
type Deps struct {
	Machine   Machine
	Checkers  Checkers
	Constants Constants
	Telemetry *telemetry.Telemetry
	RunID     string
	Version   string
}

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	logger *logging.Logger
	config *Config
	deps   Deps
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, errors.New("logger is required for request tracking")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		logger: logger.Named("http"),
		config: cfg,
		deps:   deps,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/checkers", s.handleCheckers)
	s.echo.GET("/state", s.handleState)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	RunID     string                  `json:"run_id,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// StateResponse is the response body for GET /state.
type StateResponse struct {
	Started bool `json:"started"`
	Stopped bool `json:"stopped"`
	// Active lists every active state in document order.
	Active []string `json:"active"`
	// Configuration lists the active leaves.
	Configuration []string       `json:"configuration"`
	Constants     *ConstantsInfo `json:"constants,omitempty"`
}

// ConstantsInfo describes the loaded constants document.
type ConstantsInfo struct {
	Source   string    `json:"source"`
	Version  uint64    `json:"version"`
	LoadedAt time.Time `json:"loaded_at"`
}

// CheckersResponse is the response body for GET /checkers.
type CheckersResponse struct {
	Checkers   []checker.Status `json:"checkers"`
	AllInLimit bool             `json:"all_in_limit"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.deps.Version, RunID: s.deps.RunID}
	if s.deps.Telemetry != nil {
		h := s.deps.Telemetry.Health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleState(c echo.Context) error {
	if s.deps.Machine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "state machine not available")
	}
	resp := StateResponse{
		Started:       s.deps.Machine.Started(),
		Stopped:       s.deps.Machine.Stopped(),
		Active:        s.deps.Machine.Active(),
		Configuration: s.deps.Machine.Configuration(),
	}
	if s.deps.Constants != nil {
		if snap := s.deps.Constants.Snapshot(); snap != nil {
			resp.Constants = &ConstantsInfo{
				Source:   snap.Source(),
				Version:  snap.Version(),
				LoadedAt: snap.LoadedAt(),
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCheckers(c echo.Context) error {
	if s.deps.Checkers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "checker registry not available")
	}
	return c.JSON(http.StatusOK, CheckersResponse{
		Checkers:   s.deps.Checkers.Statuses(),
		AllInLimit: s.deps.Checkers.AllInLimit(),
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
