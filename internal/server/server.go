// Package server exposes the collector over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vincentbai/sitetrace-agent/internal/metrics"
	"github.com/vincentbai/sitetrace-agent/internal/models"
	"github.com/vincentbai/sitetrace-agent/internal/store"
	"github.com/vincentbai/sitetrace-agent/internal/summary"
)

// SessionStore is what the handlers need from the store.
type SessionStore interface {
	Append(ctx context.Context, session models.Session) error
	ReadAll(ctx context.Context) ([]models.Session, error)
}

type Config struct {
	Host      string
	Port      int
	BodyLimit string  // echo size notation, e.g. "500K"
	RateLimit float64 // requests per second per client IP on /collect; 0 disables
	RateBurst int

	ShutdownTimeout time.Duration
}

type Server struct {
	echo     *echo.Echo
	store    SessionStore
	logger   *zap.Logger
	config   *Config
	limiters *ipLimiters
	now      func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func NewServer(sessions SessionStore, logger *zap.Logger, cfg *Config) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("server: store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 4000}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "500K"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = 5 * time.Second
	e.Server.WriteTimeout = 5 * time.Second

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(requestLogger(logger))

	s := &Server{
		echo:     e,
		store:    sessions,
		logger:   logger,
		config:   cfg,
		limiters: newIPLimiters(cfg.RateLimit, cfg.RateBurst),
		now:      time.Now,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.POST("/collect", s.handleCollect, s.rateLimit)
	s.echo.GET("/metrics", s.handleMetrics)
	s.echo.GET("/internal/prometheus", echo.WrapHandler(promhttp.Handler()))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// ListenerAddr is the bound address once Run is listening, nil before.
func (s *Server) ListenerAddr() net.Addr {
	return s.echo.ListenerAddr()
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleCollect(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		metrics.IngestRejected.WithLabelValues("invalid").Inc()
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr // body limit exceeded
		}
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid payload"})
	}

	session, err := store.ParseSession(body)
	if err != nil {
		metrics.IngestRejected.WithLabelValues("invalid").Inc()
		s.logger.Debug("rejected payload", zap.Error(err))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid payload"})
	}

	if err := s.store.Append(c.Request().Context(), session); err != nil {
		metrics.IngestRejected.WithLabelValues("error").Inc()
		s.logger.Error("failed to save analytics session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to store analytics data"})
	}
	return c.JSON(http.StatusCreated, statusResponse{Status: "stored"})
}

func (s *Server) handleMetrics(c echo.Context) error {
	sessions, err := s.store.ReadAll(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to build analytics summary", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Unable to build summary"})
	}
	return c.JSON(http.StatusOK, summary.Summarize(sessions))
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiters.allow(c.RealIP()) {
			metrics.IngestRejected.WithLabelValues("rate_limited").Inc()
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "Too many requests"})
		}
		return next(c)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("collector listening", zap.String("addr", s.Addr()))
		if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down collector")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	}
}
