package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"
	"golang.org/x/time/rate"

	_ "github.com/taskmaster/workspace/docs"
	httpHandlers "github.com/taskmaster/workspace/internal/adapters/http"
	"github.com/taskmaster/workspace/internal/application/services"
	"github.com/taskmaster/workspace/internal/infrastructure/config"
	"github.com/taskmaster/workspace/internal/infrastructure/logger"
	"github.com/taskmaster/workspace/internal/ports"
)

// Server represents the HTTP server
type Server struct {
	echo     *echo.Echo
	config   *config.Config
	logger   *logger.Logger
	repo     ports.StateRepository
	registry *prometheus.Registry
}

// CustomValidator wraps the validator
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates structs
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// New creates a new server instance around an open state repository
func New(cfg *config.Config, repo ports.StateRepository, appLogger *logger.Logger) (*Server, error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.App.Debug
	e.HTTPErrorHandler = customErrorHandler(appLogger)

	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	server := &Server{
		echo:   e,
		config: cfg,
		logger: appLogger,
		repo:   repo,
	}

	server.setupMiddleware()

	var stateMetrics *httpHandlers.StateMetrics
	if cfg.Metrics.Enabled {
		server.setupMetrics()
		stateMetrics = httpHandlers.NewStateMetrics(server.registry)
	}

	stateService := services.NewStateService(repo, cfg.Auth.DefaultUser, cfg.Storage.Key, appLogger)
	stateHandler := httpHandlers.NewStateHandler(stateService, stateMetrics, appLogger)

	server.setupRoutes(stateHandler)

	return server, nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, values middleware.RequestLoggerValues) error {
			reqLogger := s.logger.WithRequestID(values.RequestID)
			latency := float64(values.Latency.Nanoseconds()) / 1000000

			if values.Error != nil {
				reqLogger.WithError(values.Error).Errorw("HTTP request failed",
					"method", values.Method,
					"uri", values.URI,
					"status", values.Status,
					"latency_ms", latency,
					"remote_ip", values.RemoteIP,
				)
				return nil
			}

			reqLogger.LogHTTPRequest(values.Method, values.URI, values.UserAgent, values.RemoteIP, values.Status, latency)
			return nil
		},
	}))

	if s.config.Server.BodyLimit != "" {
		s.echo.Use(middleware.BodyLimit(s.config.Server.BodyLimit))
	}

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: strings.Split(s.config.Security.CORSAllowedOrigins, ","),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, httpHandlers.APIKeyHeader},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodOptions},
	}))

	window := s.config.Security.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	s.echo.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(float64(s.config.Security.RateLimitRequests) / window.Seconds()),
				Burst:     s.config.Security.RateLimitRequests,
				ExpiresIn: window,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(context echo.Context, err error) error {
			return context.JSON(http.StatusForbidden, ports.ErrorResponse{Error: ports.CodeRateLimited})
		},
		DenyHandler: func(context echo.Context, identifier string, err error) error {
			s.logger.LogSecurityEvent("rate_limited", identifier, map[string]interface{}{
				"path": context.Request().URL.Path,
			})
			return context.JSON(http.StatusTooManyRequests, ports.ErrorResponse{Error: ports.CodeRateLimited})
		},
	}))

	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
	}))

	s.echo.Use(middleware.RequestID())

	if s.config.Server.RequestTimeout > 0 {
		s.echo.Use(middleware.ContextTimeout(s.config.Server.RequestTimeout))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(stateHandler *httpHandlers.StateHandler) {
	s.echo.GET("/health", stateHandler.Health)
	s.echo.GET("/ready", stateHandler.Ready)

	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)

	auth := httpHandlers.APIKeyAuth(s.config.Auth.APIKey, s.logger)

	// Clients configure either the bare origin or the versioned prefix. Auth
	// is attached per route: group middleware would also claim unknown paths.
	for _, group := range []*echo.Group{s.echo.Group(""), s.echo.Group("/api/v1")} {
		group.GET("/state", stateHandler.GetState, auth)
		group.PUT("/state", stateHandler.PutState, auth)
	}
}

// setupMetrics configures Prometheus metrics
func (s *Server) setupMetrics() {
	s.registry = prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	s.registry.MustRegister(requestsTotal, requestDuration)

	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start)
			status := c.Response().Status

			requestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				fmt.Sprintf("%d", status),
			).Inc()

			requestDuration.WithLabelValues(
				c.Request().Method,
				c.Path(),
			).Observe(duration.Seconds())

			return err
		}
	})

	metricsHandler := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	s.echo.GET("/metrics", echo.WrapHandler(metricsHandler))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	address := s.config.Server.GetAddress()
	s.logger.Infow("Starting server", "address", address, "storage", s.config.Storage.Driver)
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and closes the repository
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	err := s.echo.Shutdown(ctx)
	if cerr := s.repo.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// customErrorHandler renders every framework error as {"error": code}
func customErrorHandler(logger *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Internal != nil {
				err = fmt.Errorf("%v, %v", err, he.Internal)
			}
		}

		if code >= http.StatusInternalServerError {
			logger.Errorw("Internal server error", "error", err, "path", c.Request().URL.Path)
		}

		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, ports.ErrorResponse{Error: errorCode(code)})
		}
		if err != nil {
			logger.Errorw("Error sending response", "error", err)
		}
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return ports.CodeInvalidPayload
	case http.StatusUnauthorized:
		return ports.CodeUnauthorized
	case http.StatusNotFound:
		return ports.CodeNotFound
	case http.StatusTooManyRequests:
		return ports.CodeRateLimited
	case http.StatusInternalServerError:
		return ports.CodeInternal
	}
	text := http.StatusText(status)
	if text == "" {
		return ports.CodeInternal
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "_"))
}
