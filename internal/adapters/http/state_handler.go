package http

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskmaster/workspace/internal/domain/entities"
	"github.com/taskmaster/workspace/internal/infrastructure/logger"
	"github.com/taskmaster/workspace/internal/ports"
)

// APIKeyHeader carries the pre-shared key
const APIKeyHeader = "X-API-Key"

// StateMetrics counts state reads and writes by result
type StateMetrics struct {
	reads  *prometheus.CounterVec
	writes *prometheus.CounterVec
}

// NewStateMetrics creates the counters and registers them
func NewStateMetrics(registerer prometheus.Registerer) *StateMetrics {
	m := &StateMetrics{
		reads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "state_reads_total",
				Help: "Total number of state reads by result",
			},
			[]string{"result"},
		),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "state_writes_total",
				Help: "Total number of state writes by result",
			},
			[]string{"result"},
		),
	}
	registerer.MustRegister(m.reads, m.writes)
	return m
}

func (m *StateMetrics) read(result string) {
	if m != nil {
		m.reads.WithLabelValues(result).Inc()
	}
}

func (m *StateMetrics) write(result string) {
	if m != nil {
		m.writes.WithLabelValues(result).Inc()
	}
}

// StateHandler handles the state document endpoints
type StateHandler struct {
	stateService ports.StateService
	metrics      *StateMetrics
	logger       *logger.Logger
}

// NewStateHandler creates a new state handler. metrics may be nil.
func NewStateHandler(stateService ports.StateService, metrics *StateMetrics, logger *logger.Logger) *StateHandler {
	return &StateHandler{
		stateService: stateService,
		metrics:      metrics,
		logger:       logger.WithComponent("state_handler"),
	}
}

// GetState returns the stored document
// @Summary Get the workspace document
// @Tags state
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} ports.GetStateResponse
// @Failure 401 {object} ports.ErrorResponse
// @Failure 404 {object} ports.ErrorResponse
// @Failure 500 {object} ports.ErrorResponse
// @Router /state [get]
func (h *StateHandler) GetState(c echo.Context) error {
	record, err := h.stateService.GetState(c.Request().Context())
	switch {
	case errors.Is(err, entities.ErrStateNotFound):
		h.metrics.read(ports.CodeEmpty)
		return c.JSON(http.StatusNotFound, ports.ErrorResponse{Error: ports.CodeEmpty})
	case errors.Is(err, entities.ErrInvalidState):
		h.metrics.read(ports.CodeInvalidState)
		return c.JSON(http.StatusInternalServerError, ports.ErrorResponse{Error: ports.CodeInvalidState})
	case err != nil:
		h.logger.WithError(err).Error("Failed to load state")
		h.metrics.read(ports.CodeDBError)
		return c.JSON(http.StatusInternalServerError, ports.ErrorResponse{Error: ports.CodeDBError})
	}

	h.metrics.read("ok")
	return c.JSON(http.StatusOK, ports.GetStateResponse{
		State:     record.State,
		UpdatedAt: record.UpdatedAt,
	})
}

// PutState stores a new document
// @Summary Replace the workspace document
// @Tags state
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body ports.PutStateRequest true "Document and the timestamp it was based on"
// @Success 200 {object} ports.PutStateResponse
// @Failure 400 {object} ports.ErrorResponse
// @Failure 401 {object} ports.ErrorResponse
// @Failure 409 {object} ports.ConflictResponse
// @Failure 500 {object} ports.ErrorResponse
// @Router /state [put]
func (h *StateHandler) PutState(c echo.Context) error {
	var req ports.PutStateRequest
	if err := c.Bind(&req); err != nil {
		h.metrics.write(ports.CodeInvalidPayload)
		return c.JSON(http.StatusBadRequest, ports.ErrorResponse{Error: ports.CodeInvalidPayload})
	}
	if err := c.Validate(&req); err != nil {
		h.metrics.write(ports.CodeInvalidPayload)
		return c.JSON(http.StatusBadRequest, ports.ErrorResponse{Error: ports.CodeInvalidPayload})
	}

	record, err := h.stateService.PutState(c.Request().Context(), req)
	switch {
	case errors.Is(err, entities.ErrStateConflict):
		h.metrics.write(ports.CodeConflict)
		return c.JSON(http.StatusConflict, ports.ConflictResponse{
			Error:     ports.CodeConflict,
			State:     record.State,
			UpdatedAt: record.UpdatedAt,
		})
	case errors.Is(err, entities.ErrInvalidPayload):
		h.metrics.write(ports.CodeInvalidPayload)
		return c.JSON(http.StatusBadRequest, ports.ErrorResponse{Error: ports.CodeInvalidPayload})
	case err != nil:
		h.logger.WithError(err).Error("Failed to store state")
		h.metrics.write(ports.CodeDBError)
		return c.JSON(http.StatusInternalServerError, ports.ErrorResponse{Error: ports.CodeDBError})
	}

	h.metrics.write("ok")
	return c.JSON(http.StatusOK, ports.PutStateResponse{OK: true, UpdatedAt: record.UpdatedAt})
}

// Health is the unauthenticated liveness probe
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} ports.HealthResponse
// @Router /health [get]
func (h *StateHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, ports.HealthResponse{OK: true})
}

// Ready reports whether the storage backend is reachable
func (h *StateHandler) Ready(c echo.Context) error {
	if err := h.stateService.Health(c.Request().Context()); err != nil {
		h.logger.WithError(err).Warn("Storage not ready")
		return c.JSON(http.StatusServiceUnavailable, ports.ErrorResponse{Error: ports.CodeDBError})
	}
	return c.JSON(http.StatusOK, ports.HealthResponse{OK: true})
}

// APIKeyAuth rejects requests whose X-API-Key does not match apiKey exactly
func APIKeyAuth(apiKey string, logger *logger.Logger) echo.MiddlewareFunc {
	expected := []byte(apiKey)
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + APIKeyHeader,
		Validator: func(key string, c echo.Context) (bool, error) {
			return len(expected) > 0 && subtle.ConstantTimeCompare([]byte(key), expected) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			logger.LogSecurityEvent("invalid_api_key", c.RealIP(), map[string]interface{}{
				"path":   c.Request().URL.Path,
				"method": c.Request().Method,
			})
			return c.JSON(http.StatusUnauthorized, ports.ErrorResponse{Error: ports.CodeUnauthorized})
		},
	})
}
