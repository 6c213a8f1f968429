package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"expiry-compliance/internal/engine"
	"expiry-compliance/internal/models"
	"expiry-compliance/internal/queue"
	"expiry-compliance/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Engines resolves an account's engine
type Engines interface {
	Get(accountID string) (*engine.Engine, error)
}

// BundleReader returns an account's latest evaluation, nil if none yet
type BundleReader interface {
	LatestBundle(ctx context.Context, accountID string) (*models.Bundle, error)
}

// ReadinessCheck reports whether one dependency is usable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	engines        Engines
	bundles        BundleReader
	hub            *Hub
	defaultAccount string
	checks         map[string]ReadinessCheck
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler. Requests without an account_id
// query parameter address defaultAccount.
func NewHandler(engines Engines, bundles BundleReader, hub *Hub, defaultAccount string) *Handler {
	return &Handler{
		engines:        engines,
		bundles:        bundles,
		hub:            hub,
		defaultAccount: defaultAccount,
		checks:         map[string]ReadinessCheck{},
		logger:         util.ComponentLogger("api"),
	}
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/compliance/latest", h.latestBundle)
		v1.GET("/scheduler/status", h.schedulerStatus)
		v1.POST("/scheduler/run", h.runScheduler)
		v1.GET("/queue/status", h.queueStatus)
		v1.POST("/queue/mutations", h.enqueueMutation)
		v1.POST("/queue/drain", h.drainQueue)
		v1.POST("/connectivity", h.setConnectivity)
		v1.GET("/stream", h.stream)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports not ready while any registered dependency fails
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) accountID(c *gin.Context) string {
	if id := c.Query("account_id"); id != "" {
		return id
	}
	return h.defaultAccount
}

// engine resolves the request's engine, writing a 404 when unknown
func (h *Handler) engine(c *gin.Context) (*engine.Engine, bool) {
	e, err := h.engines.Get(h.accountID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Account not found",
			"details": err.Error(),
		})
		return nil, false
	}
	return e, true
}

// latestBundle returns the newest evaluation of the account
func (h *Handler) latestBundle(c *gin.Context) {
	accountID := h.accountID(c)
	bundle, err := h.bundles.LatestBundle(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load compliance state",
			"details": err.Error(),
		})
		return
	}
	if bundle == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No evaluation yet",
		})
		return
	}
	c.JSON(http.StatusOK, bundle)
}

// schedulerStatus returns running/last/next check state
func (h *Handler) schedulerStatus(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, e.Scheduler().Status())
}

// runScheduler restarts the scheduler, which evaluates immediately
func (h *Handler) runScheduler(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}

	if err := e.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Failed to start scheduler",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, e.Scheduler().Status())
}

// queueStatus returns connectivity and pending count
func (h *Handler) queueStatus(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}

	status, err := e.Queue().Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read queue",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// enqueueMutation buffers one item mutation
func (h *Handler) enqueueMutation(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}

	var req models.MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	payload, err := req.Payload()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid mutation",
			"details": err.Error(),
		})
		return
	}

	pending, err := e.Enqueue(c.Request.Context(), payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue mutation",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"pending_count": pending,
	})
}

// drainQueue replays pending mutations now
func (h *Handler) drainQueue(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}

	result, err := e.Drain(c.Request.Context())
	switch {
	case errors.Is(err, queue.ErrOffline), errors.Is(err, queue.ErrDrainInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	case err != nil:
		h.logger.Warn("Drain failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to drain queue",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

type connectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// setConnectivity records a connectivity transition reported by the host
func (h *Handler) setConnectivity(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}

	var req connectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := e.SetOnline(c.Request.Context(), *req.Online)
	if err != nil && !errors.Is(err, queue.ErrDrainInProgress) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to drain queue",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"online": *req.Online,
		"drain":  result,
	})
}

// stream upgrades to a websocket carrying the account's bundles
func (h *Handler) stream(c *gin.Context) {
	accountID := h.accountID(c)
	if _, err := h.engines.Get(accountID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Account not found",
		})
		return
	}

	latest, err := h.bundles.LatestBundle(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Warn("Failed to load latest bundle for stream", zap.Error(err))
	}
	h.hub.serve(c, accountID, latest)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
