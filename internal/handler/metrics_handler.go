package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-health-api/internal/service"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
	"github.com/noah-isme/campus-health-api/pkg/response"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics      *service.MetricsService
	deps         pinger
	readyTimeout time.Duration
}

// NewMetricsHandler constructs a metrics handler. deps backs the readiness probe.
func NewMetricsHandler(metrics *service.MetricsService, deps pinger) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, deps: deps, readyTimeout: 2 * time.Second}
}

// Register mounts the operational routes.
func (h *MetricsHandler) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
	r.GET("/ops/snapshot", h.Snapshot)
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness usage.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports whether the backing stores answer.
func (h *MetricsHandler) Ready(c *gin.Context) {
	if h.deps != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.readyTimeout)
		defer cancel()
		if err := h.deps.Ping(ctx); err != nil {
			appErr := appErrors.Wrap(err, "NOT_READY", http.StatusServiceUnavailable, "dependencies unavailable")
			response.Error(c, appErr)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Snapshot returns aggregated runtime counters.
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
