package http

import (
	"net/http"

	"vidswarm/internal/infrastructure/middleware"
	"vidswarm/internal/infrastructure/monitoring"
	"vidswarm/pkg/config"
	"vidswarm/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the gin engine shared by the tracker admin API and the peer
// control API. reg may be nil when Prometheus is disabled.
func NewRouter(cfg *config.Config, log *logger.ContextLogger, health *monitoring.HealthChecker, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.RecoveryMiddleware(log),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET("/health", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status == monitoring.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if reg != nil && cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	return router
}
