package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/modules/health"
	"go.uber.org/zap"
)

func SetupRouter(container *Container) *gin.Engine {
	if container.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(PanicRecoveryMiddleware(container.Logger))

	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(container.Logger))
	router.Use(TimeoutMiddleware(30 * time.Second))
	router.Use(SecurityHeadersMiddleware())

	if container.Config.Metrics.Enabled {
		router.Use(MetricsMiddleware(container.Metrics))
	}
	health.RegisterRoutes(router, container.HealthHandler)

	if container.Config.Metrics.Enabled {
		router.GET("/api/v1/metrics", gin.WrapH(promhttp.HandlerFor(container.Metrics.Gatherer(), promhttp.HandlerOpts{})))
	}

	return router
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			id, _ := uuid.NewRandom()
			requestID = id.String()
		}

		ctx := context.WithValue(c.Request.Context(), observability.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Set(string(observability.RequestIDKey), requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		finished := make(chan struct{}, 1)
		go func() {
			c.Next()
			finished <- struct{}{}
		}()

		select {
		case <-finished:
			return
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{
					"success": false,
					"error": gin.H{
						"code":    "REQUEST_TIMEOUT",
						"message": "Request timeout",
					},
				})
			}
		}
	}
}

func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Next()
	}
}

// probePaths are polled by supervisors and only logged at debug level.
var probePaths = map[string]bool{
	"/api/v1/alive":   true,
	"/api/v1/ready":   true,
	"/api/v1/health":  true,
	"/api/v1/metrics": true,
}

func LoggerMiddleware(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		statusCode := c.Writer.Status()
		fields := []zap.Field{
			logger.Field("method", c.Request.Method),
			logger.Field("path", path),
			logger.Field("status", statusCode),
			logger.Field("latency_ms", time.Since(start).Milliseconds()),
			logger.Field("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.Field("errors", c.Errors.String()))
		}

		switch {
		case statusCode >= 500:
			logger.Error(c.Request.Context(), "HTTP Request completed with server error", fields...)
		case statusCode >= 400:
			logger.Warn(c.Request.Context(), "HTTP Request completed with client error", fields...)
		case probePaths[path]:
			logger.Debug(c.Request.Context(), "Probe served", fields...)
		default:
			logger.Info(c.Request.Context(), "HTTP Request completed", fields...)
		}
	}
}

// MetricsMiddleware labels by route template; unmatched paths share one
// label.
func MetricsMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := fmt.Sprintf("%d", c.Writer.Status())
		metrics.HttpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		metrics.HttpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func PanicRecoveryMiddleware(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "Panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error": gin.H{
						"code":    "INTERNAL_ERROR",
						"message": "Internal server error",
					},
				})
			}
		}()
		c.Next()
	}
}
