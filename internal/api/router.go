package api

import (
	"uploadhook/internal/metrics"
	"uploadhook/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type RouterConfig struct {
	Origins           []string
	JWTSecret         string
	RequestsPerSecond int
}

const roleAdmin = "admin"

func RegisterRoutes(worker WorkerProvider, rdb redis.Scripter, cfg RouterConfig) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HTTPMetrics(),
		middleware.CorsMiddleware(cfg.Origins),
	)
	_ = r.SetTrustedProxies(nil)

	health := NewHealthHandler(worker)
	r.GET("/health", health.Health)
	r.GET("/metrics", health.Metrics)
	r.GET("/metrics/prometheus", gin.WrapH(metrics.Handler()))

	admin := NewAdminHandler(worker)
	protected := r.Group("/v1/admin")
	protected.Use(
		middleware.JWTMiddleware([]byte(cfg.JWTSecret)),
		middleware.RequireRole(roleAdmin),
		middleware.RateLimitMiddleware(rdb, cfg.RequestsPerSecond),
	)
	{
		protected.POST("/dead-letters/retry", admin.RetryDeadLetters)
	}
	return r
}
