package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"infikar/internal/api/middleware"
	"infikar/internal/config"
	"infikar/internal/metrics"
)

// NewRouter 构建 Gin 路由引擎，挂载通用中间件与健康检查端点。
// 配置了 internal secret 时，/metrics 仅对内部调用方开放。
func NewRouter(cfg *config.Config, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	metricsHandlers := []gin.HandlerFunc{gin.WrapH(promhttp.Handler())}
	if cfg.API.InternalSecret != "" {
		metricsHandlers = append(
			[]gin.HandlerFunc{middleware.InternalSecretMiddleware(cfg.API.InternalSecret)},
			metricsHandlers...,
		)
	}
	router.GET("/metrics", metricsHandlers...)

	return router
}
