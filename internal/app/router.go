package app

import (
	"coder_edu_progress/internal/config"
	"coder_edu_progress/internal/middleware"
	"coder_edu_progress/internal/util"
	"coder_edu_progress/pkg/monitoring"
	"coder_edu_progress/pkg/security"
	"time"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 2. 需要授权的路由，按用户限流
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), security.RateLimiter(a.ctx, cfg.RateLimit.MaxRequests, window))
	{
		authGroup.GET("/progress/lessons/:lessonId", c.progress.FindProgress)
		authGroup.PUT("/progress", c.progress.UpsertProgress)
		authGroup.GET("/progress/courses/:courseId", c.progress.ListCourseProgress)
		authGroup.GET("/courses/:courseId/lessons", c.progress.ListLessons)

		authGroup.GET("/certificates/:courseId", c.certificate.GetCertificate)
		authGroup.POST("/certificates/:courseId", c.certificate.IssueCertificate)

		authGroup.GET("/activity", c.activity.RecentActivity)
		authGroup.POST("/activity", c.activity.AppendActivity)
	}

	// 3. 管理员相关接口
	admin := authGroup.Group("/admin")
	admin.Use(middleware.RoleMiddleware(util.RoleAdmin))
	{
		admin.DELETE("/courses/:courseId/catalog-cache", c.progress.InvalidateCatalog)
	}
}
