// internal/api/router.go
package api

import (
	"github.com/gin-gonic/gin"
)

// NewRouter 配置HTTP路由
func NewRouter(handler *Handler, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(handler.log, handler.Metrics))
	r.Use(CORS())

	r.GET("/healthz", handler.Health)

	// WebSocket 支持
	r.GET("/ws/projects/:id", handler.WebSocket.ProjectWebSocket)

	// ===============================
	// API路由
	// ===============================
	api := r.Group("/api")
	api.Use(handler.Limiter.DefaultRateLimit())
	{
		// 项目
		projects := api.Group("/projects")
		{
			projects.GET("", handler.ListProjects)
			projects.POST("", handler.CreateProject)
			projects.GET("/:id", handler.GetProject)
			projects.PUT("/:id", handler.UpdateProject)
			projects.DELETE("/:id", handler.DeleteProject)

			// 轮次
			projects.POST("/:id/messages", handler.Limiter.ChatRateLimit(), handler.SendMessage)
			projects.POST("/:id/cancel", handler.CancelTurn)
			projects.GET("/:id/turn", handler.GetTurn)
		}

		// 设置
		api.GET("/settings", handler.GetSettings)
		api.PUT("/settings", handler.UpdateSettings)

		// LLM 与回复格式
		api.GET("/llm/models", handler.GetLLMModels)
		api.GET("/schema", handler.GetSchema)

		// 监控
		api.GET("/metrics", handler.GetMetrics)
	}

	return r
}
