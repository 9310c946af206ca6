package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sudooom.im.chat/internal/config"
	"sudooom.im.chat/internal/handler"
	"sudooom.im.chat/internal/health"
	"sudooom.im.chat/internal/middleware"
)

// SetupRouter 设置路由
func SetupRouter(
	cfg *config.Config,
	checker *health.Checker,
	wsHandler *handler.WSHandler,
	chatHandler *handler.ChatHandler,
	notificationHandler *handler.NotificationHandler,
) *gin.Engine {
	// 设置 Gin 模式
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.App.AllowedOrigins))

	// 运维接口
	r.GET("/health", checker.Live)
	r.GET("/ready", checker.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 实时通道
	r.GET("/ws", wsHandler.Serve)

	// API v1
	v1 := r.Group("/api/v1")
	{
		// 服务间投递（无需用户身份）
		internal := v1.Group("/internal")
		{
			internal.POST("/notifications", notificationHandler.Notify)
		}

		// 公开资料
		v1.GET("/chat/user/:userid", chatHandler.GetProfile)

		// 需要用户身份的接口
		authenticated := v1.Group("")
		authenticated.Use(middleware.UserIdentity())
		{
			// 私信接口
			chat := authenticated.Group("/chat")
			{
				chat.GET("/history/:peerId", chatHandler.GetHistory)
				chat.GET("/list", chatHandler.GetChatList)
				chat.GET("/unread", chatHandler.GetUnreadTotals)
				chat.PATCH("/:conversationId/flags", chatHandler.UpdateFlag)
			}

			// 通知接口
			notifications := authenticated.Group("/notifications")
			{
				notifications.GET("", notificationHandler.List)
				notifications.DELETE("", notificationHandler.DeleteAll)
				notifications.PATCH("/read-all", notificationHandler.MarkAllRead)
				notifications.GET("/settings", notificationHandler.GetSettings)
				notifications.PUT("/settings", notificationHandler.UpdateSettings)
				notifications.PATCH("/:id/read", notificationHandler.MarkRead)
				notifications.DELETE("/:id", notificationHandler.Delete)
			}
		}
	}

	return r
}
