package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"coinup/backend/internal/auth"
	jwtpkg "coinup/backend/internal/auth/jwt"
	"coinup/backend/internal/config"
	"coinup/backend/internal/health"
	"coinup/backend/internal/middleware"
	"coinup/backend/internal/monitoring"
	"coinup/backend/internal/service"
	"coinup/backend/internal/storage"
	"coinup/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config            *config.Config
	AuthService       *auth.Service
	TopupService      *service.TopupService
	GameService       *service.GameService
	UsernameService   *service.UsernameService
	PaymentLogService *service.PaymentLogService
	JWTManager        *jwtpkg.Manager
	Engine            EngineController // 可为 nil
	WebSocketHub      *websocket.Hub   // 可为 nil
	HealthChecker     *health.HealthChecker
	Metrics           *monitoring.Metrics
	Store             storage.Store
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	monitoringMW := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)

	router.Use(monitoringMW.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(monitoringMW.HTTPMetrics())
	router.Use(monitoringMW.RateLimitMetrics())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	authHandler := NewAuthHandler(deps.AuthService, deps.JWTManager, deps.Store, deps.Logger)
	topupHandler := NewTopupHandler(deps.TopupService, deps.Logger)
	gameHandler := NewGameHandler(deps.GameService, deps.UsernameService, deps.Logger)
	adminHandler := NewAdminHandler(deps.Store, deps.TopupService, deps.PaymentLogService, deps.Engine, deps.Logger)

	// 创建中间件
	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, deps.Store, deps.Logger)
	adminAuth := middleware.NewAdminAuth(deps.AuthService)

	// 认证端点限流：暴力破解防护
	authRateLimit := middleware.WindowRateLimit(deps.Store, 20, time.Minute, deps.Logger)
	// 充值创建限流
	topupRateLimit := middleware.WindowRateLimit(deps.Store, 10, time.Minute, deps.Logger)

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查与指标
	if deps.HealthChecker != nil {
		router.GET("/health", gin.WrapH(deps.HealthChecker.Handler()))
		router.GET("/healthz", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.HealthChecker.CheckHealth())
		})
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Public Routes ==========
		v1.GET("/games", gameHandler.ListActive)

		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		authRoutes.Use(authRateLimit)
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/refresh", authHandler.Refresh)
			authRoutes.POST("/logout", jwtAuth.RequireAuth(), authHandler.Logout)
			authRoutes.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
			authRoutes.POST("/password", jwtAuth.RequireAuth(), authHandler.ChangePassword)
		}

		// ========== Topup Routes ==========
		topupRoutes := v1.Group("/topups")
		topupRoutes.Use(jwtAuth.RequireAuth())
		{
			topupRoutes.POST("", topupRateLimit, topupHandler.Create)
			topupRoutes.GET("", topupHandler.List)
			topupRoutes.GET("/:id", topupHandler.Get)
		}

		// ========== Game Username Routes ==========
		usernameRoutes := v1.Group("/usernames")
		usernameRoutes.Use(jwtAuth.RequireAuth())
		{
			usernameRoutes.POST("", gameHandler.AddUsername)
			usernameRoutes.GET("", gameHandler.ListUsernames)
			usernameRoutes.DELETE("/:id", gameHandler.RemoveUsername)
		}

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(jwtAuth.RequireAuth(), adminAuth.RequireAdmin())
		{
			// 用户管理
			adminRoutes.GET("/users", adminHandler.ListUsers)
			adminRoutes.GET("/users/:id", adminHandler.GetUser)
			adminRoutes.PATCH("/users/:id", adminHandler.UpdateUser)
			adminRoutes.GET("/users/:id/topups", adminHandler.ListUserTopups)

			// 游戏条目管理
			adminRoutes.GET("/games", gameHandler.ListAll)
			adminRoutes.POST("/games", gameHandler.Create)
			adminRoutes.PUT("/games/:id", gameHandler.Update)
			adminRoutes.DELETE("/games/:id", gameHandler.Delete)

			// 付款判定审计
			adminRoutes.GET("/payment-logs", adminHandler.ListPaymentLogs)

			// 轮询引擎运维
			adminRoutes.GET("/engine", adminHandler.EngineStatus)
			adminRoutes.POST("/engine/start", adminHandler.StartEngine)
			adminRoutes.POST("/engine/stop", adminHandler.StopEngine)
		}
	}

	return router
}
