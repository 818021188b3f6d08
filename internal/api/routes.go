package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"infikar/internal/api/middleware"
	"infikar/internal/auth"
	"infikar/internal/cards"
	"infikar/internal/config"
	"infikar/internal/entitlement"
	"infikar/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
) {
	resolver := entitlement.NewResolver(entitlement.ProDefaults{
		CardLimit:        cfg.Limits.ProCardLimit,
		SocialLinksLimit: cfg.Limits.ProSocialLinksLimit,
		PicksLimit:       cfg.Limits.ProPicksLimit,
	})
	cardService := cards.NewService(db, resolver)

	authHandler := NewAuthHandler(
		db,
		authService,
		redisClient,
		logger,
		cfg.Auth.LoginRateLimitPerHour,
		cfg.Auth.LoginLockThreshold,
		cfg.Auth.LoginLockTTL,
		cfg.API.CookieDomain,
	)
	cardHandler := NewCardHandler(cardService, asynqClient, storageClient, logger)
	contentHandler := NewContentHandler(cardService, asynqClient, logger)
	childHandler := NewChildHandler(cardService, asynqClient, logger)
	profileHandler := NewProfileHandler(cardService, asynqClient, logger)
	templateHandler := NewTemplateHandler(db)
	accountHandler := NewAccountHandler(db, resolver)
	analyticsHandler := NewAnalyticsHandler(db, cardService, resolver)
	assetHandler := NewAssetHandler(
		db,
		storageClient,
		logger,
		redisClient,
		cfg.Uploads.ClamdAddr,
		cfg.Uploads.MaxBytes,
		cfg.Uploads.MIMEWhitelistValues(),
		cfg.Uploads.MaxAssetsPerUser,
		cfg.Uploads.MaxUploadsPerDay,
	)
	wsHandler := NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOriginValues())

	authMiddleware := middleware.AuthMiddleware(authService)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	// 公开访问的名片页面与跳转链接。
	router.GET("/p/:username", profileHandler.GetProfile)
	router.GET("/p/:username/:slug", profileHandler.GetCard)
	router.GET("/r/links/:linkID", profileHandler.ClickLink)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		v1.GET("/templates", templateHandler.ListTemplates)
		v1.GET("/templates/:id", templateHandler.GetTemplate)
		v1.GET("/plans", accountHandler.ListPlans)

		meGroup := v1.Group("/me")
		meGroup.Use(authMiddleware, passwordGate)
		{
			meGroup.GET("", accountHandler.GetMe)
			meGroup.PATCH("", accountHandler.UpdateMe)
			meGroup.GET("/entitlements", accountHandler.GetEntitlements)
		}

		cardGroup := v1.Group("/cards")
		cardGroup.Use(authMiddleware, passwordGate)
		{
			cardGroup.POST("", cardHandler.CreateCard)
			cardGroup.GET("", cardHandler.ListCards)
			cardGroup.POST("/reorder", cardHandler.ReorderCards)
			cardGroup.GET("/:id", cardHandler.GetCard)
			cardGroup.PATCH("/:id", cardHandler.UpdateCard)
			cardGroup.DELETE("/:id", cardHandler.DeleteCard)

			cardGroup.POST("/:id/publish", cardHandler.Publish)
			cardGroup.POST("/:id/draft", cardHandler.SaveAsDraft)
			cardGroup.POST("/:id/hidden", cardHandler.SetHidden)
			cardGroup.POST("/:id/preview", cardHandler.RequestPreview)

			cardGroup.PUT("/:id/content", contentHandler.UpsertContent)
			cardGroup.GET("/:id/analytics", analyticsHandler.GetCardAnalytics)

			cardGroup.POST("/:id/links", childHandler.AddLink)
			cardGroup.POST("/:id/links/reorder", childHandler.ReorderLinks)
			cardGroup.PATCH("/:id/links/:linkID", childHandler.UpdateLink)
			cardGroup.DELETE("/:id/links/:linkID", childHandler.DeleteLink)

			cardGroup.POST("/:id/picks", childHandler.AddPick)
			cardGroup.POST("/:id/picks/reorder", childHandler.ReorderPicks)
			cardGroup.PATCH("/:id/picks/:pickID", childHandler.UpdatePick)
			cardGroup.DELETE("/:id/picks/:pickID", childHandler.DeletePick)

			cardGroup.POST("/:id/videos", childHandler.AddVideo)
			cardGroup.POST("/:id/videos/reorder", childHandler.ReorderVideos)
			cardGroup.PATCH("/:id/videos/:videoID", childHandler.UpdateVideo)
			cardGroup.DELETE("/:id/videos/:videoID", childHandler.DeleteVideo)
		}

		assetGroup := v1.Group("/assets")
		assetGroup.Use(authMiddleware, passwordGate)
		{
			assetGroup.POST("/upload", assetHandler.UploadAsset)
			assetGroup.GET("", assetHandler.ListAssets)
			assetGroup.GET("/view", assetHandler.GetAssetURL)
			assetGroup.DELETE("", assetHandler.DeleteAsset)
		}
	}
}
