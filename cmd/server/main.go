// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"nova-chat-go/internal/config"
	"nova-chat-go/internal/handler"
	"nova-chat-go/internal/middleware"
	"nova-chat-go/internal/repository"
	"nova-chat-go/internal/service"
	"nova-chat-go/pkg/database"
	"nova-chat-go/pkg/kafka"
	"nova-chat-go/pkg/llm"
	"nova-chat-go/pkg/log"
	"nova-chat-go/pkg/storage"
	"nova-chat-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库与外部依赖
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if cfg.MinIO.Endpoint != "" {
		storage.InitMinIO(cfg.MinIO)
	} else {
		log.Info("未配置 MinIO，生成图片将以 data URI 形式返回")
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	kv := repository.NewRedisKV(database.RDB)
	conversationRepo := repository.NewConversationRepository(kv)
	quotaRepo := repository.NewQuotaRepository(kv, cfg.Quota.DailyImageLimit)
	contextRepo := repository.NewSessionContextRepository(kv)
	mediaRepo := repository.NewMediaRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.SessionTokenExpireHours)
	llmClient := llm.NewClient(cfg.LLM)
	registry := service.NewSessionRegistry()
	memoryService := service.NewMemoryService(conversationRepo, llmClient, registry, cfg.Memory)
	conversationService := service.NewConversationService(conversationRepo, contextRepo, memoryService, registry, cfg.Chat)
	mediaService := service.NewMediaService(mediaRepo, quotaRepo, conversationService, llmClient, cfg.LLM.ImageSize)
	chatService := service.NewChatService(conversationService, llmClient)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// 会话令牌签发（公开访问）
		apiV1.POST("/session", handler.NewSessionHandler(jwtManager).CreateSession)

		// Conversation 路由组，需要会话认证
		conversations := apiV1.Group("/conversations")
		conversations.Use(middleware.SessionAuthMiddleware(jwtManager))
		{
			conversationHandler := handler.NewConversationHandler(conversationService)
			conversations.GET("", conversationHandler.GetConversations)
			conversations.POST("", conversationHandler.CreateConversation)
			conversations.GET("/active", conversationHandler.GetActiveConversation)
			conversations.PUT("/:conversationId/select", conversationHandler.SelectConversation)
			conversations.DELETE("/:conversationId", conversationHandler.DeleteConversation)
		}

		// 图片生成与媒体缓存路由组，需要会话认证
		images := apiV1.Group("/images")
		images.Use(middleware.SessionAuthMiddleware(jwtManager))
		{
			mediaHandler := handler.NewMediaHandler(mediaService)
			images.POST("/generations", mediaHandler.GenerateImage)
			images.GET("", mediaHandler.ListImages)
			images.DELETE("", mediaHandler.ClearImages)
			images.GET("/quota", mediaHandler.GetQuota)
		}
	}

	// Chat 路由 (WebSocket)，令牌走路径参数
	r.GET("/chat/:token", handler.NewChatHandler(chatService, jwtManager).Handle)

	// 8. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
