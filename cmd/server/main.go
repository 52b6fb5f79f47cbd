package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/theraline/theraline/internal/api"
	"github.com/theraline/theraline/internal/auth"
	"github.com/theraline/theraline/internal/cache"
	"github.com/theraline/theraline/internal/chat"
	"github.com/theraline/theraline/internal/config"
	"github.com/theraline/theraline/internal/database"
	"github.com/theraline/theraline/internal/live"
	"github.com/theraline/theraline/internal/logger"
	internalWs "github.com/theraline/theraline/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Options{
		FileName:   cfg.Log.FileName,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("server")

	gin.SetMode(cfg.Server.Mode)

	auth.InitJWTKey([]byte(cfg.JWT.Secret))
	auth.SetTokenExpiry(time.Duration(cfg.JWT.ExpiryHours) * time.Hour)

	db, err := database.NewDatabase(database.PostgreSQL, cfg.Database.URL)
	if err != nil {
		log.Error("failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to postgres")

	// Conversation summary cache is optional; without redis every list
	// request re-aggregates from the message table.
	var summaryCache chat.SummaryCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSeconds)*time.Second)
		if err != nil {
			log.Error("failed to connect to redis: %v", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		summaryCache = redisCache
		log.Info("conversation cache enabled at %s", cfg.Redis.Addr)
	}

	bridge := live.NewBridge()
	publishers := live.Fanout{bridge}

	service := chat.NewService(db, summaryCache, &publishers)

	wsManager := internalWs.NewManager(service)
	go wsManager.Run()
	publishers = append(publishers, wsManager)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Kafka.Enabled {
		mirror := live.NewKafkaMirror(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer mirror.Close()
		publishers = append(publishers, mirror)

		// Events consumed from peers go to this node's own delivery
		// backends only; including the mirror here would republish them.
		local := live.Fanout{bridge, wsManager}
		hostname, _ := os.Hostname()
		go func() {
			if err := live.RunConsumer(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, "theraline-"+hostname, local); err != nil {
				log.Error("kafka consumer stopped: %v", err)
			}
		}()
		log.Info("kafka event mirror enabled on topic %s", cfg.Kafka.Topic)
	}

	router := gin.New()
	router.Use(logger.GinLogger(), logger.GinRecovery())

	if len(cfg.Server.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	authHandler := api.NewAuthHandler(db)
	conversationHandler := api.NewConversationHandler(service)

	router.POST("/api/auth/register", authHandler.Register)
	router.POST("/api/auth/login", authHandler.Login)

	authorized := router.Group("/api")
	authorized.Use(api.AuthMiddleware())
	{
		authorized.GET("/auth/me", authHandler.GetMe)
		authorized.GET("/users", authHandler.ListCounterparts)

		authorized.GET("/conversations", conversationHandler.ListConversations)
		authorized.POST("/conversations", conversationHandler.CreateConversation)
		authorized.GET("/conversations/:conversationID/messages", conversationHandler.ListMessages)
		authorized.POST("/conversations/:conversationID/messages", conversationHandler.SendMessage)
		authorized.PUT("/messages/:messageID/read", conversationHandler.MarkMessageAsRead)
	}

	// The websocket endpoint accepts the token as a query parameter as
	// well, since browser websocket clients cannot set headers.
	router.GET("/api/ws", func(c *gin.Context) {
		if token := c.Query("token"); token != "" {
			claims, err := auth.ValidateToken(token)
			if err == nil {
				if userUUID, err := uuid.Parse(claims.UserID); err == nil {
					c.Set("userID", userUUID)
					c.Set("username", claims.Username)
					c.Set("role", claims.Role)
					wsManager.HandleWebSocket(c)
					return
				}
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		api.AuthMiddleware()(c)
		if c.IsAborted() {
			return
		}
		wsManager.HandleWebSocket(c)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server: %v", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown: %v", err)
	}

	zap.L().Sync()
	log.Info("server exited")
}
