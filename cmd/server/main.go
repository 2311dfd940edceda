package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tullo/chats/config"
	"github.com/tullo/chats/internal/auth"
	"github.com/tullo/chats/internal/cache"
	"github.com/tullo/chats/internal/database"
	"github.com/tullo/chats/internal/handlers"
	"github.com/tullo/chats/internal/middleware"
	"github.com/tullo/chats/internal/repository"
	"github.com/tullo/chats/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	db, err := database.NewPostgresDB(cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	log.Println("Running database migrations...")
	if err := database.RunMigrations(db.DB.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully")

	// Connect to Redis
	redis, err := cache.NewRedisClient(cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
		log.Println("Running without Redis - push events, presence and the block cache are disabled")
		redis = nil
	} else {
		defer redis.Close()
	}

	// Initialize services
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	blockRepo := repository.NewBlockRepository(db)

	policy := handlers.NewBlockPolicy(blockRepo, convRepo, redis)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(userRepo, jwtService)
	convHandler := handlers.NewConversationHandler(convRepo, msgRepo, redis)
	msgHandler := handlers.NewMessageHandler(msgRepo, convRepo, userRepo, policy, redis, cfg.API.RateLimitMessagesPerSec)
	blockHandler := handlers.NewBlockHandler(blockRepo, userRepo, policy, redis)
	userHandler := handlers.NewUserHandler(userRepo, cfg.API.SearchLimit)

	// Initialize WebSocket hub (only if Redis is available)
	var wsHandler *websocket.Handler
	if redis != nil {
		hub := websocket.NewHub(redis)
		go hub.Run()
		wsHandler = websocket.NewHandler(hub, jwtService, cfg.CORS.AllowedOrigins)
	}

	// Initialize rate limiter
	stop := make(chan struct{})
	defer close(stop)
	rateLimiter := middleware.NewRateLimiter(cfg.API.RateLimitMessagesPerSec)
	rateLimiter.Cleanup(stop)

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.RedirectTrailingSlash = false

	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public routes
	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}

	if wsHandler != nil {
		router.GET("/ws", wsHandler.HandleWebSocket)
	}

	authorized := middleware.AuthMiddleware(jwtService)
	router.GET("/me", authorized, authHandler.GetMe)

	// Chat routes
	chats := router.Group("/chats")
	chats.Use(authorized)
	{
		chats.GET("/conversations/", convHandler.GetConversations)
		chats.GET("/conversations/:id/chats", convHandler.GetThread)
		chats.POST("/conversations/:id/status", convHandler.UpdateStatus)
		chats.DELETE("/conversations/:id/delete", convHandler.DeleteConversation)

		chats.POST("/create/", middleware.RateLimitMiddleware(rateLimiter), msgHandler.SendMessage)
		chats.POST("/:id/update-status/", msgHandler.UpdateStatus)
		chats.DELETE("/:id/delete", msgHandler.DeleteMessage)

		chats.GET("/users/search/", userHandler.SearchUsers)
		chats.GET("/users/blocked/", blockHandler.ListBlocked)
		chats.POST("/users/:id/block/", blockHandler.BlockUser)
		chats.POST("/users/:id/unblock/", blockHandler.UnblockUser)

		if wsHandler != nil {
			chats.GET("/online-users/", wsHandler.GetOnlineUsers)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.FetchTimeout,
	}

	go func() {
		log.Printf("Starting chats server on %s (env: %s)", srv.Addr, cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
}
