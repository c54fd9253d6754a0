package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/chatbridge/chatbridge/internal/app"
	iauth "github.com/chatbridge/chatbridge/internal/auth"
	"github.com/chatbridge/chatbridge/internal/handlers"
	"github.com/chatbridge/chatbridge/internal/middleware"
	"github.com/chatbridge/chatbridge/internal/realtime"
	"github.com/chatbridge/chatbridge/internal/services"
	"github.com/chatbridge/chatbridge/internal/storage"
)

// Dependencies bundles everything the router needs.
type Dependencies struct {
	DB       *gorm.DB
	Config   *app.Config
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
	Hub      *realtime.Hub
	Messages *services.MessageService
	Admin    *services.AdminService
	Voice    *storage.DiskVoiceStore
}

// NewRouter builds the Gin engine, wires middleware, and registers all routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("auth services must be provided")
	}
	if deps.Hub == nil || deps.Messages == nil || deps.Admin == nil {
		return nil, fmt.Errorf("chat services must be provided")
	}
	if deps.Voice == nil {
		return nil, fmt.Errorf("voice store must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(100, time.Minute))

	accountHandler := handlers.NewAccountHandler(deps.DB, deps.Sessions, deps.Admin, deps.Config.Features.Registration.Enabled)
	messageHandler := handlers.NewMessageHandler(deps.Messages, deps.Voice)
	adminHandler := handlers.NewAdminHandler(deps.DB, deps.Admin)
	usersHandler := handlers.NewUsersHandler(deps.DB, deps.Hub)
	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.JWT, deps.Sessions)

	requireAuth := middleware.Auth(deps.JWT, deps.Sessions)

	account := r.Group("/Account")
	{
		account.POST("/Register", accountHandler.Register)
		account.POST("/Login", accountHandler.Login)
		account.POST("/RefreshToken", accountHandler.RefreshToken)
		account.POST("/Logout", requireAuth, accountHandler.Logout)
		account.GET("/CheckBanStatus/:userId", accountHandler.CheckBanStatus)
	}

	message := r.Group("/Message", requireAuth)
	{
		message.GET("/conversations", messageHandler.Conversations)
		message.GET("/unread-count", messageHandler.UnreadCount)
		message.GET("/:otherUserId", messageHandler.History)
		message.POST("", messageHandler.Send)
		message.POST("/voice", messageHandler.SendVoice)
		message.PUT("/:id/read", messageHandler.MarkRead)
		message.DELETE("/:id", messageHandler.Delete)
	}

	admin := r.Group("/Admin", requireAuth, middleware.RequireAdmin())
	{
		admin.GET("/users", adminHandler.ListUsers)
		admin.POST("/users/:id/ban", adminHandler.BanUser)
		admin.POST("/users/:id/unban", adminHandler.UnbanUser)
	}

	users := r.Group("/Users", requireAuth)
	{
		users.GET("", usersHandler.List)
		users.GET("/:id", usersHandler.Get)
	}

	// WebSocket entry point; the token travels in the query string.
	r.GET("/hub", realtimeHandler.Connect)

	// Uploaded voice clips are served statically.
	r.Static("/uploads/voice", deps.Voice.Dir())

	if deps.Config.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}
	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
