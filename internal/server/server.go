// Package server assembles the fiber application from its dependencies.
package server

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/hirpha/mini-chat-backend/internal/auth"
	"github.com/hirpha/mini-chat-backend/internal/cache"
	"github.com/hirpha/mini-chat-backend/internal/config"
	"github.com/hirpha/mini-chat-backend/internal/handlers"
	"github.com/hirpha/mini-chat-backend/internal/handlers/ws"
	"github.com/hirpha/mini-chat-backend/internal/httpx"
	"github.com/hirpha/mini-chat-backend/internal/metrics"
	"github.com/hirpha/mini-chat-backend/internal/middleware"
	"github.com/hirpha/mini-chat-backend/internal/repository"
	"github.com/hirpha/mini-chat-backend/internal/service"
	"github.com/hirpha/mini-chat-backend/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps are the external resources the application runs on. Redis and Store
// are optional.
type Deps struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *cache.RedisCache
	Store     storage.ObjectStore
	OTPSender service.OTPSender

	// Logging toggles the fiber access log.
	Logging bool
}

type Server struct {
	App      *fiber.App
	Hub      *ws.Hub
	Tokens   *auth.JWTManager
	Registry *prometheus.Registry
}

func New(d Deps) *Server {
	cfg := d.Config

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hubMetrics := metrics.New(registry)

	messageCache := cache.NewMessageCache(d.Redis)
	userCache := cache.NewUserCache(d.Redis)

	// Initialize repositories
	userRepo := repository.NewUserRepository(d.DB)
	messageRepo := repository.NewMessageRepository(d.DB)
	otpRepo := repository.NewOTPRepository(d.DB)
	refreshTokenRepo := repository.NewRefreshTokenRepository(d.DB)

	tokens := auth.NewJWTManager(cfg.JWTSecret, cfg.AccessTokenTTL, userRepo)

	// Initialize services
	authService := service.NewAuthService(userRepo, otpRepo, refreshTokenRepo, tokens, d.OTPSender, service.AuthConfig{
		OTPTTL:          cfg.OTPTTL,
		OTPLength:       cfg.OTPLength,
		OTPMaxAttempts:  cfg.OTPMaxAttempts,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})
	userService := service.NewUserService(userRepo)
	messageService := service.NewMessageService(messageRepo, userRepo, messageCache, cfg.MaxMessageLength)
	contactService := service.NewContactService(userRepo, messageRepo)
	avatarService := service.NewAvatarService(userRepo, d.Store, cfg.PublicAPIBaseURL)

	hub := ws.NewHub(cfg.WS, tokens, messageService, userRepo, userCache, hubMetrics)
	userService.SetPresence(hub)
	contactService.SetPresence(hub)

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(hub)
	authHandler := handlers.NewAuthHandler(authService, strings.HasPrefix(cfg.PublicAPIBaseURL, "https://"))
	userHandler := handlers.NewUserHandler(userService)
	avatarHandler := handlers.NewAvatarHandler(avatarService)
	mediaHandler := handlers.NewMediaHandler(avatarService)
	messageHandler := handlers.NewMessageHandler(messageService, hub)
	contactHandler := handlers.NewContactHandler(contactService)
	presenceHandler := handlers.NewPresenceHandler(hub)

	app := fiber.New(fiber.Config{
		AppName: cfg.AppName,
		// Support avatar uploads up to 5MB + overhead.
		BodyLimit: 8 * 1024 * 1024, // 8MB
	})

	// Middleware
	app.Use(requestid.New())
	if d.Logging {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins(cfg.AllowedOrigins),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, " + middleware.CSRFHeader,
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		AllowCredentials: cfg.AllowedOrigins != "",
	}))

	origins := cfg.OriginList()
	requireAuth := middleware.AuthRequired(tokens)
	csrf := middleware.CSRFRequired(cfg.CSRFMode, origins)

	// Public routes
	api := app.Group("/api", middleware.OriginAllowed(origins))
	authGroup := api.Group("/auth", limiter.New(limiter.Config{
		Max:        20,
		Expiration: time.Minute,
	}))
	authGroup.Post("/request-otp", authHandler.RequestOTP)
	authGroup.Post("/verify-otp", authHandler.VerifyOTP)
	authGroup.Post("/refresh", authHandler.Refresh)
	authGroup.Post("/logout", csrf, authHandler.Logout)

	api.Get("/media/avatars/*", mediaHandler.GetAvatar)

	// Protected routes
	users := api.Group("/users", requireAuth, csrf)
	users.Get("/me", userHandler.GetCurrentUser)
	users.Patch("/me", userHandler.UpdateProfile)
	users.Post(
		"/me/avatar",
		limiter.New(limiter.Config{
			Max:        10,
			Expiration: 10 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				if uid, err := httpx.LocalString(c, "userID"); err == nil {
					return "avatar:" + uid
				}
				return c.IP()
			},
		}),
		avatarHandler.UploadMyAvatar,
	)
	users.Delete("/me/avatar", avatarHandler.DeleteMyAvatar)
	users.Get("/", userHandler.SearchUsers)
	users.Get("/:id", userHandler.GetUser)

	api.Post("/contacts/sync", requireAuth, csrf, contactHandler.Sync)

	messages := api.Group("/messages", requireAuth, csrf)
	messages.Get("/conversation/:userId", messageHandler.GetConversation)
	messages.Get("/unread/count", messageHandler.GetUnreadCount)
	messages.Post("/", messageHandler.SendMessage)
	messages.Patch("/all/read/:otherUserId", messageHandler.MarkConversationRead)
	messages.Patch("/:id/read", messageHandler.MarkAsRead)

	api.Get("/presence/online", requireAuth, presenceHandler.ListOnline)

	// WebSocket route; authentication happens inside the hub.
	app.Use("/ws", middleware.OriginAllowed(origins), wsHandler.Upgrade)
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": cfg.AppName + " is running",
			"online":  hub.Count(),
		})
	})

	return &Server{
		App:      app,
		Hub:      hub,
		Tokens:   tokens,
		Registry: registry,
	}
}

// Shutdown closes realtime sessions before the listener so websocket
// handlers return promptly.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.Hub.Shutdown()
	return s.App.ShutdownWithTimeout(timeout)
}

func corsOrigins(allowed string) string {
	if allowed == "" {
		return "*"
	}
	return allowed
}
