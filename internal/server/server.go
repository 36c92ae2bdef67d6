// Package server contains the HTTP and WebSocket handlers for the
// Campfire API.
package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"campfire/internal/broadcast"
	"campfire/internal/cache"
	"campfire/internal/config"
	"campfire/internal/database"
	"campfire/internal/featureflags"
	"campfire/internal/middleware"
	"campfire/internal/models"
	"campfire/internal/notifications"
	"campfire/internal/repository"
	"campfire/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus

	userRepo       repository.UserRepository
	roomRepo       repository.RoomRepository
	membershipRepo repository.MembershipRepository
	messageRepo    repository.MessageRepository

	notifier *notifications.Notifier
	hub      *notifications.Hub
	presence *notifications.PresenceTracker
	tasks    *asynq.Client
	flags    *featureflags.Manager

	broadcaster       *broadcast.Broadcaster
	userService       *service.UserService
	roomService       *service.RoomService
	membershipService *service.MembershipService
	messageService    *service.MessageService
	inboxService      *service.InboxService
	ledger            *service.UnreadLedger
}

// NewServer creates a server instance, establishing the database and
// Redis connections itself.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	redisClient := cache.GetClient()

	var tasks *asynq.Client
	if redisClient != nil {
		tasks = asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisURL})
	}

	return NewServerWithDeps(cfg, db, redisClient, tasks)
}

// NewServerWithDeps creates a Server using already-initialized
// dependencies. Used by tests and by bootstrap code that owns the
// connection lifecycle.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, tasks *asynq.Client) (*Server, error) {
	middleware.InitMiddleware(cfg)

	userRepo := repository.NewUserRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	prom := middleware.InitMetrics("campfire-api")

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: prom,
		userRepo:       userRepo,
		roomRepo:       roomRepo,
		membershipRepo: membershipRepo,
		messageRepo:    messageRepo,
		tasks:          tasks,
	}

	s.notifier = notifications.NewNotifier(redisClient)
	s.hub = notifications.NewHub()
	s.presence = notifications.NewPresenceTracker(db, membershipRepo, redisClient, cfg.PresenceTTL())
	s.presence.SetCallbacks(s.presenceOnline, s.presenceOffline)

	s.flags = featureflags.NewManager(cfg.FeatureFlags)
	s.broadcaster = broadcast.New(roomRepo, membershipRepo, messageRepo, s.notifier, tasks, cfg.PushQueueName, s.flags)

	resolver := service.NewMentionResolver(membershipRepo, messageRepo)
	s.ledger = service.NewUnreadLedger(db, membershipRepo, messageRepo, cfg.PresenceTTL(), cfg.InboxStaleWatermark())
	s.membershipService = service.NewMembershipService(db, roomRepo, membershipRepo, userRepo, s.broadcaster)
	s.userService = service.NewUserService(db, userRepo, s.membershipService)
	s.roomService = service.NewRoomService(db, roomRepo, membershipRepo, messageRepo, userRepo, s.membershipService)
	s.messageService = service.NewMessageService(db, roomRepo, membershipRepo, messageRepo, userRepo, resolver, s.ledger, s.broadcaster)
	s.inboxService = service.NewInboxService(db, membershipRepo, messageRepo, s.ledger, s.broadcaster)

	return s, nil
}

// Hub exposes the websocket hub for wiring and shutdown.
func (s *Server) Hub() *notifications.Hub { return s.hub }

// Notifier exposes the Redis publisher for wiring.
func (s *Server) Notifier() *notifications.Notifier { return s.notifier }

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	// Propagates request ID and user ID into the request context for logs.
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())
	app.Use(middleware.TracingMiddleware())

	// CORS runs before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limiting (300 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Campfire Metrics Dashboard",
	}))

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/signup", middleware.RateLimit(
		s.redis, 3, 10*time.Minute, "signup"), s.Signup)
	auth.Post("/login", middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "login"), s.Login)

	protected := api.Group("", s.AuthRequired())

	// User routes
	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Get("/", s.GetUsers)
	users.Post("/:id/deactivate", s.DeactivateUser)
	users.Post("/:id/reactivate", s.AdminRequired(), s.ReactivateUser)
	users.Get("/:id", s.GetUser)

	// WebSocket ticket issuance
	api.Post("/ws/ticket", s.AuthRequired(), s.IssueWSTicket)

	protected.Get("/flags", s.GetFeatureFlags)

	// Room routes
	rooms := protected.Group("/rooms")
	rooms.Get("/", s.GetRooms)
	rooms.Post("/", s.CreateRoom)
	rooms.Post("/direct", s.FindOrCreateDirectRoom)
	rooms.Get("/shared", s.GetSharedRooms)
	// Specific /:id/:resource routes go before the generic /:id routes.
	rooms.Get("/:id/messages", s.GetMessages)
	rooms.Post("/:id/messages", middleware.RateLimit(
		s.redis, 30, time.Minute, "send_message"), s.CreateMessage)
	rooms.Get("/:id/presence", s.GetRoomPresence)
	rooms.Post("/:id/open", s.ConvertRoomToOpen)
	rooms.Post("/:id/restore", s.AdminRequired(), s.ReactivateRoom)
	rooms.Put("/:id/memberships", s.ReviseMemberships)
	rooms.Put("/:id/involvement", s.SetInvolvement)
	rooms.Post("/:id/read", s.MarkRoomRead)
	rooms.Post("/:id/unread", s.MarkRoomUnread)
	rooms.Get("/:id", s.GetRoom)
	rooms.Delete("/:id", s.DeactivateRoom)

	// Message routes addressed by message id
	messages := protected.Group("/messages")
	messages.Post("/:id/thread", s.FindOrCreateThread)
	messages.Post("/:id/restore", s.AdminRequired(), s.ReactivateMessage)
	messages.Put("/:id", s.UpdateMessage)
	messages.Delete("/:id", s.DeactivateMessage)

	// Inbox routes
	inbox := protected.Group("/inbox")
	inbox.Get("/mentions", s.GetInboxMentions)
	inbox.Get("/threads", s.GetInboxThreads)
	inbox.Get("/notifications", s.GetInboxNotifications)
	inbox.Get("/messages", s.GetInboxMessages)
	inbox.Post("/clear", s.ClearInbox)

	// Push subscription routes
	push := protected.Group("/push")
	push.Post("/subscriptions", s.CreatePushSubscription)
	push.Delete("/subscriptions", s.DeletePushSubscription)

	// Websocket endpoint
	ws := api.Group("/ws", s.AuthRequired())
	ws.Get("/", s.WebsocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// AuthRequired returns the authentication middleware. WebSocket upgrades
// authenticate with a short-lived single-use ticket because browsers
// cannot set Authorization headers on upgrade requests.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isWSPath := strings.HasPrefix(c.Path(), "/api/ws")

		ticket := c.Query("ticket")
		if ticket != "" && s.redis != nil {
			key := "ws_ticket:" + ticket
			userIDStr, err := s.redis.Get(c.Context(), key).Result()
			if err == nil {
				userID, parseErr := strconv.ParseUint(userIDStr, 10, 32)
				if parseErr == nil {
					// Single use.
					s.redis.Del(c.Context(), key)
					c.Locals("userID", uint(userID))
					ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, uint(userID))
					c.SetUserContext(ctx)
					return c.Next()
				}
			}
			if isWSPath {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
			}
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		userID, err := middleware.ParseToken(tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		c.Locals("userID", userID)
		ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, userID)
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// AdminRequired returns middleware that rejects non-admin users with 403.
// Must be placed after AuthRequired so that userID is available in locals.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(uint)

		user, err := s.userRepo.GetByID(c.Context(), userID)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusInternalServerError, err)
		}
		if !user.Administrator() {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Admin access required"))
		}

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// presenceOnline broadcasts a member's arrival to the room stream.
// Connecting also marks the room read, so the user's other sessions
// drop their badge at the same moment.
func (s *Server) presenceOnline(roomID, userID uint) {
	ctx := context.Background()
	s.broadcaster.Presence(ctx, roomID, userID, true)
	s.broadcaster.RoomRead(ctx, roomID, userID)
}

// presenceOffline broadcasts a member's departure to the room stream.
func (s *Server) presenceOffline(roomID, userID uint) {
	s.broadcaster.Presence(context.Background(), roomID, userID, false)
}

// Shutdown releases server-owned resources after the HTTP listener has
// stopped accepting requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.hub.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if s.tasks != nil {
		if err := s.tasks.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
