// Package server contains the HTTP API the UI layer uses to drive post views.
package server

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"time"

	"schoolforum/internal/cache"
	"schoolforum/internal/config"
	"schoolforum/internal/forumapi"
	"schoolforum/internal/middleware"
	"schoolforum/internal/models"
	"schoolforum/internal/service"
	"schoolforum/internal/thread"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	redis          *redis.Client
	views          *service.ViewService
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
}

// NewServer creates a server talking to the configured forum API.
func NewServer(cfg *config.Config) (*Server, error) {
	cache.InitRedis(cfg.RedisURL)
	forum := forumapi.NewClient(cfg.ForumAPIURL, cfg.ForumAPITimeout())
	return NewServerWithDeps(cfg, forum, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Tests pass an in-memory forum and a miniredis-backed client.
func NewServerWithDeps(cfg *config.Config, forum thread.Forum, redisClient *redis.Client) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if forum == nil {
		return nil, errors.New("forum client is required")
	}

	middleware.InitMiddleware(cfg)

	return &Server{
		config: cfg,
		redis:  redisClient,
		views: service.NewViewService(forum, service.ViewServiceConfig{
			Depth:       cfg.CommentFetchDepth,
			Strict:      cfg.StrictAddressing,
			IdleTimeout: cfg.ViewIdleTimeout(),
		}),
		promMiddleware: middleware.InitMetrics("schoolforum-api"),
	}, nil
}

// NewApp builds the fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "School Forum API",
		BodyLimit:    10 * 1024 * 1024, // media is sent inline as base64
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery; strict addressing defects surface here as 500s.
	app.Use(recover.New())

	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	// CORS must run before the limiter so error responses still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:4200,http://127.0.0.1:4200"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
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
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api", middleware.AuthRequired, middleware.ContextMiddleware())

	mutationLimit := middleware.RateLimit(s.redis, s.config.MutationRateLimitPerMinute, time.Minute, "comment_mutations")

	api.Post("/posts/:postId/views", s.OpenView)

	views := api.Group("/views/:viewId")
	views.Get("", s.GetView)
	views.Delete("", s.CloseView)
	views.Post("/expand", s.ToggleExpand)
	views.Post("/comments", mutationLimit, s.SubmitComment)
	views.Delete("/comments/:commentId", mutationLimit, s.DeleteComment)
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
	if redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"redis": redisStatus,
		},
		"openViews": s.views.Count(),
		"time":      time.Now(),
	})
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	if err := s.views.Shutdown(ctx); err != nil {
		log.Printf("error closing post views: %v", err)
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
