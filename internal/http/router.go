package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/b0ase/treasury-backend/internal/config"
	"github.com/b0ase/treasury-backend/internal/http/handlers"
	"github.com/b0ase/treasury-backend/internal/middleware"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	treasuryHandler *handlers.TreasuryHandler,
	purchaseHandler *handlers.PurchaseHandler,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/token", authHandler.Token)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Treasury info and quotes (public, no auth required)
	api.Get("/treasury", treasuryHandler.Info)
	api.Get("/treasury/quote", treasuryHandler.Quote)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Purchases
	protected.Post("/purchases", purchaseHandler.Initiate)
	protected.Get("/purchases/:id", purchaseHandler.Get)
	protected.Post("/purchases/:id/verify", purchaseHandler.Verify)
	protected.Get("/purchases/:id/audit", purchaseHandler.Audit)
}
