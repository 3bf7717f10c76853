package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/b0ase/treasury-backend/internal/chains"
	"github.com/b0ase/treasury-backend/internal/config"
	"github.com/b0ase/treasury-backend/internal/db"
	"github.com/b0ase/treasury-backend/internal/events"
	apphttp "github.com/b0ase/treasury-backend/internal/http"
	"github.com/b0ase/treasury-backend/internal/http/handlers"
	"github.com/b0ase/treasury-backend/internal/repositories"
	"github.com/b0ase/treasury-backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PGMaxConns, cfg.PGMinConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	purchaseRepo := repositories.NewPurchaseRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)

	// Chain verifiers
	facade := chains.NewFacade(log)
	facade.Register(chains.CurrencyBSV, chains.NewBSVVerifier(cfg.WhatsOnChainBaseURL, cfg.ChainRequestTimeout, log))
	evmVerifier, err := chains.NewEVMVerifier(cfg.ETHRPCURL, cfg.ChainRequestTimeout, log)
	if err != nil {
		log.Fatal("failed to connect to eth rpc", zap.Error(err))
	}
	facade.Register(chains.CurrencyETH, evmVerifier)
	facade.Register(chains.CurrencySOL, chains.NewSolanaVerifier(cfg.SOLRPCURL, cfg.ChainRequestTimeout, log))

	// Services
	treasuryClient := services.NewTreasuryClient(cfg.ExecutorInternalURL, cfg.ExecutorAPIKey, log)
	rateClient := services.NewRateClient(cfg.CoinGeckoBaseURL, rdb, cfg.RateCacheTTL, log)
	pricing := services.NewPricingService()
	purchaseService := services.NewPurchaseService(purchaseRepo, auditRepo, facade, treasuryClient, rateClient, pricing, publisher, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, log)
	treasuryHandler := handlers.NewTreasuryHandler(treasuryClient, rateClient, pricing, cfg, log)
	purchaseHandler := handlers.NewPurchaseHandler(purchaseService, log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, treasuryHandler, purchaseHandler)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
