package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/b0ase/treasury-backend/internal/config"
	"github.com/b0ase/treasury-backend/internal/db"
	"github.com/b0ase/treasury-backend/internal/events"
	"github.com/b0ase/treasury-backend/internal/services"
)

// The worker keeps the exchange-rate cache warm so API quotes rarely pay a
// CoinGecko round trip, and tails the purchase event channel so lifecycle
// transitions land in the worker's log stream for operators. Purchase expiry
// needs no job here: the deadline is enforced when a purchase is next touched.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	rateClient := services.NewRateClient(cfg.CoinGeckoBaseURL, rdb, cfg.RateCacheTTL, log)

	subscriber := events.NewRedisSubscriber(rdb, log)
	err = subscriber.Subscribe(ctx, events.StreamPurchases, func(event events.Event) {
		log.Info("purchase event",
			zap.String("type", event.Type),
			zap.Any("payload", event.Payload))
	})
	if err != nil {
		log.Fatal("failed to subscribe to purchase events", zap.Error(err))
	}

	log.Info("worker started")

	// Warm the cache immediately, then hold the refresh interval.
	rateClient.Refresh(ctx)

	refreshTicker := time.NewTicker(cfg.RateRefreshInterval)
	defer refreshTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-refreshTicker.C:
			rateClient.Refresh(ctx)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
