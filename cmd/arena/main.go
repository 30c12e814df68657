// Command arena is the process entrypoint: it loads configuration, connects
// to Postgres and (optionally) Redis, wires the lifecycle controller, ledger
// store and HTTP/WS surface together, runs the boot-time recovery scan, and
// serves. Optional collaborators warn and continue if unavailable; anything
// load-bearing (database, config) is fatal.
package main

import (
	"context"
	"log"

	"github.com/rawblock/wagerarena/internal/api"
	"github.com/rawblock/wagerarena/internal/cache"
	"github.com/rawblock/wagerarena/internal/config"
	"github.com/rawblock/wagerarena/internal/ledger"
	"github.com/rawblock/wagerarena/internal/lifecycle"
	"github.com/rawblock/wagerarena/internal/settlement"
	"github.com/rawblock/wagerarena/internal/telemetry"
	"github.com/rawblock/wagerarena/pkg/models"
	"go.uber.org/zap"
)

func main() {
	logger, err := telemetry.NewLoggerFromEnv()
	if err != nil {
		log.Fatalf("FATAL: failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	pool, err := ledger.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := ledger.InitSchema(ctx, pool); err != nil {
		logger.Fatal("failed to apply ledger schema", zap.Error(err))
	}

	var idemCache *cache.IdempotencyCache
	if cfg.RedisURL != "" {
		client, err := cache.NewClient(cfg.RedisURL)
		if err != nil {
			logger.Warn("failed to build redis client, continuing without idempotency cache", zap.Error(err))
		} else {
			idemCache = cache.New(client)
		}
	} else {
		logger.Info("REDIS_URL not set, idempotency cache disabled")
	}

	ledgerStore := ledger.New(pool, idemCache)
	lobbyStore := ledger.NewLobbyStore(pool)
	controller := lifecycle.New(ledgerStore, lobbyStore)
	controller.Configure(cfg.MapRadius, cfg.TickRate)
	controller.SetLogger(logger)
	controller.SetSettler(func(ctx context.Context, matchID, houseAccountID string, placements []models.Placement,
		model models.PayoutModel, potMinor, buyInMinor int64, rakeBps int, rakeCapMinor *int64) (int64, error) {
		return settlement.Settle(ctx, ledgerStore, matchID, houseAccountID, placements, model, potMinor, buyInMinor, rakeBps, rakeCapMinor)
	})

	logger.Info("running boot-time recovery scan")
	if err := controller.Recover(ctx); err != nil {
		logger.Error("recovery scan encountered an error", zap.Error(err))
	}

	router := api.SetupRouter(controller, ledgerStore, lobbyStore, []byte(cfg.JWTSecret), cfg.TickRate, cfg.MapRadius)

	logger.Info("wager arena match engine starting", zap.String("port", cfg.Port), zap.String("env", cfg.EnvName))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
