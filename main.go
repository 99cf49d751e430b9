package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/iamramtin/zero-sum/api"
	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/contract"
	"github.com/iamramtin/zero-sum/db"
	"github.com/iamramtin/zero-sum/game"
	"github.com/iamramtin/zero-sum/ledger"
	"github.com/iamramtin/zero-sum/market"
	"github.com/iamramtin/zero-sum/notify"
	"github.com/iamramtin/zero-sum/oracle"
	"github.com/iamramtin/zero-sum/state"
	"github.com/iamramtin/zero-sum/ws"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️ .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Invalid configuration")
	}
	setupLogging(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("❌ Server error")
	}
	log.Info().Msg("👋 Server stopped")
}

func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	g, ctx := errgroup.WithContext(ctx)
	checks := map[string]api.Checker{}

	// Storage: Postgres when configured, memory otherwise, Redis cache on top
	var store state.Store = state.NewMemory()
	if cfg.DatabaseURL != "" {
		pg, err := db.InitPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.InitSchema(ctx); err != nil {
			return err
		}
		store = pg
		checks["postgres"] = pg.HealthCheck
	} else {
		log.Warn().Msg("⚠️ DATABASE_URL not set, games are kept in memory only")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		client, err := db.InitRedis(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Redis initialization failed, running without cache")
		} else {
			rdb = client
			defer rdb.Close()
			store = db.NewCachedStore(store, rdb, config.GameCacheTTL)
			checks["redis"] = func(ctx context.Context) error { return db.HealthCheck(ctx, rdb) }
		}
	}

	// Chain connection, needed by the Chainlink oracle and the token ledger
	var eth *ethclient.Client
	if cfg.OracleMode == "chainlink" || cfg.LedgerMode == "token" {
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("failed to connect to RPC: %w", err)
		}
		defer client.Close()
		eth = client
		log.Info().Str("rpc", cfg.RPCURL).Int64("chainId", cfg.ChainID).Msg("✅ Connected to chain")
	}

	feed := oracle.Feed{
		Address:     common.HexToAddress(cfg.PriceFeedAddress),
		Description: cfg.PriceFeedDescription,
	}
	spot, settle, err := buildOracle(cfg, eth, feed)
	if err != nil {
		return err
	}
	if twap, ok := settle.(*oracle.TWAP); ok {
		g.Go(func() error {
			twap.Run(ctx, cfg.TWAPPollInterval, cfg.PriceMaxAge)
			return nil
		})
	}

	funds, err := buildLedger(ctx, g, cfg, eth)
	if err != nil {
		return err
	}

	// Events: through Redis when shared, straight to the local hub otherwise
	hub := ws.NewHub(storeSnapshots{store})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	publishers := market.MultiPublisher{}
	if rdb != nil {
		relay := db.NewEventPublisher(rdb)
		publishers = append(publishers, relay)
		g.Go(func() error {
			return relay.Subscribe(ctx, func(key game.Key, envelope []byte) {
				if err := hub.BroadcastGame(ctx, key, envelope); err != nil {
					log.Debug().Err(err).Msg("Relay to hub failed")
				}
			})
		})
	} else {
		publishers = append(publishers, hub)
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram disabled")
		} else {
			publishers = append(publishers, tg)
			g.Go(func() error {
				tg.Run(ctx)
				return nil
			})
		}
	}

	rules := game.Rules{
		JoinThreshold:  cfg.JoinThreshold,
		WinThreshold:   cfg.WinThreshold,
		Timeout:        cfg.GameTimeout,
		MaxEntryAmount: config.MaxEntryAmount,
	}
	svc, err := market.NewService(market.Options{
		Rules:        rules,
		Feed:         feed,
		Spot:         spot,
		Settle:       settle,
		MaxAge:       cfg.PriceMaxAge,
		Ledger:       funds,
		Asset:        cfg.Asset,
		DefaultEntry: cfg.DefaultEntryAmount,
		Store:        store,
		Publisher:    publishers,
	})
	if err != nil {
		return err
	}
	checks["oracle"] = func(ctx context.Context) error {
		_, err := svc.CurrentPrice(ctx)
		return err
	}

	mux := http.NewServeMux()
	api.NewHandler(svc).Register(mux)
	mux.HandleFunc("GET /api/health", api.HandleHealthCheck(checks))
	mux.HandleFunc("GET /ws", hub.HandleWS)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.CORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("oracle", cfg.OracleMode).
			Str("ledger", cfg.LedgerMode).
			Msg("🚀 Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildOracle returns the spot reader and the settlement reader
func buildOracle(cfg *config.Config, eth *ethclient.Client, feed oracle.Feed) (oracle.Reader, oracle.Reader, error) {
	if cfg.OracleMode == "manual" {
		log.Warn().Str("price", cfg.ManualPrice.String()).Msg("⚠️ Using a manual price oracle")
		manual := oracle.NewManual(feed, cfg.ManualPrice)
		return manual, manual, nil
	}

	chainlink, err := oracle.NewChainlink(eth)
	if err != nil {
		return nil, nil, err
	}
	return chainlink, oracle.NewTWAP(chainlink, feed, cfg.TWAPWindow), nil
}

func buildLedger(ctx context.Context, g *errgroup.Group, cfg *config.Config, eth *ethclient.Client) (ledger.Ledger, error) {
	if cfg.LedgerMode == "token" {
		relayer, err := contract.NewRelayer(eth, contract.DefaultRelayerConfig(cfg.ServerPrivateKey, cfg.ChainID))
		if err != nil {
			return nil, err
		}
		// 0.001 ETH keeps a few hundred transfers going
		minGas := big.NewInt(1_000_000_000_000_000)
		if err := relayer.MonitorBalance(ctx, minGas); err != nil {
			log.Warn().Err(err).Msg("⚠️ Relayer balance check")
		}
		g.Go(func() error {
			relayer.WatchBalance(ctx, 5*time.Minute, minGas)
			return nil
		})
		return contract.NewTokenLedger(relayer, eth, common.HexToAddress(cfg.TokenAddress), cfg.Asset)
	}

	funds := ledger.NewMemory()
	for _, raw := range cfg.DevFundAddresses {
		addr, err := game.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("DEV_FUND_ADDRESSES: %w", err)
		}
		if err := funds.Credit(addr, cfg.Asset, cfg.DevFundAmount); err != nil {
			return nil, err
		}
		log.Info().Str("wallet", addr.Hex()).Str("amount", config.BaseUnitsToUSDC(cfg.DevFundAmount).String()).Msg("💰 Dev wallet funded")
	}
	return funds, nil
}

// storeSnapshots serves websocket snapshots straight from the store
type storeSnapshots struct {
	store state.Store
}

func (s storeSnapshots) GetGame(ctx context.Context, key game.Key) (*game.GameState, error) {
	g, _, err := s.store.Get(ctx, key)
	return g, err
}

func (s storeSnapshots) OpenGames(ctx context.Context, limit int) ([]*game.GameState, error) {
	return s.store.List(ctx, state.Filter{Status: game.Pending{}.Name(), Limit: limit})
}
