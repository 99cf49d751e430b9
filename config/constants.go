package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

/* =========================
   NETWORK CONFIGURATION
========================= */

const (
	// Base Sepolia testnet, where the USDC custodian and the ETH/USD feed live
	DefaultRPCURL  = "https://sepolia.base.org"
	DefaultChainID = 84532

	// Chainlink ETH/USD aggregator on Base Sepolia
	DefaultPriceFeedAddress     = "0x4aDC67696bA383F43DD60A9e78F2C97Fbbfc7cb1"
	DefaultPriceFeedDescription = "ETH / USD"
)

/* =========================
   GAME MECHANICS
========================= */

const (
	// Seconds after a game becomes Active before either player may call a draw
	GameTimeoutSeconds = 1800
	GameTimeout        = GameTimeoutSeconds * time.Second
)

var (
	// Join is rejected when the price already moved this much since creation
	JoinThreshold = decimal.RequireFromString("0.01")

	// Close requires at least this much movement since creation
	WinThreshold = decimal.RequireFromString("0.05")
)

/* =========================
   ASSET CONFIGURATION
========================= */

const (
	// USDC base units
	USDCDecimals = 6
	USDCUnit     = uint64(1_000_000)

	// 1000 USDC
	DefaultEntryAmount = 1000 * USDCUnit

	// 1,000,000 USDC, keeps every amount inside a signed 64-bit column
	MaxEntryAmount = 1_000_000 * USDCUnit

	// Asset descriptor passed to the ledger
	DefaultAsset = "USDC"
)

/* =========================
   ORACLE CONFIGURATION
========================= */

const (
	// Readings older than this are rejected
	DefaultPriceMaxAge = 60 * time.Second

	// Settlement reads average over this trailing window
	DefaultTWAPWindow       = 5 * time.Minute
	DefaultTWAPPollInterval = 5 * time.Second
	TWAPMaxSamples          = 1000

	// Largest decimal count accepted from a feed
	MaxFeedDecimals = 36
)

/* =========================
   REDIS TTL CONFIGURATION
========================= */

const (
	// Cached game snapshot
	// Key: game:{initiator}:{gameId}
	GameCacheTTL = 10 * time.Minute
)

/* =========================
   REDIS KEY PATTERNS
========================= */

const (
	RedisGameKey      = "game:%s:%d" // game:{initiator}:{gameId}
	RedisEventChannel = "games:events"
)

// GameCacheKey returns the redis key of a cached game
func GameCacheKey(initiator string, gameID uint64) string {
	return fmt.Sprintf(RedisGameKey, initiator, gameID)
}

/* =========================
   POSTGRESQL CONFIGURATION
========================= */

const (
	// Connection pool settings
	MaxOpenConns    = 25
	MinIdleConns    = 5
	ConnMaxLifetime = 5 * time.Minute
)

/* =========================
   RELAYER CONFIGURATION
========================= */

const (
	// Gas limits and pricing for custodian transfers
	RelayerGasLimit    = 120000
	RelayerMaxGasPrice = 10000000000 // 10 Gwei max gas price

	TransactionTimeout = 60 * time.Second
)

/* =========================
   API CONFIGURATION
========================= */

const (
	ServerAddr  = "0.0.0.0:8080"
	AllowOrigin = "*"

	DefaultListLimit  = 50
	MaxListLimit      = 500
	LeaderboardLimit  = 20
	RequestBodyMaxLen = 64 * 1024
)

/* =========================
   WEBSOCKET CONFIGURATION
========================= */

const (
	WSReadDeadline  = 60 * time.Second
	WSWriteDeadline = 10 * time.Second
	WSPingInterval  = 30 * time.Second

	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSSendBuffer      = 256

	MaxMessageSize = 4 * 1024

	GamesChannel = "games"
)

// GameChannel returns the websocket channel of a single game
func GameChannel(initiator string, gameID uint64) string {
	return fmt.Sprintf("game:%s:%d", initiator, gameID)
}

/* =========================
   HELPER FUNCTIONS
========================= */

// BaseUnitsToUSDC converts base units to a human USDC amount
func BaseUnitsToUSDC(units uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -USDCDecimals)
}

// USDCToBaseUnits converts a human USDC amount to base units, truncating sub-unit dust
func USDCToBaseUnits(usdc decimal.Decimal) (uint64, error) {
	if usdc.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", usdc)
	}
	units := usdc.Shift(USDCDecimals).Truncate(0).BigInt()
	if !units.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows base units", usdc)
	}
	return units.Uint64(), nil
}
