package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration of the server
type Config struct {
	// Server
	HTTPAddr string
	Debug    bool

	// Storage
	DatabaseURL   string
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Chain
	RPCURL           string
	ChainID          int64
	ServerPrivateKey string

	// Oracle
	OracleMode           string // chainlink | manual
	PriceFeedAddress     string
	PriceFeedDescription string
	PriceMaxAge          time.Duration
	TWAPWindow           time.Duration
	TWAPPollInterval     time.Duration
	ManualPrice          decimal.Decimal

	// Ledger
	LedgerMode       string // memory | token
	TokenAddress     string
	Asset            string
	DevFundAddresses []string
	DevFundAmount    uint64

	// Game rules
	JoinThreshold      decimal.Decimal
	WinThreshold       decimal.Decimal
	GameTimeout        time.Duration
	DefaultEntryAmount uint64

	// Telegram
	TelegramToken  string
	TelegramChatID int64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ServerAddr),
		Debug:    getEnvBool("DEBUG", false),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RPCURL:           getEnv("RPC_URL", DefaultRPCURL),
		ChainID:          int64(getEnvInt("CHAIN_ID", DefaultChainID)),
		ServerPrivateKey: strings.TrimPrefix(os.Getenv("SERVER_PRIVATE_KEY"), "0x"),

		OracleMode:           getEnv("ORACLE_MODE", "chainlink"),
		PriceFeedAddress:     getEnv("PRICE_FEED_ADDRESS", DefaultPriceFeedAddress),
		PriceFeedDescription: getEnv("PRICE_FEED_DESCRIPTION", DefaultPriceFeedDescription),
		PriceMaxAge:          getEnvDuration("PRICE_MAX_AGE", DefaultPriceMaxAge),
		TWAPWindow:           getEnvDuration("TWAP_WINDOW", DefaultTWAPWindow),
		TWAPPollInterval:     getEnvDuration("TWAP_POLL_INTERVAL", DefaultTWAPPollInterval),
		ManualPrice:          getEnvDecimal("MANUAL_PRICE", decimal.NewFromInt(100)),

		LedgerMode:       getEnv("LEDGER_MODE", "memory"),
		TokenAddress:     os.Getenv("TOKEN_ADDRESS"),
		Asset:            getEnv("ASSET", DefaultAsset),
		DevFundAddresses: getEnvList("DEV_FUND_ADDRESSES"),
		DevFundAmount:    getEnvUint64("DEV_FUND_AMOUNT", 100*DefaultEntryAmount),

		JoinThreshold:      getEnvDecimal("JOIN_THRESHOLD", JoinThreshold),
		WinThreshold:       getEnvDecimal("WIN_THRESHOLD", WinThreshold),
		GameTimeout:        getEnvDuration("GAME_TIMEOUT", GameTimeout),
		DefaultEntryAmount: getEnvUint64("DEFAULT_ENTRY_AMOUNT", DefaultEntryAmount),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the game rules cannot run with
func (c *Config) Validate() error {
	one := decimal.NewFromInt(1)
	if !c.JoinThreshold.IsPositive() || c.JoinThreshold.GreaterThanOrEqual(one) {
		return fmt.Errorf("JOIN_THRESHOLD must be in (0, 1), got %s", c.JoinThreshold)
	}
	if !c.WinThreshold.IsPositive() || c.WinThreshold.GreaterThanOrEqual(one) {
		return fmt.Errorf("WIN_THRESHOLD must be in (0, 1), got %s", c.WinThreshold)
	}
	if c.GameTimeout <= 0 {
		return fmt.Errorf("GAME_TIMEOUT must be positive, got %s", c.GameTimeout)
	}
	if c.DefaultEntryAmount == 0 || c.DefaultEntryAmount > MaxEntryAmount {
		return fmt.Errorf("DEFAULT_ENTRY_AMOUNT must be in (0, %d], got %d", MaxEntryAmount, c.DefaultEntryAmount)
	}
	switch c.OracleMode {
	case "chainlink", "manual":
	default:
		return fmt.Errorf("unknown ORACLE_MODE %q", c.OracleMode)
	}
	switch c.LedgerMode {
	case "memory":
	case "token":
		if c.TokenAddress == "" || c.ServerPrivateKey == "" {
			return fmt.Errorf("LEDGER_MODE=token needs TOKEN_ADDRESS and SERVER_PRIVATE_KEY")
		}
	default:
		return fmt.Errorf("unknown LEDGER_MODE %q", c.LedgerMode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
