package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"JOIN_THRESHOLD", "WIN_THRESHOLD", "GAME_TIMEOUT", "ORACLE_MODE", "LEDGER_MODE", "DEFAULT_ENTRY_AMOUNT", "TELEGRAM_CHAT_ID"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.JoinThreshold.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, cfg.WinThreshold.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, 1800*time.Second, cfg.GameTimeout)
	assert.Equal(t, uint64(1000_000_000), cfg.DefaultEntryAmount)
	assert.Equal(t, "memory", cfg.LedgerMode)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WIN_THRESHOLD", "0.10")
	t.Setenv("GAME_TIMEOUT", "10m")
	t.Setenv("ORACLE_MODE", "manual")
	t.Setenv("DEV_FUND_ADDRESSES", "0xaa, 0xbb,,")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.WinThreshold.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 10*time.Minute, cfg.GameTimeout)
	assert.Equal(t, "manual", cfg.OracleMode)
	assert.Equal(t, []string{"0xaa", "0xbb"}, cfg.DevFundAddresses)
	assert.Equal(t, int64(-100123), cfg.TelegramChatID)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			OracleMode:         "manual",
			LedgerMode:         "memory",
			JoinThreshold:      JoinThreshold,
			WinThreshold:       WinThreshold,
			GameTimeout:        GameTimeout,
			DefaultEntryAmount: DefaultEntryAmount,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero join threshold", func(c *Config) { c.JoinThreshold = decimal.Zero }, false},
		{"win threshold of one", func(c *Config) { c.WinThreshold = decimal.NewFromInt(1) }, false},
		{"negative timeout", func(c *Config) { c.GameTimeout = -time.Second }, false},
		{"entry above max", func(c *Config) { c.DefaultEntryAmount = MaxEntryAmount + 1 }, false},
		{"unknown oracle", func(c *Config) { c.OracleMode = "pyth" }, false},
		{"token ledger without key", func(c *Config) { c.LedgerMode = "token" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestUSDCConversion(t *testing.T) {
	units, err := USDCToBaseUnits(decimal.RequireFromString("1000"))
	require.NoError(t, err)
	assert.Equal(t, DefaultEntryAmount, units)

	units, err = USDCToBaseUnits(decimal.RequireFromString("0.0000019"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), units)

	_, err = USDCToBaseUnits(decimal.RequireFromString("-1"))
	assert.Error(t, err)

	assert.Equal(t, "2000", BaseUnitsToUSDC(2*DefaultEntryAmount).String())
}
