package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/db"
)

// Test wallets with various PnL, in USDC
var testWallets = []struct {
	addr   string
	amount string
}{
	{"0x1234567890123456789012345678901234567890", "250.75"},
	{"0xABCDEF0123456789ABCDEF0123456789ABCDEF01", "185.50"},
	{"0x9876543210987654321098765432109876543210", "120.25"},
	{"0xDEADBEEF00000000000000000000000DEADBEEF0", "95.00"},
	{"0xCAFEBABE00000000000000000000000CAFEBABE0", "67.50"},
	{"0xFEEDFACE00000000000000000000000FEEDFACE0", "45.25"},
	{"0xBAADF00D00000000000000000000000BAADF00D0", "32.00"},
	{"0x8BADF00D00000000000000000000000000000000", "18.75"},
	{"0xDEFEC8ED00000000000000000000000000000000", "-5.50"},
	{"0xB16B00B500000000000000000000000000000000", "-25.00"},
}

// signedBaseUnits converts a signed USDC amount to base units
func signedBaseUnits(usdc decimal.Decimal) (int64, error) {
	units, err := config.USDCToBaseUnits(usdc.Abs())
	if err != nil {
		return 0, err
	}
	if units > config.MaxEntryAmount {
		return 0, fmt.Errorf("amount %s too large", usdc)
	}
	if usdc.IsNegative() {
		return -int64(units), nil
	}
	return int64(units), nil
}

func leaderboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Write demo wallet PnL rows straight into PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := os.Getenv("DATABASE_URL")
			if url == "" {
				return fmt.Errorf("DATABASE_URL not set")
			}
			ctx := cmd.Context()

			store, err := db.InitPostgres(ctx, url)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.InitSchema(ctx); err != nil {
				return err
			}

			log.Info().Msg("Seeding leaderboard with test data...")
			for _, w := range testWallets {
				amount, err := signedBaseUnits(decimal.RequireFromString(w.amount))
				if err != nil {
					return err
				}
				if err := store.SetWalletPnL(ctx, common.HexToAddress(w.addr), amount); err != nil {
					log.Warn().Err(err).Str("wallet", w.addr[:10]).Msg("Failed to insert")
					continue
				}
				log.Info().Str("wallet", w.addr[:10]).Str("pnl", w.amount).Msg("Seeded")
			}

			records, err := store.Leaderboard(ctx, config.LeaderboardLimit)
			if err != nil {
				return fmt.Errorf("failed to get leaderboard: %w", err)
			}
			fmt.Printf("\nLeaderboard (%d entries):\n", len(records))
			for _, r := range records {
				fmt.Printf("  #%d %s... %s\n", r.Rank, r.Wallet.Hex()[:10], decimal.New(r.Amount, -config.USDCDecimals).StringFixed(2))
			}
			return nil
		},
	}
}
