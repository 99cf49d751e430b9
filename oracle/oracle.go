package oracle

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
)

// Feed identifies the price feed a reading must come from
type Feed struct {
	Address     common.Address
	Description string
}

func (f Feed) String() string {
	if f.Description != "" {
		return f.Description
	}
	return f.Address.Hex()
}

// Reading is one oracle answer as a signed mantissa with a decimal count
type Reading struct {
	Feed        Feed
	Description string
	RoundID     *big.Int
	Answer      *big.Int
	Decimals    int32
	Valid       bool
	UpdatedAt   time.Time
}

// Price is Answer scaled by Decimals
func (r Reading) Price() decimal.Decimal {
	if r.Answer == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(r.Answer, -r.Decimals)
}

func (r Reading) Age(now time.Time) time.Duration {
	return now.Sub(r.UpdatedAt)
}

// Reader is the price oracle consumed by the market
type Reader interface {
	ReadPrice(ctx context.Context, feed Feed, maxAge time.Duration) (Reading, error)
}

// Check rejects readings that cannot be used to move value
func Check(r Reading, feed Feed, maxAge time.Duration, now time.Time) error {
	if r.Feed.Address != feed.Address {
		return game.Errorf(game.ErrStalePriceFeed, "reading from %s, want %s", r.Feed.Address.Hex(), feed.Address.Hex())
	}
	if feed.Description != "" && r.Description != "" && !strings.EqualFold(r.Description, feed.Description) {
		return game.Errorf(game.ErrStalePriceFeed, "feed %q, want %q", r.Description, feed.Description)
	}
	if !r.Valid {
		return game.Errorf(game.ErrStalePriceFeed, "round %v not answered", r.RoundID)
	}
	if age := r.Age(now); age > maxAge {
		return game.Errorf(game.ErrStalePriceFeed, "reading is %s old, max %s", age.Truncate(time.Second), maxAge)
	}
	if r.Decimals < 0 || r.Decimals > config.MaxFeedDecimals {
		return game.Errorf(game.ErrInvalidExponent, "%d decimals", r.Decimals)
	}
	if r.Answer == nil || r.Answer.Sign() <= 0 {
		return game.Errorf(game.ErrInvalidPriceValue, "answer %v", r.Answer)
	}
	return nil
}

// PriceFunc adapts a reader to the lifecycle price callback
func PriceFunc(ctx context.Context, reader Reader, feed Feed, maxAge time.Duration) game.PriceFunc {
	return func() (decimal.Decimal, error) {
		r, err := reader.ReadPrice(ctx, feed, maxAge)
		if err != nil {
			return decimal.Zero, err
		}
		return r.Price(), nil
	}
}
