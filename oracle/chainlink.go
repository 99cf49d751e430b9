package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/iamramtin/zero-sum/game"
)

// AggregatorABI covers the AggregatorV3Interface views we call
const AggregatorABI = `[
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"description","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}
	],"stateMutability":"view","type":"function"}
]`

type feedMeta struct {
	decimals    uint8
	description string
}

// Chainlink reads the latest round of an aggregator with eth_call
type Chainlink struct {
	caller ethereum.ContractCaller
	abi    abi.ABI
	Now    func() time.Time

	mu   sync.RWMutex
	meta map[common.Address]feedMeta
}

func NewChainlink(caller ethereum.ContractCaller) (*Chainlink, error) {
	parsed, err := abi.JSON(strings.NewReader(AggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse aggregator ABI: %w", err)
	}
	return &Chainlink{
		caller: caller,
		abi:    parsed,
		Now:    time.Now,
		meta:   make(map[common.Address]feedMeta),
	}, nil
}

func (c *Chainlink) call(ctx context.Context, feed common.Address, method string) ([]interface{}, error) {
	data, err := c.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return nil, game.Errorf(game.ErrInvalidPriceFeed, "%s on %s: %v", method, feed.Hex(), err)
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, game.Errorf(game.ErrInvalidPriceFeed, "decode %s: %v", method, err)
	}
	return values, nil
}

// feedMeta loads decimals and description once per feed; both are immutable on an aggregator
func (c *Chainlink) feedMeta(ctx context.Context, feed common.Address) (feedMeta, error) {
	c.mu.RLock()
	m, ok := c.meta[feed]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	dec, err := c.call(ctx, feed, "decimals")
	if err != nil {
		return feedMeta{}, err
	}
	desc, err := c.call(ctx, feed, "description")
	if err != nil {
		return feedMeta{}, err
	}
	m = feedMeta{decimals: dec[0].(uint8), description: desc[0].(string)}

	c.mu.Lock()
	c.meta[feed] = m
	c.mu.Unlock()

	log.Info().
		Str("feed", feed.Hex()).
		Str("description", m.description).
		Uint8("decimals", m.decimals).
		Msg("⛓️ Chainlink feed loaded")
	return m, nil
}

func (c *Chainlink) ReadPrice(ctx context.Context, feed Feed, maxAge time.Duration) (Reading, error) {
	meta, err := c.feedMeta(ctx, feed.Address)
	if err != nil {
		return Reading{}, err
	}
	round, err := c.call(ctx, feed.Address, "latestRoundData")
	if err != nil {
		return Reading{}, err
	}
	if len(round) != 5 {
		return Reading{}, game.Errorf(game.ErrInvalidPriceFeed, "latestRoundData returned %d values", len(round))
	}

	roundID := round[0].(*big.Int)
	answer := round[1].(*big.Int)
	updatedAt := round[3].(*big.Int)
	answeredInRound := round[4].(*big.Int)

	r := Reading{
		Feed:        Feed{Address: feed.Address, Description: meta.description},
		Description: meta.description,
		RoundID:     roundID,
		Answer:      answer,
		Decimals:    int32(meta.decimals),
		Valid:       updatedAt.Sign() > 0 && answeredInRound.Cmp(roundID) >= 0,
	}
	if updatedAt.IsInt64() {
		r.UpdatedAt = time.Unix(updatedAt.Int64(), 0).UTC()
	}

	if err := Check(r, feed, maxAge, c.Now()); err != nil {
		return Reading{}, err
	}

	log.Debug().
		Str("feed", meta.description).
		Str("price", r.Price().String()).
		Str("round", roundID.String()).
		Msg("⛓️ Chainlink price read")
	return r, nil
}
