package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/iamramtin/zero-sum/game"
)

// ERC20ABI covers the token calls the custodian makes
const ERC20ABI = `[
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// TokenLedger settles game transfers in an ERC-20 token. Escrows are logical:
// every stake sits with the relayer account, which pulls deposits with
// transferFrom (players approve it first) and pays releases with transfer.
type TokenLedger struct {
	relayer *Relayer
	token   *bind.BoundContract
	ABI     abi.ABI
	Address common.Address
	symbol  string
}

func NewTokenLedger(relayer *Relayer, backend Backend, address common.Address, symbol string) (*TokenLedger, error) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}
	token := bind.NewBoundContract(address, parsed, backend, backend, backend)

	log.Info().
		Str("token", address.Hex()).
		Str("symbol", symbol).
		Str("custodian", relayer.Address().Hex()).
		Msg("✅ Token ledger initialized")

	return &TokenLedger{
		relayer: relayer,
		token:   token,
		ABI:     parsed,
		Address: address,
		symbol:  symbol,
	}, nil
}

// Custodian is the account holding every escrowed stake
func (l *TokenLedger) Custodian() common.Address {
	return l.relayer.Address()
}

func (l *TokenLedger) Transfer(ctx context.Context, t game.Transfer, asset string) error {
	if asset != l.symbol {
		return fmt.Errorf("token ledger settles %s, got %s", l.symbol, asset)
	}
	amount := new(big.Int).SetUint64(t.Amount)

	var (
		method string
		params []interface{}
	)
	switch t.Kind {
	case game.Deposit:
		// a missing approval fails here instead of in a reverted transaction
		allowed, err := l.Allowance(ctx, t.From)
		if err != nil {
			return err
		}
		if allowed.Cmp(amount) < 0 {
			return game.Errorf(game.ErrInsufficientFunds, "%s approved %s, needs %s", t.From.Hex(), allowed, amount)
		}
		method, params = "transferFrom", []interface{}{t.From, l.Custodian(), amount}
	case game.Release:
		method, params = "transfer", []interface{}{t.To, amount}
	default:
		return fmt.Errorf("unknown transfer kind %d", t.Kind)
	}

	receipt, err := l.relayer.Transact(ctx, l.token, method, params...)
	if err != nil {
		log.Error().Err(err).Str("kind", t.Kind.String()).Uint64("amount", t.Amount).Msg("❌ Token transfer failed")
		return err
	}

	log.Info().
		Str("kind", t.Kind.String()).
		Str("from", t.From.Hex()).
		Str("to", t.To.Hex()).
		Uint64("amount", t.Amount).
		Str("tx", receipt.TxHash.Hex()).
		Msg("💸 Token transfer mined")
	return nil
}

// BalanceOf reads a token balance
func (l *TokenLedger) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	if err := l.token.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", account.Hex(), err)
	}
	return out[0].(*big.Int), nil
}

// Allowance reads how much the custodian may pull from owner
func (l *TokenLedger) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := l.token.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", owner, l.Custodian()); err != nil {
		return nil, fmt.Errorf("allowance %s: %w", owner.Hex(), err)
	}
	return out[0].(*big.Int), nil
}
