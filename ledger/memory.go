package ledger

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iamramtin/zero-sum/game"
)

var (
	ErrZeroAmount  = errors.New("ledger: zero amount")
	ErrSameAccount = errors.New("ledger: sender is recipient")
)

// Memory keeps balances per asset and address in process
type Memory struct {
	mu       sync.RWMutex
	balances map[string]map[common.Address]uint64

	// FailOn, when set, is consulted before every transfer
	FailOn func(t game.Transfer) error
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[string]map[common.Address]uint64)}
}

func (m *Memory) account(asset string) map[common.Address]uint64 {
	acc, ok := m.balances[asset]
	if !ok {
		acc = make(map[common.Address]uint64)
		m.balances[asset] = acc
	}
	return acc
}

// Credit mints amount to addr, used to fund development wallets
func (m *Memory) Credit(addr common.Address, asset string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.account(asset)
	if acc[addr] > math.MaxUint64-amount {
		return game.ErrOverflow
	}
	acc[addr] += amount
	return nil
}

func (m *Memory) Balance(addr common.Address, asset string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[asset][addr]
}

func (m *Memory) Transfer(ctx context.Context, t game.Transfer, asset string) error {
	if t.Amount == 0 {
		return ErrZeroAmount
	}
	if t.From == t.To {
		return ErrSameAccount
	}
	if m.FailOn != nil {
		if err := m.FailOn(t); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.account(asset)
	if acc[t.From] < t.Amount {
		return game.Errorf(game.ErrInsufficientFunds, "%s holds %d %s, needs %d", t.From.Hex(), acc[t.From], asset, t.Amount)
	}
	if acc[t.To] > math.MaxUint64-t.Amount {
		return game.ErrOverflow
	}
	acc[t.From] -= t.Amount
	acc[t.To] += t.Amount
	return nil
}
