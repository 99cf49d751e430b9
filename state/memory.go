package state

import (
	"context"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iamramtin/zero-sum/game"
)

type entry struct {
	game    *game.GameState
	version int64
}

// Memory is the in-process game store. Every write is checked against the
// version the caller loaded, so concurrent transitions cannot both commit.
type Memory struct {
	mu sync.RWMutex

	games  map[game.Key]*entry
	events []EventRecord
	pnl    map[common.Address]int64
}

func NewMemory() *Memory {
	return &Memory{
		games:  make(map[game.Key]*entry),
		events: make([]EventRecord, 0, 64),
		pnl:    make(map[common.Address]int64),
	}
}

func (m *Memory) appendEvent(ev game.Event) error {
	rec, err := NewEventRecord(ev)
	if err != nil {
		return err
	}
	rec.Seq = int64(len(m.events) + 1)
	m.events = append(m.events, rec)
	return nil
}

func (m *Memory) Insert(ctx context.Context, g *game.GameState, ev game.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := g.Key()
	if _, ok := m.games[key]; ok {
		return game.Errorf(game.ErrGameExists, "%s", key)
	}
	if err := m.appendEvent(ev); err != nil {
		return err
	}
	m.games[key] = &entry{game: g.Clone(), version: 1}
	return nil
}

func (m *Memory) Get(ctx context.Context, key game.Key) (*game.GameState, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.games[key]
	if !ok {
		return nil, 0, game.Errorf(game.ErrGameNotFound, "%s", key)
	}
	return e.game.Clone(), e.version, nil
}

func (m *Memory) Update(ctx context.Context, g *game.GameState, version int64, ev game.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := g.Key()
	e, ok := m.games[key]
	if !ok {
		return 0, game.Errorf(game.ErrGameNotFound, "%s", key)
	}
	if e.version != version {
		return 0, game.Errorf(game.ErrVersionConflict, "%s at version %d, expected %d", key, e.version, version)
	}
	if err := m.appendEvent(ev); err != nil {
		return 0, err
	}

	e.game = g.Clone()
	e.version++

	if winner, loser, amount, ok := PnLDelta(g); ok {
		m.pnl[winner] += amount
		m.pnl[loser] -= amount
	}
	return e.version, nil
}

func (m *Memory) List(ctx context.Context, f Filter) ([]*game.GameState, error) {
	m.mu.RLock()
	out := make([]*game.GameState, 0)
	for _, e := range m.games {
		if f.Match(e.game) {
			out = append(out, e.game.Clone())
		}
	}
	m.mu.RUnlock()

	SortNewest(out)
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) NextGameID(ctx context.Context, initiator common.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var next uint64 = 1
	for key := range m.games {
		if key.Initiator != initiator {
			continue
		}
		if key.GameID == math.MaxUint64 {
			return 0, game.Errorf(game.ErrOverflow, "last game id %d", key.GameID)
		}
		if key.GameID >= next {
			next = key.GameID + 1
		}
	}
	return next, nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, e := range m.games {
		s.Add(e.game)
	}
	return s, nil
}

// Events returns the log of one game, oldest first
func (m *Memory) Events(ctx context.Context, key game.Key) ([]EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EventRecord, 0, 3)
	for _, rec := range m.events {
		if rec.Initiator == key.Initiator && rec.GameID == key.GameID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) Leaderboard(ctx context.Context, limit int) ([]PnL, error) {
	m.mu.RLock()
	rows := make([]PnL, 0, len(m.pnl))
	for wallet, amount := range m.pnl {
		rows = append(rows, PnL{Wallet: wallet, Amount: amount})
	}
	m.mu.RUnlock()

	RankPnL(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// WalletPnL returns nil for a wallet that never settled a game
func (m *Memory) WalletPnL(ctx context.Context, wallet common.Address) (*PnL, error) {
	rows, err := m.Leaderboard(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Wallet == wallet {
			return &row, nil
		}
	}
	return nil, nil
}

var _ Store = (*Memory)(nil)
