package state

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
)

// Filter narrows a game listing. Zero values match everything.
type Filter struct {
	Status string
	Player *common.Address
	Limit  int
}

// Match reports whether g passes the filter
func (f Filter) Match(g *game.GameState) bool {
	if f.Status != "" && g.Status.Name() != f.Status {
		return false
	}
	if f.Player != nil && !g.IsParticipant(*f.Player) {
		return false
	}
	return true
}

// EffectiveLimit clamps the requested limit
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return config.DefaultListLimit
	case f.Limit > config.MaxListLimit:
		return config.MaxListLimit
	}
	return f.Limit
}

// Stats summarizes every stored game
type Stats struct {
	TotalGames     int64  `json:"totalGames"`
	PendingGames   int64  `json:"pendingGames"`
	ActiveGames    int64  `json:"activeGames"`
	CompletedGames int64  `json:"completedGames"`
	DrawGames      int64  `json:"drawGames"`
	CancelledGames int64  `json:"cancelledGames"`
	TotalStaked    uint64 `json:"totalStaked"`
	TotalVolume    uint64 `json:"totalVolume"`
}

// Add counts one game
func (s *Stats) Add(g *game.GameState) {
	s.TotalGames++
	switch g.Status.(type) {
	case game.Pending:
		s.PendingGames++
	case game.Active:
		s.ActiveGames++
	case game.Complete:
		s.CompletedGames++
	case game.Draw:
		s.DrawGames++
	case game.Cancelled:
		s.CancelledGames++
	}
	s.TotalStaked += g.EscrowBalance()
	s.TotalVolume += g.EntryAmount
	if g.Challenger != nil {
		s.TotalVolume += g.EntryAmount
	}
}

// EventRecord is one entry of the append-only event log
type EventRecord struct {
	Seq       int64           `json:"seq"`
	Initiator common.Address  `json:"initiator"`
	GameID    uint64          `json:"gameId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func NewEventRecord(ev game.Event) (EventRecord, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, err
	}
	key := ev.GameKey()
	return EventRecord{
		Initiator: key.Initiator,
		GameID:    key.GameID,
		Type:      ev.Name(),
		Data:      data,
		Timestamp: ev.Time(),
	}, nil
}

// PnL is a wallet's cumulative result over settled games
type PnL struct {
	Wallet common.Address `json:"walletAddress"`
	Amount int64          `json:"amount"`
	Rank   int            `json:"rank,omitempty"`
}

// PnLDelta returns the wallet movements of a completed game: the winner gains
// the opponent's stake and the loser loses their own.
func PnLDelta(g *game.GameState) (winner, loser common.Address, amount int64, ok bool) {
	w, ok := g.Winner()
	if !ok {
		return common.Address{}, common.Address{}, 0, false
	}
	loser = g.Initiator
	if w == g.Initiator {
		loser = *g.Challenger
	}
	return w, loser, int64(g.EntryAmount), true
}

// SortNewest orders games newest first, game id breaking ties
func SortNewest(games []*game.GameState) {
	sort.SliceStable(games, func(i, j int) bool {
		if !games[i].CreatedAt.Equal(games[j].CreatedAt) {
			return games[i].CreatedAt.After(games[j].CreatedAt)
		}
		return games[i].GameID > games[j].GameID
	})
}

// RankPnL sorts by amount descending and assigns ranks from 1
func RankPnL(rows []PnL) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Amount != rows[j].Amount {
			return rows[i].Amount > rows[j].Amount
		}
		return rows[i].Wallet.Hex() < rows[j].Wallet.Hex()
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
}

// Store persists games with version-checked writes and an append-only event log
type Store interface {
	// Insert fails with GameExists when the key is taken
	Insert(ctx context.Context, g *game.GameState, ev game.Event) error
	// Get returns a copy of the game and the version to pass to Update
	Get(ctx context.Context, key game.Key) (*game.GameState, int64, error)
	// Update fails with VersionConflict when the game moved past version
	Update(ctx context.Context, g *game.GameState, version int64, ev game.Event) (int64, error)
	List(ctx context.Context, f Filter) ([]*game.GameState, error)
	NextGameID(ctx context.Context, initiator common.Address) (uint64, error)
	Stats(ctx context.Context) (Stats, error)
	Events(ctx context.Context, key game.Key) ([]EventRecord, error)
	Leaderboard(ctx context.Context, limit int) ([]PnL, error)
	WalletPnL(ctx context.Context, wallet common.Address) (*PnL, error)
}
