package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
	"github.com/iamramtin/zero-sum/ledger"
	"github.com/iamramtin/zero-sum/oracle"
	"github.com/iamramtin/zero-sum/state"
)

// Options wires a Service
type Options struct {
	Rules game.Rules
	Feed  oracle.Feed
	// Spot prices creation, joining and price queries
	Spot oracle.Reader
	// Settle prices closing; Spot when nil
	Settle       oracle.Reader
	MaxAge       time.Duration
	Ledger       ledger.Ledger
	Asset        string
	DefaultEntry uint64
	Store        state.Store
	Publisher    Publisher
	Now          func() time.Time
}

// Service runs every game transition as one unit: the guard, the oracle read
// and the evaluation happen on a snapshot, then funds move, then the new state
// is written against the version that was read. A failed write compensates the
// funds; events go out only after the write.
type Service struct {
	rules        game.Rules
	feed         oracle.Feed
	spot         oracle.Reader
	settle       oracle.Reader
	maxAge       time.Duration
	ledger       ledger.Ledger
	asset        string
	defaultEntry uint64
	store        state.Store
	publisher    Publisher
	now          func() time.Time

	locks *keyLocks
}

func NewService(opts Options) (*Service, error) {
	if opts.Spot == nil {
		return nil, errors.New("market: spot price reader is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("market: ledger is required")
	}
	if opts.Store == nil {
		return nil, errors.New("market: store is required")
	}

	s := &Service{
		rules:        opts.Rules,
		feed:         opts.Feed,
		spot:         opts.Spot,
		settle:       opts.Settle,
		maxAge:       opts.MaxAge,
		ledger:       opts.Ledger,
		asset:        opts.Asset,
		defaultEntry: opts.DefaultEntry,
		store:        opts.Store,
		publisher:    opts.Publisher,
		now:          opts.Now,
		locks:        newKeyLocks(),
	}
	if s.settle == nil {
		s.settle = s.spot
	}
	if s.maxAge <= 0 {
		s.maxAge = config.DefaultPriceMaxAge
	}
	if s.asset == "" {
		s.asset = config.DefaultAsset
	}
	if s.defaultEntry == 0 {
		s.defaultEntry = config.DefaultEntryAmount
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Service) Rules() game.Rules {
	return s.rules
}

func (s *Service) spotPrice(ctx context.Context) game.PriceFunc {
	return oracle.PriceFunc(ctx, s.spot, s.feed, s.maxAge)
}

func (s *Service) settlePrice(ctx context.Context) game.PriceFunc {
	return oracle.PriceFunc(ctx, s.settle, s.feed, s.maxAge)
}

// commit applies a receipt. version 0 inserts a new game.
func (s *Service) commit(ctx context.Context, rc *game.Receipt, version int64) error {
	journal := ledger.NewJournal(s.ledger, s.asset)
	if err := journal.Apply(ctx, rc.Transfers); err != nil {
		return fmt.Errorf("move funds for %s: %w", rc.Game.Key(), err)
	}

	var err error
	if version == 0 {
		err = s.store.Insert(ctx, rc.Game, rc.Event)
	} else {
		_, err = s.store.Update(ctx, rc.Game, version, rc.Event)
	}
	if err != nil {
		if rbErr := journal.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			log.Error().
				Err(rbErr).
				Str("game", rc.Game.Key().String()).
				Msg("❌ Funds moved but state write failed and compensation failed")
			return errors.Join(err, fmt.Errorf("compensation failed: %w", rbErr))
		}
		return err
	}

	publishCommitted(context.WithoutCancel(ctx), s.publisher, rc.Event)
	return nil
}

func (s *Service) rejected(op string, key game.Key, err error) error {
	ev := log.Debug().Err(err).Str("op", op).Str("game", key.String())
	if e, ok := game.AsError(err); ok {
		ev = ev.Str("code", e.Code).Str("kind", e.Kind.String())
	}
	ev.Msg("🚫 Transition rejected")
	return err
}

/* =========================
   TRANSITIONS
========================= */

// CreateRequest opens a game. A nil GameID takes the initiator's next free id
// and a zero EntryAmount the configured default.
type CreateRequest struct {
	Initiator   common.Address
	GameID      *uint64
	Prediction  game.Prediction
	EntryAmount uint64
}

func (s *Service) CreateGame(ctx context.Context, req CreateRequest) (*game.GameState, error) {
	if req.Initiator == (common.Address{}) {
		return nil, game.ErrInvalidIdentity
	}
	if req.EntryAmount == 0 {
		req.EntryAmount = s.defaultEntry
	}

	var gameID uint64
	if req.GameID != nil {
		gameID = *req.GameID
	} else {
		// id allocation is serialized per initiator
		unlock := s.locks.Lock(game.Key{Initiator: req.Initiator})
		defer unlock()
		next, err := s.store.NextGameID(ctx, req.Initiator)
		if err != nil {
			return nil, err
		}
		gameID = next
	}

	key := game.Key{Initiator: req.Initiator, GameID: gameID}
	unlock := s.locks.Lock(key)
	defer unlock()

	// a taken id is rejected before any price read or deposit
	if _, _, err := s.store.Get(ctx, key); !errors.Is(err, game.ErrGameNotFound) {
		if err == nil {
			err = game.Errorf(game.ErrGameExists, "game %s", key)
		}
		return nil, s.rejected("create", key, err)
	}

	rc, err := s.rules.Create(game.CreateParams{
		GameID:      gameID,
		Initiator:   req.Initiator,
		Prediction:  req.Prediction,
		EntryAmount: req.EntryAmount,
	}, s.spotPrice(ctx), s.now())
	if err != nil {
		return nil, s.rejected("create", key, err)
	}
	if err := s.commit(ctx, rc, 0); err != nil {
		return nil, s.rejected("create", key, err)
	}

	log.Info().
		Str("game", key.String()).
		Str("prediction", rc.Game.InitiatorPrediction.String()).
		Str("price", rc.Game.InitialPrice.String()).
		Uint64("entry", rc.Game.EntryAmount).
		Msg("✅ Game created")
	return rc.Game, nil
}

// transition loads the game under its lock and commits what step produces
func (s *Service) transition(ctx context.Context, op string, key game.Key, step func(g *game.GameState, now time.Time) (*game.Receipt, error)) (*game.GameState, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	g, version, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, s.rejected(op, key, err)
	}
	rc, err := step(g, s.now())
	if err != nil {
		return nil, s.rejected(op, key, err)
	}
	if err := s.commit(ctx, rc, version); err != nil {
		return nil, s.rejected(op, key, err)
	}
	return rc.Game, nil
}

// JoinGame seats challenger in the pending game at key. initiator is the
// initiator the caller expects to play against.
func (s *Service) JoinGame(ctx context.Context, key game.Key, initiator, challenger common.Address) (*game.GameState, error) {
	g, err := s.transition(ctx, "join", key, func(g *game.GameState, now time.Time) (*game.Receipt, error) {
		return s.rules.Join(g, key.GameID, initiator, challenger, s.spotPrice(ctx), now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("game", key.String()).
		Str("challenger", challenger.Hex()).
		Str("prediction", g.ChallengerPrediction().String()).
		Msg("🤝 Game joined")
	return g, nil
}

// CloseGame settles an active game in favour of caller, who must be the winner
func (s *Service) CloseGame(ctx context.Context, key game.Key, initiator, caller common.Address) (*game.GameState, error) {
	g, err := s.transition(ctx, "close", key, func(g *game.GameState, now time.Time) (*game.Receipt, error) {
		return s.rules.Close(g, key.GameID, initiator, caller, s.settlePrice(ctx), now)
	})
	if err != nil {
		return nil, err
	}

	winning, _ := g.WinningPrediction()
	payout, _ := game.TotalPayout(g.EntryAmount)
	log.Info().
		Str("game", key.String()).
		Str("winner", caller.Hex()).
		Str("winning", winning.String()).
		Str("finalPrice", g.FinalPrice.String()).
		Uint64("payout", payout).
		Msg("🏆 Game closed")
	return g, nil
}

// DrawGame refunds both players of an active game past its timeout
func (s *Service) DrawGame(ctx context.Context, key game.Key, initiator, caller common.Address) (*game.GameState, error) {
	g, err := s.transition(ctx, "draw", key, func(g *game.GameState, now time.Time) (*game.Receipt, error) {
		return s.rules.Draw(g, key.GameID, initiator, caller, now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("game", key.String()).Uint64("refund", g.EntryAmount).Msg("🤝 Game drawn")
	return g, nil
}

// CancelGame refunds the initiator of a game nobody joined
func (s *Service) CancelGame(ctx context.Context, key game.Key, caller common.Address) (*game.GameState, error) {
	g, err := s.transition(ctx, "cancel", key, func(g *game.GameState, now time.Time) (*game.Receipt, error) {
		return s.rules.Cancel(g, key.GameID, caller, now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("game", key.String()).Uint64("refund", g.EntryAmount).Msg("↩️ Game cancelled")
	return g, nil
}

/* =========================
   QUERIES
========================= */

func (s *Service) GetGame(ctx context.Context, key game.Key) (*game.GameState, error) {
	g, _, err := s.store.Get(ctx, key)
	return g, err
}

func (s *Service) ListGames(ctx context.Context, f state.Filter) ([]*game.GameState, error) {
	return s.store.List(ctx, f)
}

// OpenGames lists games waiting for a challenger
func (s *Service) OpenGames(ctx context.Context, limit int) ([]*game.GameState, error) {
	return s.store.List(ctx, state.Filter{Status: game.Pending{}.Name(), Limit: limit})
}

// PlayerGames lists games player takes part in
func (s *Service) PlayerGames(ctx context.Context, player common.Address, limit int) ([]*game.GameState, error) {
	return s.store.List(ctx, state.Filter{Player: &player, Limit: limit})
}

func (s *Service) Stats(ctx context.Context) (state.Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) Events(ctx context.Context, key game.Key) ([]state.EventRecord, error) {
	if _, _, err := s.store.Get(ctx, key); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, key)
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]state.PnL, error) {
	if limit <= 0 {
		limit = config.LeaderboardLimit
	}
	return s.store.Leaderboard(ctx, limit)
}

func (s *Service) WalletPnL(ctx context.Context, wallet common.Address) (*state.PnL, error) {
	return s.store.WalletPnL(ctx, wallet)
}

// CurrentPrice reads the spot feed without touching any game
func (s *Service) CurrentPrice(ctx context.Context) (game.PriceFetched, error) {
	r, err := s.spot.ReadPrice(ctx, s.feed, s.maxAge)
	if err != nil {
		return game.PriceFetched{}, err
	}

	fetched := game.PriceFetched{
		Description: r.Description,
		Price:       r.Price(),
		Timestamp:   s.now().Unix(),
	}
	log.Debug().Str("feed", fetched.Description).Str("price", fetched.Price.String()).Msg("💲 Price fetched")
	return fetched, nil
}
