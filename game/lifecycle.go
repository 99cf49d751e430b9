package game

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/iamramtin/zero-sum/config"
)

// Rules are the thresholds and timeout every transition is checked against
type Rules struct {
	JoinThreshold  decimal.Decimal
	WinThreshold   decimal.Decimal
	Timeout        time.Duration
	MaxEntryAmount uint64
}

func DefaultRules() Rules {
	return Rules{
		JoinThreshold:  config.JoinThreshold,
		WinThreshold:   config.WinThreshold,
		Timeout:        config.GameTimeout,
		MaxEntryAmount: config.MaxEntryAmount,
	}
}

// PriceFunc reads the oracle. It is only invoked after the guard passed.
type PriceFunc func() (decimal.Decimal, error)

type TransferKind uint8

const (
	// Deposit moves a stake from a participant into the escrow
	Deposit TransferKind = iota + 1
	// Release moves value out of the escrow to a participant
	Release
)

func (k TransferKind) String() string {
	if k == Deposit {
		return "deposit"
	}
	return "release"
}

type Transfer struct {
	Kind   TransferKind
	From   common.Address
	To     common.Address
	Amount uint64
}

// Reverse is the compensating transfer
func (t Transfer) Reverse() Transfer {
	kind := Deposit
	if t.Kind == Deposit {
		kind = Release
	}
	return Transfer{Kind: kind, From: t.To, To: t.From, Amount: t.Amount}
}

// Receipt is the complete effect of one transition. Nothing is applied until the
// caller commits it: the new state, the fund movements and the event go together.
type Receipt struct {
	Game      *GameState
	Transfers []Transfer
	Event     Event
}

type CreateParams struct {
	GameID      uint64
	Initiator   common.Address
	Prediction  Prediction
	EntryAmount uint64
}

func seconds(now time.Time) time.Time {
	return now.UTC().Truncate(time.Second)
}

// Create opens a Pending game funded with the initiator's stake
func (r Rules) Create(p CreateParams, readPrice PriceFunc, now time.Time) (*Receipt, error) {
	if p.Initiator == (common.Address{}) {
		return nil, ErrInvalidIdentity
	}
	if !p.Prediction.Valid() {
		return nil, ErrInvalidPrediction
	}
	if p.EntryAmount == 0 || r.MaxEntryAmount > 0 && p.EntryAmount > r.MaxEntryAmount {
		return nil, Errorf(ErrInvalidEntryAmount, "%d", p.EntryAmount)
	}
	if _, err := TotalPayout(p.EntryAmount); err != nil {
		return nil, err
	}

	price, err := readPrice()
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, Errorf(ErrInvalidPriceValue, "initial price %s", price)
	}

	ts := seconds(now)
	g := &GameState{
		GameID:              p.GameID,
		Initiator:           p.Initiator,
		InitiatorPrediction: p.Prediction,
		EntryAmount:         p.EntryAmount,
		InitialPrice:        price,
		CreatedAt:           ts,
		Status:              Pending{},
	}

	return &Receipt{
		Game: g,
		Transfers: []Transfer{
			{Kind: Deposit, From: g.Initiator, To: g.Escrow(), Amount: g.EntryAmount},
		},
		Event: GameCreated{
			GameID:       g.GameID,
			Status:       g.Status.Name(),
			Initiator:    g.Initiator,
			Prediction:   g.InitiatorPrediction,
			InitialPrice: price,
			EntryAmount:  g.EntryAmount,
			Timestamp:    ts.Unix(),
		},
	}, nil
}

// Join seats the challenger, provided the price stayed within the join threshold
func (r Rules) Join(g *GameState, gameID uint64, initiator, challenger common.Address, readPrice PriceFunc, now time.Time) (*Receipt, error) {
	if err := g.ValidateJoin(gameID, challenger, initiator); err != nil {
		return nil, err
	}
	if challenger == (common.Address{}) {
		return nil, ErrInvalidIdentity
	}

	price, err := readPrice()
	if err != nil {
		return nil, err
	}
	m, err := EvaluateMovement(g.InitialPrice, price, r.JoinThreshold)
	if err != nil {
		return nil, err
	}
	if m.Exceeded {
		return nil, Errorf(ErrExcessivePriceVolatility, "moved %s%% since creation", m.Percent().StringFixed(4))
	}

	ts := seconds(now)
	next := g.Clone()
	next.Challenger = &challenger
	next.StartedAt = &ts
	next.Status = Active{}

	return &Receipt{
		Game: next,
		Transfers: []Transfer{
			{Kind: Deposit, From: challenger, To: next.Escrow(), Amount: next.EntryAmount},
		},
		Event: GameJoined{
			GameID:               next.GameID,
			Status:               next.Status.Name(),
			Initiator:            next.Initiator,
			Challenger:           challenger,
			ChallengerPrediction: next.ChallengerPrediction(),
			Timestamp:            ts.Unix(),
		},
	}, nil
}

// Close settles an active game once the win threshold is crossed. The caller
// declares itself the winner and must be the computed winner.
func (r Rules) Close(g *GameState, gameID uint64, initiator, caller common.Address, readPrice PriceFunc, now time.Time) (*Receipt, error) {
	if err := g.ValidateClose(gameID, caller, initiator); err != nil {
		return nil, err
	}

	price, err := readPrice()
	if err != nil {
		return nil, err
	}
	m, err := EvaluateMovement(g.InitialPrice, price, r.WinThreshold)
	if err != nil {
		return nil, err
	}
	if !m.Exceeded {
		return nil, Errorf(ErrThresholdNotReached, "moved %s%%, need %s%%", m.Percent().StringFixed(4), r.WinThreshold.Mul(hundred).String())
	}

	s, err := Settle(g.InitiatorPrediction, m.Direction, g.Initiator, g.Challenger, g.EntryAmount)
	if err != nil {
		return nil, err
	}
	if caller != s.Winner {
		return nil, ErrNotTheWinner
	}

	ts := seconds(now)
	next := g.Clone()
	next.FinalPrice = &price
	next.ClosedAt = &ts
	next.Status = Complete{Winning: s.WinningPrediction}

	return &Receipt{
		Game: next,
		Transfers: []Transfer{
			{Kind: Release, From: next.Escrow(), To: s.Winner, Amount: s.TotalPayout},
		},
		Event: GameClosed{
			GameID:    next.GameID,
			Status:    next.Status.Name(),
			Initiator: next.Initiator,
			Outcome: WinOutcome{
				Winner:                  s.Winner,
				WinningPrediction:       s.WinningPrediction,
				PriceMovementPercentage: m.Percent(),
				FinalPrice:              price,
				TotalPayout:             s.TotalPayout,
			},
			Timestamp: ts.Unix(),
		},
	}, nil
}

// Draw returns both stakes once an active game timed out. No price is read.
func (r Rules) Draw(g *GameState, gameID uint64, initiator, caller common.Address, now time.Time) (*Receipt, error) {
	if err := g.ValidateClose(gameID, caller, initiator); err != nil {
		return nil, err
	}
	timedOut, err := g.IsTimedOut(now, r.Timeout)
	if err != nil {
		return nil, err
	}
	if !timedOut {
		return nil, Errorf(ErrTimeoutNotReached, "draw allowed after %s", g.StartedAt.Add(r.Timeout).Format(time.RFC3339))
	}

	ts := seconds(now)
	next := g.Clone()
	next.ClosedAt = &ts
	next.Status = Draw{}

	escrow := next.Escrow()
	return &Receipt{
		Game: next,
		Transfers: []Transfer{
			{Kind: Release, From: escrow, To: next.Initiator, Amount: next.EntryAmount},
			{Kind: Release, From: escrow, To: *next.Challenger, Amount: next.EntryAmount},
		},
		Event: GameClosed{
			GameID:    next.GameID,
			Status:    next.Status.Name(),
			Initiator: next.Initiator,
			Outcome:   DrawOutcome{},
			Timestamp: ts.Unix(),
		},
	}, nil
}

// Cancel returns the stake of a game nobody joined
func (r Rules) Cancel(g *GameState, gameID uint64, caller common.Address, now time.Time) (*Receipt, error) {
	if err := g.ValidateWithdraw(gameID, caller); err != nil {
		return nil, err
	}

	ts := seconds(now)
	next := g.Clone()
	next.ClosedAt = &ts
	next.Status = Cancelled{}

	return &Receipt{
		Game: next,
		Transfers: []Transfer{
			{Kind: Release, From: next.Escrow(), To: next.Initiator, Amount: next.EntryAmount},
		},
		Event: GameClosed{
			GameID:    next.GameID,
			Status:    next.Status.Name(),
			Initiator: next.Initiator,
			Outcome:   CancelOutcome{},
			Timestamp: ts.Unix(),
		},
	}, nil
}
