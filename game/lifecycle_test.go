package game

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func priceAt(s string) PriceFunc {
	return func() (decimal.Decimal, error) { return d(s), nil }
}

func noPrice(t *testing.T) PriceFunc {
	return func() (decimal.Decimal, error) {
		t.Fatal("oracle must not be read")
		return decimal.Zero, nil
	}
}

// escrowAfter replays transfers against the escrow of key
func escrowAfter(key Key, receipts ...*Receipt) int64 {
	var bal int64
	for _, r := range receipts {
		for _, tr := range r.Transfers {
			if tr.To == key.Escrow() {
				bal += int64(tr.Amount)
			}
			if tr.From == key.Escrow() {
				bal -= int64(tr.Amount)
			}
		}
	}
	return bal
}

func create(t *testing.T, rules Rules, prediction Prediction) *Receipt {
	t.Helper()
	r, err := rules.Create(CreateParams{GameID: 7, Initiator: alice, Prediction: prediction, EntryAmount: entry}, priceAt("100.0"), t0)
	require.NoError(t, err)
	return r
}

func join(t *testing.T, rules Rules, g *GameState, price string) *Receipt {
	t.Helper()
	r, err := rules.Join(g, 7, alice, bob, priceAt(price), t0.Add(time.Minute))
	require.NoError(t, err)
	return r
}

func TestCreate(t *testing.T) {
	rules := DefaultRules()
	r := create(t, rules, Increase)

	assert.Equal(t, Pending{}, r.Game.Status)
	assert.Nil(t, r.Game.Challenger)
	assert.True(t, r.Game.InitialPrice.Equal(d("100")))
	require.Len(t, r.Transfers, 1)
	assert.Equal(t, Transfer{Kind: Deposit, From: alice, To: r.Game.Escrow(), Amount: entry}, r.Transfers[0])
	assert.Equal(t, int64(entry), escrowAfter(r.Game.Key(), r))

	ev, ok := r.Event.(GameCreated)
	require.True(t, ok)
	assert.Equal(t, "pending", ev.Status)
	assert.Equal(t, t0.Unix(), ev.Timestamp)
	assert.Equal(t, Increase, ev.Prediction)
}

func TestCreateRejects(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name   string
		params CreateParams
		price  string
		want   error
	}{
		{"zero initiator", CreateParams{GameID: 1, Prediction: Increase, EntryAmount: entry}, "100", ErrInvalidIdentity},
		{"bad prediction", CreateParams{GameID: 1, Initiator: alice, Prediction: 5, EntryAmount: entry}, "100", ErrInvalidPrediction},
		{"zero entry", CreateParams{GameID: 1, Initiator: alice, Prediction: Increase}, "100", ErrInvalidEntryAmount},
		{"entry above max", CreateParams{GameID: 1, Initiator: alice, Prediction: Increase, EntryAmount: rules.MaxEntryAmount + 1}, "100", ErrInvalidEntryAmount},
		{"zero price", CreateParams{GameID: 1, Initiator: alice, Prediction: Increase, EntryAmount: entry}, "0", ErrInvalidPriceValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rules.Create(tt.params, priceAt(tt.price), t0)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	t.Run("oracle failure surfaces", func(t *testing.T) {
		_, err := rules.Create(CreateParams{GameID: 1, Initiator: alice, Prediction: Increase, EntryAmount: entry}, func() (decimal.Decimal, error) {
			return decimal.Zero, ErrStalePriceFeed
		}, t0)
		assert.ErrorIs(t, err, ErrStalePriceFeed)
	})
}

func TestInitiatorWinsOnRise(t *testing.T) {
	rules := DefaultRules()
	created := create(t, rules, Increase)

	joined := join(t, rules, created.Game, "100.5")
	assert.Equal(t, Active{}, joined.Game.Status)
	assert.Equal(t, bob, *joined.Game.Challenger)
	assert.Equal(t, Decrease, joined.Game.ChallengerPrediction())
	assert.Equal(t, int64(2*entry), escrowAfter(created.Game.Key(), created, joined))

	closed, err := rules.Close(joined.Game, 7, alice, alice, priceAt("106.0"), t0.Add(10*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, Complete{Winning: Increase}, closed.Game.Status)
	assert.True(t, closed.Game.FinalPrice.Equal(d("106")))
	require.NotNil(t, closed.Game.ClosedAt)
	require.Len(t, closed.Transfers, 1)
	assert.Equal(t, alice, closed.Transfers[0].To)
	assert.Equal(t, uint64(2000_000_000), closed.Transfers[0].Amount)
	assert.Equal(t, int64(0), escrowAfter(created.Game.Key(), created, joined, closed))

	ev := closed.Event.(GameClosed)
	details := ev.Details()
	require.NotNil(t, details)
	assert.Equal(t, alice, details.Winner)
	assert.Equal(t, Increase, details.WinningPrediction)
	assert.Equal(t, "6", details.PriceMovementPercentage.String())
	assert.Equal(t, uint64(2000_000_000), details.TotalPayout)

	winner, ok := closed.Game.Winner()
	assert.True(t, ok)
	assert.Equal(t, alice, winner)
}

func TestChallengerWinsOnDrop(t *testing.T) {
	rules := DefaultRules()
	created := create(t, rules, Increase)
	joined := join(t, rules, created.Game, "99.5")

	_, err := rules.Close(joined.Game, 7, alice, alice, priceAt("94"), t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotTheWinner)

	closed, err := rules.Close(joined.Game, 7, alice, bob, priceAt("94"), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Complete{Winning: Decrease}, closed.Game.Status)
	assert.Equal(t, bob, closed.Transfers[0].To)
}

func TestJoinRejectedOnVolatility(t *testing.T) {
	rules := DefaultRules()
	created := create(t, rules, Increase)
	before := created.Game.Clone()

	_, err := rules.Join(created.Game, 7, alice, bob, priceAt("102.0"), t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrExcessivePriceVolatility)
	assert.Equal(t, before, created.Game)
}

func TestCloseRejectedBelowThreshold(t *testing.T) {
	rules := DefaultRules()
	created := create(t, rules, Increase)
	joined := join(t, rules, created.Game, "100.5")
	before := joined.Game.Clone()

	_, err := rules.Close(joined.Game, 7, alice, alice, priceAt("101.0"), t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrThresholdNotReached)
	assert.Equal(t, Active{}, joined.Game.Status)
	assert.Equal(t, before, joined.Game)
}

func TestDrawAfterTimeout(t *testing.T) {
	rules := DefaultRules()
	created := create(t, rules, Decrease)
	joined := join(t, rules, created.Game, "100.2")
	started := *joined.Game.StartedAt

	_, err := rules.Draw(joined.Game, 7, alice, bob, started.Add(1799*time.Second))
	assert.ErrorIs(t, err, ErrTimeoutNotReached)
	assert.Equal(t, Active{}, joined.Game.Status)

	drawn, err := rules.Draw(joined.Game, 7, alice, bob, started.Add(1801*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Draw{}, drawn.Game.Status)
	require.Len(t, drawn.Transfers, 2)
	assert.Equal(t, alice, drawn.Transfers[0].To)
	assert.Equal(t, bob, drawn.Transfers[1].To)
	assert.Equal(t, entry, drawn.Transfers[0].Amount)
	assert.Equal(t, entry, drawn.Transfers[1].Amount)
	assert.Equal(t, int64(0), escrowAfter(created.Game.Key(), created, joined, drawn))
	assert.Nil(t, drawn.Event.(GameClosed).Details())
	assert.Nil(t, drawn.Game.FinalPrice)
}

func TestCancelRoundTrip(t *testing.T) {
	rules := DefaultRules()
	created := create(t, rules, Increase)

	cancelled, err := rules.Cancel(created.Game, 7, alice, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, Cancelled{}, cancelled.Game.Status)
	require.Len(t, cancelled.Transfers, 1)
	assert.Equal(t, Transfer{Kind: Release, From: created.Game.Escrow(), To: alice, Amount: entry}, cancelled.Transfers[0])
	assert.Equal(t, int64(0), escrowAfter(created.Game.Key(), created, cancelled))
	assert.Nil(t, cancelled.Event.(GameClosed).Details())

	_, err = rules.Cancel(created.Game, 7, bob, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotInitiator)
}

func TestCancelAfterJoinBlocked(t *testing.T) {
	rules := DefaultRules()
	joined := join(t, rules, create(t, rules, Increase).Game, "100")

	_, err := rules.Cancel(joined.Game, 7, alice, t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrWithdrawalBlocked)
}

func TestTerminality(t *testing.T) {
	rules := DefaultRules()
	created := create(t, rules, Increase)
	joined := join(t, rules, created.Game, "100")
	closed, err := rules.Close(joined.Game, 7, alice, alice, priceAt("110"), t0.Add(time.Hour))
	require.NoError(t, err)
	cancelled, err := rules.Cancel(created.Game, 7, alice, t0.Add(time.Minute))
	require.NoError(t, err)

	late := t0.Add(48 * time.Hour)
	for name, g := range map[string]*GameState{"complete": closed.Game, "cancelled": cancelled.Game} {
		t.Run(name, func(t *testing.T) {
			_, err := rules.Join(g, 7, alice, carol, noPrice(t), late)
			assert.ErrorIs(t, err, ErrGameAlreadyEnded)

			_, err = rules.Close(g, 7, alice, alice, noPrice(t), late)
			assert.ErrorIs(t, err, ErrGameNotActive)

			_, err = rules.Draw(g, 7, alice, alice, late)
			assert.ErrorIs(t, err, ErrGameNotActive)

			_, err = rules.Cancel(g, 7, alice, late)
			assert.ErrorIs(t, err, ErrGameAlreadyEnded)
		})
	}
}

func TestGuardRunsBeforeOracle(t *testing.T) {
	rules := DefaultRules()
	g := create(t, rules, Increase).Game

	_, err := rules.Join(g, 7, alice, alice, noPrice(t), t0)
	assert.ErrorIs(t, err, ErrCannotJoinOwnGame)

	_, err = rules.Close(g, 7, alice, alice, noPrice(t), t0)
	assert.ErrorIs(t, err, ErrGameNotActive)
}

func TestTransferReverse(t *testing.T) {
	tr := Transfer{Kind: Deposit, From: alice, To: bob, Amount: 5}
	assert.Equal(t, Transfer{Kind: Release, From: bob, To: alice, Amount: 5}, tr.Reverse())
	assert.Equal(t, tr, tr.Reverse().Reverse())
}
