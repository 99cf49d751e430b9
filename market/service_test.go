package market

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamramtin/zero-sum/game"
	"github.com/iamramtin/zero-sum/ledger"
	"github.com/iamramtin/zero-sum/oracle"
	"github.com/iamramtin/zero-sum/state"
)

const (
	usdc  = "USDC"
	entry = uint64(1_000_000_000)
	funds = 10 * entry
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x000000000000000000000000000000000000ca01")
	feed  = oracle.Feed{Address: common.HexToAddress("0x4aDC67696bA383F43DD60A9e78F2C97Fbbfc7cb1"), Description: "ETH / USD"}
	t0    = time.Unix(1_700_000_000, 0).UTC()
)

type recorder struct {
	mu     sync.Mutex
	events []game.Event
}

func (r *recorder) Publish(ctx context.Context, ev game.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name()
	}
	return out
}

// countingReader counts oracle reads
type countingReader struct {
	oracle.Reader
	reads atomic.Int64
}

func (c *countingReader) ReadPrice(ctx context.Context, f oracle.Feed, maxAge time.Duration) (oracle.Reading, error) {
	c.reads.Add(1)
	return c.Reader.ReadPrice(ctx, f, maxAge)
}

// failingStore fails updates on demand
type failingStore struct {
	state.Store
	failUpdate error
}

func (f *failingStore) Update(ctx context.Context, g *game.GameState, version int64, ev game.Event) (int64, error) {
	if f.failUpdate != nil {
		return 0, f.failUpdate
	}
	return f.Store.Update(ctx, g, version, ev)
}

type harness struct {
	svc    *Service
	price  *oracle.Manual
	reader *countingReader
	ledger *ledger.Memory
	store  *failingStore
	events *recorder
	clock  time.Time
	mu     sync.Mutex
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		price:  oracle.NewManual(feed, decimal.NewFromInt(100)),
		ledger: ledger.NewMemory(),
		store:  &failingStore{Store: state.NewMemory()},
		events: &recorder{},
		clock:  t0,
	}
	h.reader = &countingReader{Reader: h.price}
	for _, addr := range []common.Address{alice, bob, carol} {
		require.NoError(t, h.ledger.Credit(addr, usdc, funds))
	}

	svc, err := NewService(Options{
		Rules:     game.DefaultRules(),
		Feed:      feed,
		Spot:      h.reader,
		MaxAge:    time.Minute,
		Ledger:    h.ledger,
		Asset:     usdc,
		Store:     h.store,
		Publisher: h.events,
		Now:       h.now,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(d)
}

func (h *harness) setPrice(p string) {
	h.price.Set(decimal.RequireFromString(p))
}

func (h *harness) balance(addr common.Address) uint64 {
	return h.ledger.Balance(addr, usdc)
}

// total sums every balance the games can touch
func (h *harness) total(games ...*game.GameState) uint64 {
	sum := h.balance(alice) + h.balance(bob) + h.balance(carol)
	for _, g := range games {
		sum += h.balance(g.Escrow())
	}
	return sum
}

func (h *harness) create(t *testing.T, id uint64, p game.Prediction) *game.GameState {
	t.Helper()
	g, err := h.svc.CreateGame(context.Background(), CreateRequest{Initiator: alice, GameID: &id, Prediction: p, EntryAmount: entry})
	require.NoError(t, err)
	return g
}

func TestInitiatorWinsOnRise(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := h.create(t, 1, game.Increase)
	assert.Equal(t, entry, h.balance(g.Escrow()))
	assert.Equal(t, funds-entry, h.balance(alice))

	h.setPrice("100.5")
	h.advance(time.Minute)
	g, err := h.svc.JoinGame(ctx, g.Key(), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, game.Active{}, g.Status)
	assert.Equal(t, game.Decrease, g.ChallengerPrediction())
	assert.Equal(t, 2*entry, h.balance(g.Escrow()))

	h.setPrice("105")
	h.advance(time.Minute)
	g, err = h.svc.CloseGame(ctx, g.Key(), alice, alice)
	require.NoError(t, err)

	assert.Equal(t, game.Complete{Winning: game.Increase}, g.Status)
	assert.Equal(t, "105", g.FinalPrice.String())
	assert.Equal(t, funds+entry, h.balance(alice))
	assert.Equal(t, funds-entry, h.balance(bob))
	assert.Equal(t, uint64(0), h.balance(g.Escrow()))
	assert.Equal(t, 3*funds, h.total(g))

	assert.Equal(t, []string{game.EventGameCreated, game.EventGameJoined, game.EventGameClosed}, h.events.names())
	closed := h.events.events[2].(game.GameClosed)
	require.NotNil(t, closed.Details())
	assert.Equal(t, alice, closed.Details().Winner)
	assert.Equal(t, 2*entry, closed.Details().TotalPayout)
	assert.Equal(t, "5", closed.Details().PriceMovementPercentage.String())

	board, err := h.svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, alice, board[0].Wallet)
}

func TestChallengerWinsOnFall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := h.create(t, 1, game.Increase)
	g, err := h.svc.JoinGame(ctx, g.Key(), alice, bob)
	require.NoError(t, err)

	h.setPrice("94")
	_, err = h.svc.CloseGame(ctx, g.Key(), alice, alice)
	assert.ErrorIs(t, err, game.ErrNotTheWinner)

	g, err = h.svc.CloseGame(ctx, g.Key(), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, game.Complete{Winning: game.Decrease}, g.Status)
	assert.Equal(t, funds+entry, h.balance(bob))
	assert.Equal(t, funds-entry, h.balance(alice))
}

func TestJoinRejectedOnVolatility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := h.create(t, 1, game.Decrease)
	h.setPrice("101.5")

	_, err := h.svc.JoinGame(ctx, g.Key(), alice, bob)
	assert.ErrorIs(t, err, game.ErrExcessivePriceVolatility)

	assert.Equal(t, funds, h.balance(bob))
	stored, err := h.svc.GetGame(ctx, g.Key())
	require.NoError(t, err)
	assert.Equal(t, game.Pending{}, stored.Status)
	assert.Nil(t, stored.Challenger)
	assert.Equal(t, []string{game.EventGameCreated}, h.events.names())
}

func TestCloseRejectedBelowThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := h.create(t, 1, game.Increase)
	g, err := h.svc.JoinGame(ctx, g.Key(), alice, bob)
	require.NoError(t, err)

	h.setPrice("103")
	_, err = h.svc.CloseGame(ctx, g.Key(), alice, alice)
	assert.ErrorIs(t, err, game.ErrThresholdNotReached)

	stored, err := h.svc.GetGame(ctx, g.Key())
	require.NoError(t, err)
	assert.Equal(t, game.Active{}, stored.Status)
	assert.Equal(t, 2*entry, h.balance(g.Escrow()))
}

func TestDrawAfterTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := h.create(t, 1, game.Increase)
	g, err := h.svc.JoinGame(ctx, g.Key(), alice, bob)
	require.NoError(t, err)

	h.advance(30 * time.Minute)
	_, err = h.svc.DrawGame(ctx, g.Key(), alice, bob)
	assert.ErrorIs(t, err, game.ErrTimeoutNotReached, "deadline itself is not past")

	_, err = h.svc.DrawGame(ctx, g.Key(), alice, carol)
	assert.ErrorIs(t, err, game.ErrNotAuthorized)

	h.advance(time.Second)
	reads := h.reader.reads.Load()
	g, err = h.svc.DrawGame(ctx, g.Key(), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, reads, h.reader.reads.Load(), "draw reads no price")

	assert.Equal(t, game.Draw{}, g.Status)
	assert.Equal(t, funds, h.balance(alice))
	assert.Equal(t, funds, h.balance(bob))
	assert.Equal(t, uint64(0), h.balance(g.Escrow()))
}

func TestCancelRefundsInitiator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := h.create(t, 1, game.Increase)
	_, err := h.svc.CancelGame(ctx, g.Key(), bob)
	assert.ErrorIs(t, err, game.ErrNotInitiator)

	g, err = h.svc.CancelGame(ctx, g.Key(), alice)
	require.NoError(t, err)
	assert.Equal(t, game.Cancelled{}, g.Status)
	assert.Equal(t, funds, h.balance(alice))

	_, err = h.svc.JoinGame(ctx, g.Key(), alice, bob)
	assert.ErrorIs(t, err, game.ErrGameAlreadyEnded)
	_, err = h.svc.CancelGame(ctx, g.Key(), alice)
	assert.ErrorIs(t, err, game.ErrGameAlreadyEnded)
}

func TestGuardFailureReadsNoPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := h.create(t, 1, game.Increase)
	reads := h.reader.reads.Load()

	_, err := h.svc.JoinGame(ctx, g.Key(), alice, alice)
	assert.ErrorIs(t, err, game.ErrCannotJoinOwnGame)
	_, err = h.svc.JoinGame(ctx, g.Key(), carol, bob)
	assert.ErrorIs(t, err, game.ErrIncorrectInitiator)
	_, err = h.svc.CloseGame(ctx, g.Key(), alice, alice)
	assert.ErrorIs(t, err, game.ErrGameNotActive)

	assert.Equal(t, reads, h.reader.reads.Load())
}

func TestStalePriceAbortsWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := h.create(t, 1, game.Increase)
	h.price.SetAt(decimal.NewFromInt(100), time.Now().Add(-time.Hour))

	_, err := h.svc.JoinGame(ctx, g.Key(), alice, bob)
	assert.ErrorIs(t, err, game.ErrStalePriceFeed)
	assert.Equal(t, funds, h.balance(bob))

	_, err = h.svc.CreateGame(ctx, CreateRequest{Initiator: carol, Prediction: game.Increase})
	assert.ErrorIs(t, err, game.ErrStalePriceFeed)
	assert.Equal(t, funds, h.balance(carol))
}

func TestInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	poor := common.HexToAddress("0x0000000000000000000000000000000000000bad")

	_, err := h.svc.CreateGame(ctx, CreateRequest{Initiator: poor, Prediction: game.Increase, EntryAmount: entry})
	assert.ErrorIs(t, err, game.ErrInsufficientFunds)

	_, err = h.svc.GetGame(ctx, game.Key{Initiator: poor, GameID: 1})
	assert.ErrorIs(t, err, game.ErrGameNotFound)

	g := h.create(t, 1, game.Increase)
	_, err = h.svc.JoinGame(ctx, g.Key(), alice, poor)
	assert.ErrorIs(t, err, game.ErrInsufficientFunds)
	stored, err := h.svc.GetGame(ctx, g.Key())
	require.NoError(t, err)
	assert.True(t, stored.Joinable())
}

func TestStoreFailureCompensatesFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := h.create(t, 1, game.Increase)
	down := errors.New("database unavailable")
	h.store.failUpdate = down

	_, err := h.svc.JoinGame(ctx, g.Key(), alice, bob)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, funds, h.balance(bob))
	assert.Equal(t, entry, h.balance(g.Escrow()))
	assert.Equal(t, []string{game.EventGameCreated}, h.events.names())

	h.store.failUpdate = nil
	_, err = h.svc.JoinGame(ctx, g.Key(), alice, bob)
	require.NoError(t, err)
}

func TestAutoGameID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.CreateGame(ctx, CreateRequest{Initiator: alice, Prediction: game.Increase})
	require.NoError(t, err)
	second, err := h.svc.CreateGame(ctx, CreateRequest{Initiator: alice, Prediction: game.Decrease})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.GameID)
	assert.Equal(t, uint64(2), second.GameID)
	assert.NotEqual(t, first.Escrow(), second.Escrow())
	assert.Equal(t, h.svc.defaultEntry, first.EntryAmount)

	id := uint64(2)
	_, err = h.svc.CreateGame(ctx, CreateRequest{Initiator: alice, GameID: &id, Prediction: game.Increase})
	assert.ErrorIs(t, err, game.ErrGameExists)
	assert.Equal(t, funds-2*first.EntryAmount, h.balance(alice))
}

func TestDuplicateCreateMovesNoFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, 7, game.Increase)

	var transfers []game.Transfer
	h.ledger.FailOn = func(tr game.Transfer) error {
		transfers = append(transfers, tr)
		return nil
	}
	reads := h.reader.reads.Load()

	id := uint64(7)
	_, err := h.svc.CreateGame(ctx, CreateRequest{Initiator: alice, GameID: &id, Prediction: game.Decrease, EntryAmount: entry})
	assert.ErrorIs(t, err, game.ErrGameExists)
	assert.Empty(t, transfers)
	assert.Equal(t, reads, h.reader.reads.Load())
	assert.Equal(t, funds-entry, h.balance(alice))
	assert.Equal(t, []string{game.EventGameCreated}, h.events.names())
}

func TestConcurrentJoinsSeatOneChallenger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.create(t, 1, game.Increase)

	challengers := []common.Address{bob, carol}
	for i := 0; i < 6; i++ {
		addr := common.BigToAddress(common.Big1).Bytes()
		addr[19] = byte(0x10 + i)
		c := common.BytesToAddress(addr)
		require.NoError(t, h.ledger.Credit(c, usdc, funds))
		challengers = append(challengers, c)
	}

	var (
		wg       sync.WaitGroup
		joined   atomic.Int64
		full     atomic.Int64
		starters = make(chan struct{})
	)
	for _, c := range challengers {
		wg.Add(1)
		go func(c common.Address) {
			defer wg.Done()
			<-starters
			_, err := h.svc.JoinGame(ctx, g.Key(), alice, c)
			switch {
			case err == nil:
				joined.Add(1)
			case errors.Is(err, game.ErrGameAlreadyFull):
				full.Add(1)
			}
		}(c)
	}
	close(starters)
	wg.Wait()

	assert.Equal(t, int64(1), joined.Load())
	assert.Equal(t, int64(len(challengers)-1), full.Load())
	assert.Equal(t, 2*entry, h.balance(g.Escrow()))
	assert.Equal(t, 0, h.svc.locks.size())
}

func TestEscrowMatchesStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	games := []*game.GameState{h.create(t, 1, game.Increase), h.create(t, 2, game.Decrease), h.create(t, 3, game.Increase)}
	_, err := h.svc.JoinGame(ctx, games[1].Key(), alice, bob)
	require.NoError(t, err)
	_, err = h.svc.JoinGame(ctx, games[2].Key(), alice, carol)
	require.NoError(t, err)
	_, err = h.svc.CancelGame(ctx, games[0].Key(), alice)
	require.NoError(t, err)
	h.setPrice("90")
	_, err = h.svc.CloseGame(ctx, games[2].Key(), alice, carol)
	require.NoError(t, err)

	for _, g := range games {
		stored, err := h.svc.GetGame(ctx, g.Key())
		require.NoError(t, err)
		assert.Equal(t, stored.EscrowBalance(), h.balance(g.Escrow()), stored.Key().String())
	}
	assert.Equal(t, 3*funds, h.total(games...))

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalGames)
	assert.Equal(t, int64(1), stats.ActiveGames)
	assert.Equal(t, 2*entry, stats.TotalStaked)

	open, err := h.svc.OpenGames(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, open)

	mine, err := h.svc.PlayerGames(ctx, carol, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, uint64(3), mine[0].GameID)

	events, err := h.svc.Events(ctx, games[2].Key())
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestCurrentPrice(t *testing.T) {
	h := newHarness(t)
	h.setPrice("3012.5")

	fetched, err := h.svc.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ETH / USD", fetched.Description)
	assert.Equal(t, "3012.5", fetched.Price.String())
	assert.Equal(t, t0.Unix(), fetched.Timestamp)
}

func TestSettleReaderUsedForClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	settle := oracle.NewManual(feed, decimal.NewFromInt(100))
	h.svc.settle = settle

	g := h.create(t, 1, game.Increase)
	g, err := h.svc.JoinGame(ctx, g.Key(), alice, bob)
	require.NoError(t, err)

	// the spot spikes but the settlement price has not moved
	h.setPrice("120")
	_, err = h.svc.CloseGame(ctx, g.Key(), alice, alice)
	assert.ErrorIs(t, err, game.ErrThresholdNotReached)

	settle.Set(decimal.NewFromInt(106))
	_, err = h.svc.CloseGame(ctx, g.Key(), alice, alice)
	require.NoError(t, err)
}

func TestMultiPublisher(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	boom := errors.New("boom")
	m := MultiPublisher{a, PublisherFunc(func(context.Context, game.Event) error { return boom }), nil, b}

	err := m.Publish(context.Background(), game.GameCreated{GameID: 1, Initiator: alice})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}
