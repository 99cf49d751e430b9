package db

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
	"github.com/iamramtin/zero-sum/state"
)

var (
	t0    = time.Unix(1_700_000_000, 0).UTC()
	rules = game.DefaultRules()
)

func randomAddress(t *testing.T) common.Address {
	var b [20]byte
	_, err := rand.Read(b[:])
	require.NoError(t, err)
	return common.BytesToAddress(b[:])
}

func price(s string) game.PriceFunc {
	return func() (decimal.Decimal, error) { return decimal.RequireFromString(s), nil }
}

func openPostgres(t *testing.T) *GameStore {
	_ = godotenv.Load("../.env")
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := InitPostgres(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func openRedis(t *testing.T) *redis.Client {
	_ = godotenv.Load("../.env")
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	client, err := InitRedis(context.Background(), url, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGameRowMapping(t *testing.T) {
	challenger := "0x0000000000000000000000000000000000000B0B"
	final := "106.5"
	winning := int16(game.Increase)
	started := t0.Add(time.Minute)
	closed := t0.Add(2 * time.Minute)

	row := gameRow{
		initiator:  "0x00000000000000000000000000000000000A11CE",
		gameID:     "18446744073709551615",
		challenger: &challenger,
		prediction: int16(game.Increase),
		entry:      1_000_000,
		initial:    "100.25",
		final:      &final,
		status:     "complete",
		winning:    &winning,
		createdAt:  t0,
		startedAt:  &started,
		closedAt:   &closed,
		version:    3,
	}
	g, err := row.game()
	require.NoError(t, err)

	assert.Equal(t, ^uint64(0), g.GameID)
	assert.Equal(t, game.Complete{Winning: game.Increase}, g.Status)
	assert.Equal(t, "100.25", g.InitialPrice.String())
	assert.Equal(t, "106.5", g.FinalPrice.String())
	winner, ok := g.Winner()
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress(row.initiator), winner)

	assert.Equal(t, "18446744073709551615", gameIDParam(g.GameID))
	assert.Equal(t, &final, finalPriceParam(g))
	assert.Equal(t, int16(game.Increase), *winningParam(g))

	row.status = "bogus"
	_, err = row.game()
	assert.Error(t, err)
}

func TestRelayMessageRoundTrip(t *testing.T) {
	ev := game.GameJoined{GameID: 4, Status: "active", Initiator: common.HexToAddress("0x00000000000000000000000000000000000a11ce")}
	envelope, err := json.Marshal(game.NewEnvelope(ev))
	require.NoError(t, err)
	payload, err := json.Marshal(relayMessage{Initiator: ev.Initiator.Hex(), GameID: 4, Envelope: envelope})
	require.NoError(t, err)

	key, got, err := decodeRelay(payload)
	require.NoError(t, err)
	assert.Equal(t, ev.GameKey(), key)
	assert.JSONEq(t, string(envelope), string(got))

	_, _, err = decodeRelay([]byte(`{"initiator":"nope","gameId":1,"envelope":{}}`))
	assert.Error(t, err)
}

func TestPostgresGameStore(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()
	alice, bob := randomAddress(t), randomAddress(t)

	next, err := s.NextGameID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)

	created, err := rules.Create(game.CreateParams{GameID: 1, Initiator: alice, Prediction: game.Increase, EntryAmount: 1_000_000}, price("3000.12345678"), t0)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, created.Game, created.Event))
	assert.ErrorIs(t, s.Insert(ctx, created.Game, created.Event), game.ErrGameExists)

	g, version, err := s.Get(ctx, created.Game.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, created.Game, g)

	joined, err := rules.Join(g, 1, alice, bob, price("3001"), t0.Add(time.Minute))
	require.NoError(t, err)
	version, err = s.Update(ctx, joined.Game, version, joined.Event)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	_, err = s.Update(ctx, joined.Game, 1, joined.Event)
	assert.ErrorIs(t, err, game.ErrVersionConflict)

	closed, err := rules.Close(joined.Game, 1, alice, bob, price("2800"), t0.Add(2*time.Minute))
	require.NoError(t, err)
	_, err = s.Update(ctx, closed.Game, version, closed.Event)
	require.NoError(t, err)

	g, _, err = s.Get(ctx, created.Game.Key())
	require.NoError(t, err)
	assert.Equal(t, closed.Game, g)

	mine, err := s.List(ctx, state.Filter{Player: &bob})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	events, err := s.Events(ctx, created.Game.Key())
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, game.EventGameClosed, events[2].Type)

	winner, err := s.WalletPnL(ctx, bob)
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, int64(1_000_000), winner.Amount)

	loser, err := s.WalletPnL(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, loser)
	assert.Equal(t, int64(-1_000_000), loser.Amount)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.CompletedGames, int64(1))

	require.NoError(t, s.HealthCheck(ctx))
}

func TestCachedStore(t *testing.T) {
	client := openRedis(t)
	ctx := context.Background()
	inner := state.NewMemory()
	c := NewCachedStore(inner, client, time.Minute)

	alice, bob := randomAddress(t), randomAddress(t)
	created, err := rules.Create(game.CreateParams{GameID: 1, Initiator: alice, Prediction: game.Decrease, EntryAmount: 5}, price("10"), t0)
	require.NoError(t, err)
	require.NoError(t, c.Insert(ctx, created.Game, created.Event))
	t.Cleanup(func() { c.Invalidate(ctx, created.Game.Key()) })

	ttl, err := client.TTL(ctx, cacheKey(created.Game.Key())).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	g, version, err := c.Get(ctx, created.Game.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, created.Game.Status, g.Status)

	joined, err := rules.Join(g, 1, alice, bob, price("10"), t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = c.Update(ctx, joined.Game, version, joined.Event)
	require.NoError(t, err)

	g, version, err = c.Get(ctx, created.Game.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.True(t, g.IsChallenger(bob))

	// a miss loads from the store
	c.Invalidate(ctx, created.Game.Key())
	g, version, err = c.Get(ctx, created.Game.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.True(t, g.IsActive())

	_, _, err = c.Get(ctx, game.Key{Initiator: bob, GameID: 9})
	assert.ErrorIs(t, err, game.ErrGameNotFound)

	// a slow miss that read version 1 must not replace the cached version 2
	c.fill(ctx, created.Game, 1)
	g, version, err = c.Get(ctx, created.Game.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.True(t, g.IsChallenger(bob))
}

func TestEventPublisher(t *testing.T) {
	client := openRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := NewEventPublisher(client)
	assert.Equal(t, config.RedisEventChannel, p.channel)

	got := make(chan game.Key, 1)
	go func() {
		_ = p.Subscribe(ctx, func(key game.Key, envelope []byte) { got <- key })
	}()

	ev := game.GameCreated{GameID: 11, Status: "pending", Initiator: randomAddress(t), Timestamp: t0.Unix()}
	require.Eventually(t, func() bool {
		if err := p.Publish(ctx, ev); err != nil {
			return false
		}
		select {
		case key := <-got:
			return key == ev.GameKey()
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 200*time.Millisecond)
}
