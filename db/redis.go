package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
	"github.com/iamramtin/zero-sum/state"
)

// InitRedis connects to Redis. addr is host:port or a redis:// URL.
func InitRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	log.Info().Msg("🔌 Connecting to Redis...")

	if addr == "" {
		addr = "localhost:6379"
	}

	opts := &redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opts.Addr, opts.Username, opts.TLSConfig = parsed.Addr, parsed.Username, parsed.TLSConfig
		if parsed.Password != "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("✅ Redis connected successfully")
	return client, nil
}

/* =========================
   GAME CACHE
   Redis Key: game:{initiator}:{gameId} -> {"version": n, "game": {...}}
========================= */

type cachedGame struct {
	Version int64           `json:"version"`
	Game    *game.GameState `json:"game"`
}

// CachedStore is a read-through Redis cache in front of a store. Writes go to
// the store first and then refresh the cached copy. Concurrent misses for one
// key share a single load.
type CachedStore struct {
	state.Store
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

func NewCachedStore(inner state.Store, client *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = config.GameCacheTTL
	}
	return &CachedStore{Store: inner, client: client, ttl: ttl}
}

func cacheKey(key game.Key) string {
	return config.GameCacheKey(key.Initiator.Hex(), key.GameID)
}

func (c *CachedStore) put(ctx context.Context, g *game.GameState, version int64) {
	data, err := json.Marshal(cachedGame{Version: version, Game: g})
	if err != nil {
		log.Warn().Err(err).Str("game", g.Key().String()).Msg("⚠️ Failed to marshal cached game")
		return
	}
	if err := c.client.Set(ctx, cacheKey(g.Key()), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("game", g.Key().String()).Msg("⚠️ Failed to cache game")
		// a stale entry must not outlive the write
		c.client.Del(ctx, cacheKey(g.Key()))
	}
}

// fill caches a copy read from the store on a miss. A newer copy cached by
// a concurrent write is left in place.
func (c *CachedStore) fill(ctx context.Context, g *game.GameState, version int64) {
	data, err := json.Marshal(cachedGame{Version: version, Game: g})
	if err != nil {
		log.Warn().Err(err).Str("game", g.Key().String()).Msg("⚠️ Failed to marshal cached game")
		return
	}
	if err := c.client.SetNX(ctx, cacheKey(g.Key()), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("game", g.Key().String()).Msg("⚠️ Failed to cache game")
	}
}

func (c *CachedStore) Insert(ctx context.Context, g *game.GameState, ev game.Event) error {
	if err := c.Store.Insert(ctx, g, ev); err != nil {
		return err
	}
	c.put(ctx, g, 1)
	return nil
}

func (c *CachedStore) Update(ctx context.Context, g *game.GameState, version int64, ev game.Event) (int64, error) {
	next, err := c.Store.Update(ctx, g, version, ev)
	if err != nil {
		if errors.Is(err, game.ErrVersionConflict) {
			c.Invalidate(ctx, g.Key())
		}
		return 0, err
	}
	c.put(ctx, g, next)
	return next, nil
}

func (c *CachedStore) Get(ctx context.Context, key game.Key) (*game.GameState, int64, error) {
	data, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	switch {
	case err == nil:
		var cached cachedGame
		if err := json.Unmarshal(data, &cached); err == nil && cached.Game != nil {
			return cached.Game, cached.Version, nil
		}
		log.Warn().Str("game", key.String()).Msg("⚠️ Dropping undecodable cached game")
		c.Invalidate(ctx, key)
	case errors.Is(err, redis.Nil):
	default:
		log.Warn().Err(err).Str("game", key.String()).Msg("⚠️ Redis read failed, falling back to store")
	}

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		g, version, err := c.Store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		c.fill(ctx, g, version)
		return cachedGame{Version: version, Game: g}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	loaded := v.(cachedGame)
	return loaded.Game.Clone(), loaded.Version, nil
}

// Invalidate drops the cached copy of a game
func (c *CachedStore) Invalidate(ctx context.Context, key game.Key) {
	if err := c.client.Del(ctx, cacheKey(key)).Err(); err != nil {
		log.Warn().Err(err).Str("game", key.String()).Msg("⚠️ Failed to invalidate cached game")
	}
}

/* =========================
   EVENT PUBLISHER
   Channel: games:events -> {"initiator", "gameId", "envelope"}
========================= */

type relayMessage struct {
	Initiator string          `json:"initiator"`
	GameID    uint64          `json:"gameId"`
	Envelope  json.RawMessage `json:"envelope"`
}

// EventPublisher fans committed events out over Redis pub/sub so every
// server instance can stream them.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(client *redis.Client) *EventPublisher {
	return &EventPublisher{client: client, channel: config.RedisEventChannel}
}

func (p *EventPublisher) Publish(ctx context.Context, ev game.Event) error {
	envelope, err := json.Marshal(game.NewEnvelope(ev))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	key := ev.GameKey()
	data, err := json.Marshal(relayMessage{Initiator: key.Initiator.Hex(), GameID: key.GameID, Envelope: envelope})
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe delivers every relayed envelope to handle until ctx is done
func (p *EventPublisher) Subscribe(ctx context.Context, handle func(key game.Key, envelope []byte)) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", p.channel, err)
	}
	log.Info().Str("channel", p.channel).Msg("📡 Subscribed to game events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			key, envelope, err := decodeRelay([]byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Msg("⚠️ Dropping malformed relay message")
				continue
			}
			handle(key, envelope)
		}
	}
}

func decodeRelay(payload []byte) (game.Key, []byte, error) {
	var msg relayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return game.Key{}, nil, err
	}
	initiator, err := game.ParseAddress(msg.Initiator)
	if err != nil {
		return game.Key{}, nil, err
	}
	return game.Key{Initiator: initiator, GameID: msg.GameID}, msg.Envelope, nil
}

/* =========================
   HEALTH CHECK
========================= */

// HealthCheck performs a Redis health check
func HealthCheck(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return client.Ping(ctx).Err()
}
