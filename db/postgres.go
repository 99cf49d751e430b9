package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
	"github.com/iamramtin/zero-sum/state"
)

// GameStore keeps games, their event log and the wallet PnL table in PostgreSQL.
// Each transition is written in one transaction guarded by the row version.
type GameStore struct {
	Pool *pgxpool.Pool
}

// InitPostgres connects, pings and bootstraps the schema
func InitPostgres(ctx context.Context, databaseURL string) (*GameStore, error) {
	log.Info().Msg("🔌 Connecting to PostgreSQL...")

	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = config.MaxOpenConns
	poolConfig.MinConns = config.MinIdleConns
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("✅ PostgreSQL connected successfully")

	s := &GameStore{Pool: pool}
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the PostgreSQL connection pool
func (s *GameStore) Close() {
	if s.Pool != nil {
		log.Info().Msg("🔌 Closing PostgreSQL connection...")
		s.Pool.Close()
	}
}

// InitSchema creates the database tables if they don't exist
func (s *GameStore) InitSchema(ctx context.Context) error {
	log.Info().Msg("📋 Initializing database schema...")

	gamesSchema := `
	CREATE TABLE IF NOT EXISTS games (
		initiator TEXT NOT NULL,
		game_id NUMERIC(20, 0) NOT NULL,
		challenger TEXT,
		initiator_prediction SMALLINT NOT NULL,
		entry_amount BIGINT NOT NULL,
		initial_price NUMERIC NOT NULL,
		final_price NUMERIC,
		status TEXT NOT NULL,
		winning_prediction SMALLINT,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		closed_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1,
		PRIMARY KEY (initiator, game_id)
	);

	CREATE INDEX IF NOT EXISTS idx_games_status ON games(status);
	CREATE INDEX IF NOT EXISTS idx_games_challenger ON games(challenger);
	CREATE INDEX IF NOT EXISTS idx_games_created_at ON games(created_at DESC);
	`
	if _, err := s.Pool.Exec(ctx, gamesSchema); err != nil {
		return fmt.Errorf("failed to create games table: %w", err)
	}

	eventsSchema := `
	CREATE TABLE IF NOT EXISTS game_events (
		id BIGSERIAL PRIMARY KEY,
		initiator TEXT NOT NULL,
		game_id NUMERIC(20, 0) NOT NULL,
		type TEXT NOT NULL,
		data JSONB NOT NULL,
		timestamp BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_game_events_game ON game_events(initiator, game_id);
	`
	if _, err := s.Pool.Exec(ctx, eventsSchema); err != nil {
		return fmt.Errorf("failed to create game_events table: %w", err)
	}

	walletPnLSchema := `
	CREATE TABLE IF NOT EXISTS wallet_pnl (
		wallet_address TEXT PRIMARY KEY,
		amount BIGINT NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_pnl_amount ON wallet_pnl(amount DESC);
	`
	if _, err := s.Pool.Exec(ctx, walletPnLSchema); err != nil {
		return fmt.Errorf("failed to create wallet_pnl table: %w", err)
	}

	log.Info().Msg("✅ Database schema initialized")
	return nil
}

/* =========================
   ROW MAPPING
========================= */

const gameColumns = `initiator, game_id::text, challenger, initiator_prediction, entry_amount,
	initial_price::text, final_price::text, status, winning_prediction,
	created_at, started_at, closed_at, version`

type gameRow struct {
	initiator  string
	gameID     string
	challenger *string
	prediction int16
	entry      int64
	initial    string
	final      *string
	status     string
	winning    *int16
	createdAt  time.Time
	startedAt  *time.Time
	closedAt   *time.Time
	version    int64
}

func (r *gameRow) dest() []any {
	return []any{
		&r.initiator, &r.gameID, &r.challenger, &r.prediction, &r.entry,
		&r.initial, &r.final, &r.status, &r.winning,
		&r.createdAt, &r.startedAt, &r.closedAt, &r.version,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func (r *gameRow) game() (*game.GameState, error) {
	id, err := strconv.ParseUint(r.gameID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("game id %q: %w", r.gameID, err)
	}
	initial, err := decimal.NewFromString(r.initial)
	if err != nil {
		return nil, fmt.Errorf("initial price %q: %w", r.initial, err)
	}

	var winning *game.Prediction
	if r.winning != nil {
		p := game.Prediction(*r.winning)
		winning = &p
	}
	status, err := game.ParseStatus(r.status, winning)
	if err != nil {
		return nil, err
	}

	g := &game.GameState{
		GameID:              id,
		Initiator:           common.HexToAddress(r.initiator),
		InitiatorPrediction: game.Prediction(r.prediction),
		EntryAmount:         uint64(r.entry),
		InitialPrice:        initial,
		CreatedAt:           r.createdAt.UTC(),
		StartedAt:           utcPtr(r.startedAt),
		ClosedAt:            utcPtr(r.closedAt),
		Status:              status,
	}
	if r.challenger != nil {
		c := common.HexToAddress(*r.challenger)
		g.Challenger = &c
	}
	if r.final != nil {
		final, err := decimal.NewFromString(*r.final)
		if err != nil {
			return nil, fmt.Errorf("final price %q: %w", *r.final, err)
		}
		g.FinalPrice = &final
	}
	return g, nil
}

func challengerParam(g *game.GameState) *string {
	if g.Challenger == nil {
		return nil
	}
	v := g.Challenger.Hex()
	return &v
}

func finalPriceParam(g *game.GameState) *string {
	if g.FinalPrice == nil {
		return nil
	}
	v := g.FinalPrice.String()
	return &v
}

func winningParam(g *game.GameState) *int16 {
	p, ok := g.WinningPrediction()
	if !ok {
		return nil
	}
	v := int16(p)
	return &v
}

func gameIDParam(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func entryParam(g *game.GameState) (int64, error) {
	if g.EntryAmount > uint64(maxInt64) {
		return 0, game.Errorf(game.ErrOverflow, "entry amount %d", g.EntryAmount)
	}
	return int64(g.EntryAmount), nil
}

const maxInt64 = 1<<63 - 1

/* =========================
   GAMES
========================= */

func insertEvent(ctx context.Context, tx pgx.Tx, ev game.Event) error {
	rec, err := state.NewEventRecord(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO game_events (initiator, game_id, type, data, timestamp)
		VALUES ($1, $2::numeric, $3, $4, $5)
	`, rec.Initiator.Hex(), gameIDParam(rec.GameID), rec.Type, []byte(rec.Data), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

func (s *GameStore) Insert(ctx context.Context, g *game.GameState, ev game.Event) error {
	entry, err := entryParam(g)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO games (initiator, game_id, challenger, initiator_prediction, entry_amount,
				initial_price, final_price, status, winning_prediction, created_at, started_at, closed_at, version)
			VALUES ($1, $2::numeric, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, 1)
			ON CONFLICT (initiator, game_id) DO NOTHING
		`,
			g.Initiator.Hex(), gameIDParam(g.GameID), challengerParam(g), int16(g.InitiatorPrediction), entry,
			g.InitialPrice.String(), finalPriceParam(g), g.Status.Name(), winningParam(g),
			g.CreatedAt, g.StartedAt, g.ClosedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert game: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return game.Errorf(game.ErrGameExists, "%s", g.Key())
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *GameStore) Get(ctx context.Context, key game.Key) (*game.GameState, int64, error) {
	var row gameRow
	err := s.Pool.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE initiator = $1 AND game_id = $2::numeric`,
		key.Initiator.Hex(), gameIDParam(key.GameID)).Scan(row.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, game.Errorf(game.ErrGameNotFound, "%s", key)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get game: %w", err)
	}
	g, err := row.game()
	if err != nil {
		return nil, 0, err
	}
	return g, row.version, nil
}

// Update writes g if the stored row is still at version, appends the event and,
// for a settled game, moves both wallets' PnL. All in one transaction.
func (s *GameStore) Update(ctx context.Context, g *game.GameState, version int64, ev game.Event) (int64, error) {
	var next int64
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE games SET
				challenger = $3,
				final_price = $4::numeric,
				status = $5,
				winning_prediction = $6,
				started_at = $7,
				closed_at = $8,
				version = version + 1
			WHERE initiator = $1 AND game_id = $2::numeric AND version = $9
			RETURNING version
		`,
			g.Initiator.Hex(), gameIDParam(g.GameID), challengerParam(g), finalPriceParam(g),
			g.Status.Name(), winningParam(g), g.StartedAt, g.ClosedAt, version,
		).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			var current int64
			err := tx.QueryRow(ctx, `SELECT version FROM games WHERE initiator = $1 AND game_id = $2::numeric`,
				g.Initiator.Hex(), gameIDParam(g.GameID)).Scan(&current)
			if errors.Is(err, pgx.ErrNoRows) {
				return game.Errorf(game.ErrGameNotFound, "%s", g.Key())
			}
			if err != nil {
				return fmt.Errorf("failed to read game version: %w", err)
			}
			return game.Errorf(game.ErrVersionConflict, "%s at version %d, expected %d", g.Key(), current, version)
		}
		if err != nil {
			return fmt.Errorf("failed to update game: %w", err)
		}

		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}

		if winner, loser, amount, ok := state.PnLDelta(g); ok {
			if err := addWalletPnL(ctx, tx, winner, amount); err != nil {
				return err
			}
			if err := addWalletPnL(ctx, tx, loser, -amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *GameStore) List(ctx context.Context, f state.Filter) ([]*game.GameState, error) {
	player := ""
	if f.Player != nil {
		player = f.Player.Hex()
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT `+gameColumns+`
		FROM games
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR initiator = $2 OR challenger = $2)
		ORDER BY created_at DESC, game_id DESC
		LIMIT $3
	`, f.Status, player, f.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer rows.Close()

	games := make([]*game.GameState, 0)
	for rows.Next() {
		var row gameRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		g, err := row.game()
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return games, nil
}

func (s *GameStore) NextGameID(ctx context.Context, initiator common.Address) (uint64, error) {
	var lastID string
	err := s.Pool.QueryRow(ctx, `SELECT COALESCE(MAX(game_id), 0)::text FROM games WHERE initiator = $1`,
		initiator.Hex()).Scan(&lastID)
	if err != nil {
		return 0, fmt.Errorf("failed to read last game id: %w", err)
	}
	last, err := strconv.ParseUint(lastID, 10, 64)
	if err != nil || last == ^uint64(0) {
		return 0, game.Errorf(game.ErrOverflow, "last game id %s", lastID)
	}
	return last + 1, nil
}

func (s *GameStore) Stats(ctx context.Context) (state.Stats, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT status,
		       COUNT(*),
		       COALESCE(SUM(entry_amount), 0)::bigint,
		       COALESCE(SUM(entry_amount) FILTER (WHERE challenger IS NOT NULL), 0)::bigint
		FROM games
		GROUP BY status
	`)
	if err != nil {
		return state.Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var stats state.Stats
	for rows.Next() {
		var (
			status         string
			count          int64
			staked, joined int64
		)
		if err := rows.Scan(&status, &count, &staked, &joined); err != nil {
			return state.Stats{}, fmt.Errorf("failed to scan row: %w", err)
		}
		stats.TotalGames += count
		stats.TotalVolume += uint64(staked + joined)
		switch status {
		case game.Pending{}.Name():
			stats.PendingGames = count
			stats.TotalStaked += uint64(staked)
		case game.Active{}.Name():
			stats.ActiveGames = count
			stats.TotalStaked += 2 * uint64(staked)
		case game.Complete{}.Name():
			stats.CompletedGames = count
		case game.Draw{}.Name():
			stats.DrawGames = count
		case game.Cancelled{}.Name():
			stats.CancelledGames = count
		}
	}
	if err := rows.Err(); err != nil {
		return state.Stats{}, fmt.Errorf("error iterating rows: %w", err)
	}
	return stats, nil
}

// Events returns the log of one game, oldest first
func (s *GameStore) Events(ctx context.Context, key game.Key) ([]state.EventRecord, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, type, data, timestamp
		FROM game_events
		WHERE initiator = $1 AND game_id = $2::numeric
		ORDER BY id
	`, key.Initiator.Hex(), gameIDParam(key.GameID))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	records := make([]state.EventRecord, 0, 3)
	for rows.Next() {
		rec := state.EventRecord{Initiator: key.Initiator, GameID: key.GameID}
		var data []byte
		if err := rows.Scan(&rec.Seq, &rec.Type, &data, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.Data = data
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

/* =========================
   HEALTH CHECK
========================= */

// HealthCheck pings PostgreSQL
func (s *GameStore) HealthCheck(ctx context.Context) error {
	if s.Pool == nil {
		return fmt.Errorf("PostgreSQL connection pool not initialized")
	}
	return s.Pool.Ping(ctx)
}

/* =========================
   WALLET PNL
========================= */

func addWalletPnL(ctx context.Context, tx pgx.Tx, wallet common.Address, amount int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_pnl (wallet_address, amount)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE
		SET amount = wallet_pnl.amount + $2
	`, wallet.Hex(), amount)
	if err != nil {
		return fmt.Errorf("failed to update wallet PnL: %w", err)
	}

	if amount >= 0 {
		log.Debug().Str("wallet", wallet.Hex()).Int64("amount", amount).Msg("📈 Wallet PnL up")
	} else {
		log.Debug().Str("wallet", wallet.Hex()).Int64("amount", amount).Msg("📉 Wallet PnL down")
	}
	return nil
}

// SetWalletPnL overwrites the PnL of a wallet, for seeding and corrections
func (s *GameStore) SetWalletPnL(ctx context.Context, wallet common.Address, amount int64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO wallet_pnl (wallet_address, amount)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE
		SET amount = $2
	`, wallet.Hex(), amount)
	if err != nil {
		return fmt.Errorf("failed to set wallet PnL: %w", err)
	}
	return nil
}

// Leaderboard returns the top wallets sorted by PnL descending
func (s *GameStore) Leaderboard(ctx context.Context, limit int) ([]state.PnL, error) {
	if limit <= 0 {
		limit = config.LeaderboardLimit
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT wallet_address, amount,
		       ROW_NUMBER() OVER (ORDER BY amount DESC, wallet_address) as rank
		FROM wallet_pnl
		ORDER BY amount DESC, wallet_address
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	records := make([]state.PnL, 0, limit)
	for rows.Next() {
		var (
			wallet string
			record state.PnL
			rank   int64
		)
		if err := rows.Scan(&wallet, &record.Amount, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		record.Wallet = common.HexToAddress(wallet)
		record.Rank = int(rank)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// WalletPnL returns a wallet's rank and PnL, nil when it never settled a game
func (s *GameStore) WalletPnL(ctx context.Context, wallet common.Address) (*state.PnL, error) {
	var (
		record state.PnL
		rank   int64
	)
	err := s.Pool.QueryRow(ctx, `
		SELECT amount, rank FROM (
			SELECT wallet_address, amount,
			       ROW_NUMBER() OVER (ORDER BY amount DESC, wallet_address) as rank
			FROM wallet_pnl
		) ranked
		WHERE wallet_address = $1
	`, wallet.Hex()).Scan(&record.Amount, &rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet rank: %w", err)
	}
	record.Wallet = wallet
	record.Rank = int(rank)
	return &record, nil
}
