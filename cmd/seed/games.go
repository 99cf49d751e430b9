package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iamramtin/zero-sum/api"
	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
)

// Hardhat accounts #1 and #2, funded by the memory ledger in dev mode
const (
	defaultInitiator  = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	defaultChallenger = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

type seedOptions struct {
	api        string
	games      int
	join       int
	initiator  string
	challenger string
	entry      string
}

func gamesCmd() *cobra.Command {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "games",
		Short: "Create games through the API and join some of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return seedGames(cmd.Context(), &http.Client{Timeout: 10 * time.Second}, opts)
		},
	}
	cmd.Flags().StringVar(&opts.api, "api", "http://localhost:8080", "server base URL")
	cmd.Flags().IntVar(&opts.games, "games", 5, "number of games to create")
	cmd.Flags().IntVar(&opts.join, "join", 2, "number of created games to join")
	cmd.Flags().StringVar(&opts.initiator, "initiator", defaultInitiator, "initiator address")
	cmd.Flags().StringVar(&opts.challenger, "challenger", defaultChallenger, "challenger address")
	cmd.Flags().StringVar(&opts.entry, "entry", "10", "stake per player in USDC")
	return cmd
}

func seedGames(ctx context.Context, client *http.Client, opts seedOptions) error {
	initiator, err := game.ParseAddress(opts.initiator)
	if err != nil {
		return err
	}
	challenger, err := game.ParseAddress(opts.challenger)
	if err != nil {
		return err
	}
	stake, err := decimal.NewFromString(opts.entry)
	if err != nil {
		return fmt.Errorf("invalid entry %q: %w", opts.entry, err)
	}
	entry, err := config.USDCToBaseUnits(stake)
	if err != nil {
		return err
	}
	base := strings.TrimRight(opts.api, "/")

	created := make([]*game.GameState, 0, opts.games)
	for i := 0; i < opts.games; i++ {
		prediction := game.Increase
		if i%2 == 1 {
			prediction = game.Decrease
		}
		var resp api.GameResponse
		err := post(ctx, client, base+"/api/games", api.CreateGameRequest{
			Initiator:   initiator.Hex(),
			Prediction:  prediction.String(),
			EntryAmount: entry,
		}, &resp)
		if err != nil {
			return fmt.Errorf("create game %d: %w", i+1, err)
		}
		created = append(created, resp.Game)
		log.Info().
			Uint64("gameId", resp.Game.GameID).
			Str("prediction", prediction.String()).
			Str("price", resp.Game.InitialPrice.String()).
			Msg("🎲 Created game")
	}

	for i := 0; i < opts.join && i < len(created); i++ {
		g := created[i]
		url := fmt.Sprintf("%s/api/games/%s/%d/%s", base, initiator.Hex(), g.GameID, game.ActionJoin)
		var resp api.GameResponse
		if err := post(ctx, client, url, api.GameActionRequest{Player: challenger.Hex()}, &resp); err != nil {
			return fmt.Errorf("join game %d: %w", g.GameID, err)
		}
		log.Info().
			Uint64("gameId", g.GameID).
			Str("challenger", challenger.Hex()).
			Str("prediction", resp.Game.ChallengerPrediction().String()).
			Msg("🤝 Joined game")
	}

	log.Info().Int("created", len(created)).Int("joined", min(opts.join, len(created))).Msg("✅ Seeding done")
	return nil
}

func post(ctx context.Context, client *http.Client, url string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
