// api/leaderboard.go
package api

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
	"github.com/iamramtin/zero-sum/state"
)

/* =========================
   RESPONSE TYPES
========================= */

// LeaderboardEntryResponse represents a single leaderboard entry
type LeaderboardEntryResponse struct {
	Rank          int             `json:"rank"`
	WalletAddress string          `json:"walletAddress"`
	Pnl           int64           `json:"pnl"`
	PnlUSDC       decimal.Decimal `json:"pnlUsdc"`
}

// LeaderboardResponse represents the leaderboard API response
type LeaderboardResponse struct {
	Success      bool                       `json:"success"`
	Leaderboard  []LeaderboardEntryResponse `json:"leaderboard"`
	UserPosition *LeaderboardEntryResponse  `json:"userPosition,omitempty"`
}

func leaderboardEntry(p state.PnL) LeaderboardEntryResponse {
	return LeaderboardEntryResponse{
		Rank:          p.Rank,
		WalletAddress: p.Wallet.Hex(),
		Pnl:           p.Amount,
		PnlUSDC:       decimal.New(p.Amount, -config.USDCDecimals),
	}
}

/* =========================
   HTTP ENDPOINTS
========================= */

// HandleGetLeaderboard handles GET /api/leaderboard
// Query params: wallet (optional) - get user's position
func (h *Handler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.market.Leaderboard(ctx, config.LeaderboardLimit)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to get leaderboard")
		sendError(w, http.StatusInternalServerError, "Failed to retrieve leaderboard")
		return
	}

	response := LeaderboardResponse{
		Success:     true,
		Leaderboard: make([]LeaderboardEntryResponse, 0, len(records)),
	}
	for _, record := range records {
		response.Leaderboard = append(response.Leaderboard, leaderboardEntry(record))
	}

	// Check for user wallet query param
	if walletParam := r.URL.Query().Get("wallet"); walletParam != "" {
		wallet, err := game.ParseAddress(walletParam)
		if err != nil {
			sendDomainError(w, err)
			return
		}

		userInTop := false
		for _, record := range records {
			if record.Wallet == wallet {
				userInTop = true
				break
			}
		}

		// If not in the top list, fetch their position
		if !userInTop {
			userRecord, err := h.market.WalletPnL(ctx, wallet)
			if err != nil {
				log.Warn().Err(err).Str("wallet", wallet.Hex()).Msg("⚠️ Failed to get user rank")
			} else if userRecord != nil {
				entry := leaderboardEntry(*userRecord)
				response.UserPosition = &entry
			}
		}
	}

	sendJSON(w, http.StatusOK, response)
	log.Debug().Int("entries", len(records)).Msg("📋 Retrieved leaderboard")
}
