package api

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iamramtin/zero-sum/game"
	"github.com/iamramtin/zero-sum/market"
	"github.com/iamramtin/zero-sum/state"
)

// Market is the part of the market service the HTTP layer drives
type Market interface {
	CreateGame(ctx context.Context, req market.CreateRequest) (*game.GameState, error)
	JoinGame(ctx context.Context, key game.Key, initiator, challenger common.Address) (*game.GameState, error)
	CloseGame(ctx context.Context, key game.Key, initiator, caller common.Address) (*game.GameState, error)
	DrawGame(ctx context.Context, key game.Key, initiator, caller common.Address) (*game.GameState, error)
	CancelGame(ctx context.Context, key game.Key, caller common.Address) (*game.GameState, error)

	GetGame(ctx context.Context, key game.Key) (*game.GameState, error)
	ListGames(ctx context.Context, f state.Filter) ([]*game.GameState, error)
	OpenGames(ctx context.Context, limit int) ([]*game.GameState, error)
	Stats(ctx context.Context) (state.Stats, error)
	Events(ctx context.Context, key game.Key) ([]state.EventRecord, error)
	Leaderboard(ctx context.Context, limit int) ([]state.PnL, error)
	WalletPnL(ctx context.Context, wallet common.Address) (*state.PnL, error)
	CurrentPrice(ctx context.Context) (game.PriceFetched, error)
}

// Handler serves the game REST API
type Handler struct {
	market Market
}

func NewHandler(m Market) *Handler {
	return &Handler{market: m}
}

// Register mounts every route on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games", h.HandleCreateGame)
	mux.HandleFunc("GET /api/games", h.HandleListGames)
	mux.HandleFunc("GET /api/games/open", h.HandleOpenGames)
	mux.HandleFunc("GET /api/games/{initiator}/{gameId}", h.HandleGetGame)
	mux.HandleFunc("GET /api/games/{initiator}/{gameId}/events", h.HandleGameEvents)
	mux.HandleFunc("POST /api/games/{initiator}/{gameId}/{action}", h.HandleGameAction)
	mux.HandleFunc("GET /api/stats", h.HandleStats)
	mux.HandleFunc("GET /api/price", h.HandlePrice)
	mux.HandleFunc("GET /api/leaderboard", h.HandleGetLeaderboard)
}

/* =========================
   REQUEST / RESPONSE TYPES
========================= */

// CreateGameRequest is the body of POST /api/games
type CreateGameRequest struct {
	Initiator   string  `json:"initiator"`
	GameID      *uint64 `json:"gameId,omitempty"`
	Prediction  string  `json:"prediction"`
	EntryAmount uint64  `json:"entryAmount,omitempty"`
}

// GameActionRequest is the body of POST /api/games/{initiator}/{gameId}/{action}.
// Initiator defaults to the one in the path.
type GameActionRequest struct {
	Player    string `json:"player"`
	Initiator string `json:"initiator,omitempty"`
}

// GameResponse wraps a single game
type GameResponse struct {
	Success bool            `json:"success"`
	Game    *game.GameState `json:"game"`
}

// GamesResponse wraps a game listing
type GamesResponse struct {
	Success bool              `json:"success"`
	Games   []*game.GameState `json:"games"`
	Count   int               `json:"count"`
}

type EventsResponse struct {
	Success bool                `json:"success"`
	Events  []state.EventRecord `json:"events"`
}

type StatsResponse struct {
	Success bool        `json:"success"`
	Stats   state.Stats `json:"stats"`
}

type PriceResponse struct {
	Success bool              `json:"success"`
	Price   game.PriceFetched `json:"price"`
}

/* =========================
   HTTP ENDPOINTS
========================= */

// HandleCreateGame handles POST /api/games
func (h *Handler) HandleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if !decodeBody(w, r, &req) {
		return
	}

	initiator, err := game.ParseAddress(req.Initiator)
	if err != nil {
		sendDomainError(w, err)
		return
	}
	prediction, err := game.ParsePrediction(req.Prediction)
	if err != nil {
		sendDomainError(w, err)
		return
	}

	g, err := h.market.CreateGame(r.Context(), market.CreateRequest{
		Initiator:   initiator,
		GameID:      req.GameID,
		Prediction:  prediction,
		EntryAmount: req.EntryAmount,
	})
	if err != nil {
		sendDomainError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, GameResponse{Success: true, Game: g})
}

// HandleGameAction handles POST /api/games/{initiator}/{gameId}/{action}
// where action is one of join, close, draw or cancel
func (h *Handler) HandleGameAction(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}

	var req GameActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	player, err := game.ParseAddress(req.Player)
	if err != nil {
		sendDomainError(w, err)
		return
	}
	initiator := key.Initiator
	if req.Initiator != "" {
		if initiator, err = game.ParseAddress(req.Initiator); err != nil {
			sendDomainError(w, err)
			return
		}
	}

	ctx := r.Context()
	var g *game.GameState
	switch game.Action(r.PathValue("action")) {
	case game.ActionJoin:
		g, err = h.market.JoinGame(ctx, key, initiator, player)
	case game.ActionClose:
		g, err = h.market.CloseGame(ctx, key, initiator, player)
	case game.ActionDraw:
		g, err = h.market.DrawGame(ctx, key, initiator, player)
	case game.ActionCancel:
		g, err = h.market.CancelGame(ctx, key, player)
	default:
		sendError(w, http.StatusNotFound, "Unknown action")
		return
	}
	if err != nil {
		sendDomainError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, GameResponse{Success: true, Game: g})
}

// HandleGetGame handles GET /api/games/{initiator}/{gameId}
func (h *Handler) HandleGetGame(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	g, err := h.market.GetGame(r.Context(), key)
	if err != nil {
		sendDomainError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, GameResponse{Success: true, Game: g})
}

// HandleGameEvents handles GET /api/games/{initiator}/{gameId}/events
func (h *Handler) HandleGameEvents(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	events, err := h.market.Events(r.Context(), key)
	if err != nil {
		sendDomainError(w, err)
		return
	}
	if events == nil {
		events = []state.EventRecord{}
	}
	sendJSON(w, http.StatusOK, EventsResponse{Success: true, Events: events})
}

// HandleListGames handles GET /api/games
// Query params: status, player, limit (all optional)
func (h *Handler) HandleListGames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := state.Filter{Status: q.Get("status")}

	if f.Status != "" {
		if !slices.Contains(game.StatusNames, f.Status) {
			sendError(w, http.StatusBadRequest, "Invalid status")
			return
		}
	}
	if p := q.Get("player"); p != "" {
		player, err := game.ParseAddress(p)
		if err != nil {
			sendDomainError(w, err)
			return
		}
		f.Player = &player
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	f.Limit = limit

	games, err := h.market.ListGames(r.Context(), f)
	if err != nil {
		sendDomainError(w, err)
		return
	}
	sendGames(w, games)
}

// HandleOpenGames handles GET /api/games/open
func (h *Handler) HandleOpenGames(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	games, err := h.market.OpenGames(r.Context(), limit)
	if err != nil {
		sendDomainError(w, err)
		return
	}
	sendGames(w, games)
}

// HandleStats handles GET /api/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.market.Stats(r.Context())
	if err != nil {
		sendDomainError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, StatsResponse{Success: true, Stats: stats})
}

// HandlePrice handles GET /api/price
func (h *Handler) HandlePrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.market.CurrentPrice(r.Context())
	if err != nil {
		sendDomainError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, PriceResponse{Success: true, Price: price})
}

/* =========================
   HELPERS
========================= */

func pathKey(w http.ResponseWriter, r *http.Request) (game.Key, bool) {
	initiator, err := game.ParseAddress(r.PathValue("initiator"))
	if err != nil {
		sendDomainError(w, err)
		return game.Key{}, false
	}
	gameID, err := strconv.ParseUint(r.PathValue("gameId"), 10, 64)
	if err != nil {
		sendError(w, http.StatusBadRequest, "Invalid game id")
		return game.Key{}, false
	}
	return game.Key{Initiator: initiator, GameID: gameID}, true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		sendError(w, http.StatusBadRequest, "Invalid limit")
		return 0, false
	}
	return limit, true
}

func sendGames(w http.ResponseWriter, games []*game.GameState) {
	if games == nil {
		games = []*game.GameState{}
	}
	sendJSON(w, http.StatusOK, GamesResponse{Success: true, Games: games, Count: len(games)})
}
