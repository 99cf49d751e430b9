package game

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

/* =========================
   OUTCOMES
========================= */

// Outcome is how a game left the board: won, drawn or cancelled
type Outcome interface {
	isOutcome()
}

type WinOutcome struct {
	Winner                  common.Address  `json:"winner"`
	WinningPrediction       Prediction      `json:"winningPrediction"`
	PriceMovementPercentage decimal.Decimal `json:"priceMovementPercentage"`
	FinalPrice              decimal.Decimal `json:"finalPrice"`
	TotalPayout             uint64          `json:"totalPayout"`
}

type DrawOutcome struct{}

type CancelOutcome struct{}

func (WinOutcome) isOutcome()    {}
func (DrawOutcome) isOutcome()   {}
func (CancelOutcome) isOutcome() {}

/* =========================
   EVENTS
========================= */

const (
	EventPriceFetched = "PriceFetched"
	EventGameCreated  = "GameCreated"
	EventGameJoined   = "GameJoined"
	EventGameClosed   = "GameClosed"
)

// Event is the record emitted by one committed transition
type Event interface {
	Name() string
	GameKey() Key
	Time() int64
}

type GameCreated struct {
	GameID       uint64          `json:"gameId"`
	Status       string          `json:"status"`
	Initiator    common.Address  `json:"initiator"`
	Prediction   Prediction      `json:"prediction"`
	InitialPrice decimal.Decimal `json:"initialPrice"`
	EntryAmount  uint64          `json:"entryAmount"`
	Timestamp    int64           `json:"timestamp"`
}

type GameJoined struct {
	GameID               uint64         `json:"gameId"`
	Status               string         `json:"status"`
	Initiator            common.Address `json:"initiator"`
	Challenger           common.Address `json:"challenger"`
	ChallengerPrediction Prediction     `json:"challengerPrediction"`
	Timestamp            int64          `json:"timestamp"`
}

// GameClosed covers every terminal transition. Only a win carries details.
type GameClosed struct {
	GameID    uint64
	Status    string
	Initiator common.Address
	Outcome   Outcome
	Timestamp int64
}

func (e GameCreated) Name() string { return EventGameCreated }
func (e GameJoined) Name() string  { return EventGameJoined }
func (e GameClosed) Name() string  { return EventGameClosed }

func (e GameCreated) GameKey() Key { return Key{Initiator: e.Initiator, GameID: e.GameID} }
func (e GameJoined) GameKey() Key  { return Key{Initiator: e.Initiator, GameID: e.GameID} }
func (e GameClosed) GameKey() Key  { return Key{Initiator: e.Initiator, GameID: e.GameID} }

func (e GameCreated) Time() int64 { return e.Timestamp }
func (e GameJoined) Time() int64  { return e.Timestamp }
func (e GameClosed) Time() int64  { return e.Timestamp }

// Details returns the win details, or nil for a draw or a cancellation
func (e GameClosed) Details() *WinOutcome {
	if win, ok := e.Outcome.(WinOutcome); ok {
		return &win
	}
	return nil
}

func (e GameClosed) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		GameID    uint64         `json:"gameId"`
		Status    string         `json:"status"`
		Initiator common.Address `json:"initiator"`
		Details   *WinOutcome    `json:"details"`
		Timestamp int64          `json:"timestamp"`
	}{e.GameID, e.Status, e.Initiator, e.Details(), e.Timestamp})
}

// PriceFetched records a read-only price query
type PriceFetched struct {
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   int64           `json:"timestamp"`
}

// Envelope is the transport shape of an event
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewEnvelope(e Event) Envelope {
	return Envelope{Type: e.Name(), Data: e}
}
