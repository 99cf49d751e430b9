package game

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// gameJSON is the wire shape of a game, used by the API and the cache.
// Derived fields are written but ignored when decoding.
type gameJSON struct {
	GameID               uint64           `json:"gameId"`
	Address              common.Address   `json:"address"`
	Escrow               common.Address   `json:"escrow"`
	Initiator            common.Address   `json:"initiator"`
	Challenger           *common.Address  `json:"challenger,omitempty"`
	InitiatorPrediction  Prediction       `json:"initiatorPrediction"`
	ChallengerPrediction Prediction       `json:"challengerPrediction"`
	EntryAmount          uint64           `json:"entryAmount"`
	InitialPrice         decimal.Decimal  `json:"initialPrice"`
	FinalPrice           *decimal.Decimal `json:"finalPrice,omitempty"`
	WinningPrediction    *Prediction      `json:"winningPrediction,omitempty"`
	CreatedAt            int64            `json:"createdAt"`
	StartedAt            *int64           `json:"startedAt,omitempty"`
	ClosedAt             *int64           `json:"closedAt,omitempty"`
	Status               string           `json:"status"`
	StatusLabel          string           `json:"statusLabel"`
	AvailableActions     []Action         `json:"availableActions"`
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.Unix()
	return &v
}

func timePtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

func (g *GameState) MarshalJSON() ([]byte, error) {
	if g.Status == nil {
		return nil, fmt.Errorf("game %s has no status", g.Key())
	}
	out := gameJSON{
		GameID:               g.GameID,
		Address:              g.Key().Address(),
		Escrow:               g.Escrow(),
		Initiator:            g.Initiator,
		Challenger:           g.Challenger,
		InitiatorPrediction:  g.InitiatorPrediction,
		ChallengerPrediction: g.ChallengerPrediction(),
		EntryAmount:          g.EntryAmount,
		InitialPrice:         g.InitialPrice,
		FinalPrice:           g.FinalPrice,
		CreatedAt:            g.CreatedAt.Unix(),
		StartedAt:            unixPtr(g.StartedAt),
		ClosedAt:             unixPtr(g.ClosedAt),
		Status:               g.Status.Name(),
		StatusLabel:          g.Status.Label(),
		AvailableActions:     g.AvailableActions(),
	}
	if winning, ok := g.WinningPrediction(); ok {
		out.WinningPrediction = &winning
	}
	return json.Marshal(out)
}

func (g *GameState) UnmarshalJSON(data []byte) error {
	var in gameJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	status, err := ParseStatus(in.Status, in.WinningPrediction)
	if err != nil {
		return err
	}
	*g = GameState{
		GameID:              in.GameID,
		Initiator:           in.Initiator,
		Challenger:          in.Challenger,
		InitiatorPrediction: in.InitiatorPrediction,
		EntryAmount:         in.EntryAmount,
		InitialPrice:        in.InitialPrice,
		FinalPrice:          in.FinalPrice,
		CreatedAt:           time.Unix(in.CreatedAt, 0).UTC(),
		StartedAt:           timePtr(in.StartedAt),
		ClosedAt:            timePtr(in.ClosedAt),
		Status:              status,
	}
	return nil
}
