package game

import (
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
)

// Settlement is who takes the escrow of a completed game
type Settlement struct {
	Winner            common.Address
	Loser             common.Address
	WinningPrediction Prediction
	TotalPayout       uint64
}

// TotalPayout is both stakes together
func TotalPayout(entryAmount uint64) (uint64, error) {
	hi, lo := bits.Mul64(entryAmount, 2)
	if hi != 0 {
		return 0, Errorf(ErrOverflow, "payout of entry %d", entryAmount)
	}
	return lo, nil
}

// Settle decides the winner from a confirmed, non-flat movement
func Settle(initiatorPrediction Prediction, direction Direction, initiator common.Address, challenger *common.Address, entryAmount uint64) (Settlement, error) {
	if challenger == nil {
		return Settlement{}, ErrGameNotActive
	}
	if !initiatorPrediction.Valid() {
		return Settlement{}, ErrInvalidPrediction
	}
	if direction == Flat {
		return Settlement{}, Errorf(ErrThresholdNotReached, "no price movement")
	}

	payout, err := TotalPayout(entryAmount)
	if err != nil {
		return Settlement{}, err
	}

	winning := Decrease
	if direction == Up {
		winning = Increase
	}

	s := Settlement{
		Winner:            *challenger,
		Loser:             initiator,
		WinningPrediction: winning,
		TotalPayout:       payout,
	}
	if initiatorPrediction == winning {
		s.Winner, s.Loser = initiator, *challenger
	}
	return s, nil
}
