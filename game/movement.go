package game

import "github.com/shopspring/decimal"

// Direction is the sign of a price change
type Direction int8

const (
	Down Direction = -1
	Flat Direction = 0
	Up   Direction = 1
)

// changePrecision is the number of decimal places kept in a reported change fraction
const changePrecision = 18

var hundred = decimal.NewFromInt(100)

// Movement classifies the change from an initial to a candidate price
type Movement struct {
	Exceeded  bool
	Direction Direction
	Change    decimal.Decimal // fraction, 0.05 is 5%
}

// Percent is the change expressed in percent
func (m Movement) Percent() decimal.Decimal {
	return m.Change.Mul(hundred)
}

// EvaluateMovement compares |candidate - initial| against |threshold| * initial.
// Both prices must be strictly positive. The comparison is exact; only the
// reported Change fraction is rounded.
func EvaluateMovement(initial, candidate, threshold decimal.Decimal) (Movement, error) {
	if !initial.IsPositive() {
		return Movement{}, Errorf(ErrInvalidPriceValue, "initial price %s", initial)
	}
	if !candidate.IsPositive() {
		return Movement{}, Errorf(ErrInvalidPriceValue, "candidate price %s", candidate)
	}

	diff := candidate.Sub(initial)
	bound := threshold.Abs().Mul(initial)

	return Movement{
		Exceeded:  diff.Abs().GreaterThanOrEqual(bound),
		Direction: Direction(diff.Sign()),
		Change:    diff.DivRound(initial, changePrecision),
	}, nil
}
