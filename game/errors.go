package game

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how a caller should react to them
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindOracle
	KindArithmetic
	KindAuthorization
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindOracle:
		return "oracle"
	case KindArithmetic:
		return "arithmetic"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	}
	return "unknown"
}

// Error is a rejected transition. Two errors match under errors.Is when their codes match.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether re-invoking the same call later can succeed
func (e *Error) Retryable() bool {
	return e.Kind == KindOracle || e.Kind == KindConflict
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

/* =========================
   VALIDATION
========================= */

var (
	ErrIncorrectGameID          = newError(KindValidation, "IncorrectGameId", "game id does not match")
	ErrIncorrectInitiator       = newError(KindValidation, "IncorrectInitiator", "initiator does not match")
	ErrGameNotActive            = newError(KindValidation, "GameNotActive", "game is not active")
	ErrGameAlreadyEnded         = newError(KindValidation, "GameAlreadyEnded", "game has already ended")
	ErrGameAlreadyFull          = newError(KindValidation, "GameAlreadyFull", "game already has a challenger")
	ErrWithdrawalBlocked        = newError(KindValidation, "WithdrawalBlocked", "cannot withdraw after a challenger joined")
	ErrCannotJoinOwnGame        = newError(KindValidation, "CannotJoinOwnGame", "initiator cannot join their own game")
	ErrExcessivePriceVolatility = newError(KindValidation, "ExcessivePriceVolatility", "price moved too much since creation to join")
	ErrThresholdNotReached      = newError(KindValidation, "ThresholdNotReached", "price movement has not reached the win threshold")
	ErrTimeoutNotReached        = newError(KindValidation, "TimeoutNotReached", "game has not timed out yet")
	ErrInvalidPrediction        = newError(KindValidation, "InvalidPrediction", "prediction must be Increase or Decrease")
	ErrInvalidEntryAmount       = newError(KindValidation, "InvalidEntryAmount", "entry amount is out of range")
	ErrInvalidIdentity          = newError(KindValidation, "InvalidIdentity", "identity must be a non-zero address")
	ErrInsufficientFunds        = newError(KindValidation, "InsufficientFunds", "balance too low for transfer")
)

/* =========================
   ORACLE
========================= */

var (
	ErrStalePriceFeed    = newError(KindOracle, "StalePriceFeed", "price feed reading is stale or does not match the feed")
	ErrInvalidPriceFeed  = newError(KindOracle, "InvalidPriceFeed", "price feed is unavailable")
	ErrInvalidPriceValue = newError(KindOracle, "InvalidPriceValue", "price must be strictly positive")
)

/* =========================
   ARITHMETIC
========================= */

var (
	ErrOverflow        = newError(KindArithmetic, "Overflow", "arithmetic overflow")
	ErrInvalidExponent = newError(KindArithmetic, "InvalidExponent", "price exponent out of range")
)

/* =========================
   AUTHORIZATION
========================= */

var (
	ErrNotAuthorized = newError(KindAuthorization, "NotAuthorized", "caller is not a participant")
	ErrNotTheWinner  = newError(KindAuthorization, "NotTheWinner", "caller is not the winner")
	ErrNotInitiator  = newError(KindAuthorization, "NotInitiator", "caller is not the initiator")
)

/* =========================
   STORAGE
========================= */

var (
	ErrGameNotFound    = newError(KindNotFound, "GameNotFound", "game does not exist")
	ErrGameExists      = newError(KindConflict, "GameExists", "game id already used by this initiator")
	ErrVersionConflict = newError(KindConflict, "VersionConflict", "game was modified concurrently")
)

// AsError extracts the game error behind err, if any
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Errorf wraps a sentinel with call-specific detail while keeping errors.Is matching
func Errorf(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
