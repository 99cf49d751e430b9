package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/iamramtin/zero-sum/crypto"
)

/* =========================
   PREDICTION
========================= */

type Prediction uint8

const (
	Increase Prediction = iota
	Decrease
)

func (p Prediction) Valid() bool {
	return p == Increase || p == Decrease
}

// Opposite is the prediction held by the other side of a game
func (p Prediction) Opposite() Prediction {
	if p == Increase {
		return Decrease
	}
	return Increase
}

func (p Prediction) String() string {
	switch p {
	case Increase:
		return "Increase"
	case Decrease:
		return "Decrease"
	}
	return fmt.Sprintf("Prediction(%d)", uint8(p))
}

func (p Prediction) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, ErrInvalidPrediction
	}
	return []byte(p.String()), nil
}

func (p *Prediction) UnmarshalText(b []byte) error {
	parsed, err := ParsePrediction(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePrediction accepts Increase/Decrease case-insensitively, plus up/down
func ParsePrediction(s string) (Prediction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "increase", "up":
		return Increase, nil
	case "decrease", "down":
		return Decrease, nil
	}
	return 0, Errorf(ErrInvalidPrediction, "%q", s)
}

/* =========================
   KEY
========================= */

// ParseAddress accepts a 0x-prefixed hex address and rejects the zero address
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, Errorf(ErrInvalidIdentity, "%q is not an address", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, Errorf(ErrInvalidIdentity, "zero address")
	}
	return addr, nil
}

// Key identifies a game: one initiator never reuses a game id
type Key struct {
	Initiator common.Address
	GameID    uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Initiator.Hex(), k.GameID)
}

// Escrow is the account holding the stakes of the game
func (k Key) Escrow() common.Address {
	return crypto.EscrowAddress(k.Initiator, k.GameID)
}

// Address is the derived address of the game record itself
func (k Key) Address() common.Address {
	return crypto.GameAddress(k.Initiator, k.GameID)
}

/* =========================
   GAME STATE
========================= */

// GameState is one two-party game. Optional fields are nil until the transition that sets them.
type GameState struct {
	GameID              uint64
	Initiator           common.Address
	Challenger          *common.Address
	InitiatorPrediction Prediction
	EntryAmount         uint64
	InitialPrice        decimal.Decimal
	FinalPrice          *decimal.Decimal
	CreatedAt           time.Time
	StartedAt           *time.Time
	ClosedAt            *time.Time
	Status              Status
}

func (g *GameState) Key() Key {
	return Key{Initiator: g.Initiator, GameID: g.GameID}
}

func (g *GameState) Escrow() common.Address {
	return g.Key().Escrow()
}

// ChallengerPrediction is always the complement of the initiator's prediction
func (g *GameState) ChallengerPrediction() Prediction {
	return g.InitiatorPrediction.Opposite()
}

// WinningPrediction is set only for completed games
func (g *GameState) WinningPrediction() (Prediction, bool) {
	if c, ok := g.Status.(Complete); ok {
		return c.Winning, true
	}
	return 0, false
}

// Winner is the participant holding the winning prediction of a completed game
func (g *GameState) Winner() (common.Address, bool) {
	winning, ok := g.WinningPrediction()
	if !ok || g.Challenger == nil {
		return common.Address{}, false
	}
	if winning == g.InitiatorPrediction {
		return g.Initiator, true
	}
	return *g.Challenger, true
}

func (g *GameState) IsInitiator(addr common.Address) bool {
	return addr == g.Initiator
}

func (g *GameState) IsChallenger(addr common.Address) bool {
	return g.Challenger != nil && *g.Challenger == addr
}

func (g *GameState) IsParticipant(addr common.Address) bool {
	return g.IsInitiator(addr) || g.IsChallenger(addr)
}

func (g *GameState) IsEnded() bool {
	return g.ClosedAt != nil
}

// IsActive reports a joined game that has not been closed
func (g *GameState) IsActive() bool {
	return g.Challenger != nil && g.ClosedAt == nil
}

func (g *GameState) Joinable() bool {
	return g.Challenger == nil
}

func (g *GameState) IsCorrectGameID(gameID uint64) bool {
	return gameID == g.GameID
}

// IsTimedOut reports whether an active game ran past started_at + timeout.
// The deadline is computed in whole seconds with an overflow check.
func (g *GameState) IsTimedOut(now time.Time, timeout time.Duration) (bool, error) {
	if !g.IsActive() || g.StartedAt == nil {
		return false, nil
	}
	start := g.StartedAt.Unix()
	secs := int64(timeout / time.Second)
	if secs < 0 || start > 0 && secs > maxInt64-start {
		return false, Errorf(ErrOverflow, "timeout deadline %d + %d", start, secs)
	}
	return now.Unix() > start+secs, nil
}

// EscrowBalance is what the escrow must hold for the current status
func (g *GameState) EscrowBalance() uint64 {
	switch g.Status.(type) {
	case Pending:
		return g.EntryAmount
	case Active:
		return 2 * g.EntryAmount
	}
	return 0
}

// AvailableActions lists the transitions a participant may attempt
func (g *GameState) AvailableActions() []Action {
	switch g.Status.(type) {
	case Pending:
		return []Action{ActionJoin, ActionCancel}
	case Active:
		return []Action{ActionClose, ActionDraw}
	}
	return []Action{}
}

// Clone returns a deep copy
func (g *GameState) Clone() *GameState {
	c := *g
	if g.Challenger != nil {
		challenger := *g.Challenger
		c.Challenger = &challenger
	}
	if g.FinalPrice != nil {
		final := *g.FinalPrice
		c.FinalPrice = &final
	}
	if g.StartedAt != nil {
		started := *g.StartedAt
		c.StartedAt = &started
	}
	if g.ClosedAt != nil {
		closed := *g.ClosedAt
		c.ClosedAt = &closed
	}
	return &c
}

type Action string

const (
	ActionJoin   Action = "join"
	ActionCancel Action = "cancel"
	ActionClose  Action = "close"
	ActionDraw   Action = "draw"
)

const maxInt64 = int64(^uint64(0) >> 1)
