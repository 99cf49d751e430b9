package ledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/iamramtin/zero-sum/game"
)

// Ledger moves value between participants and game escrows
type Ledger interface {
	Transfer(ctx context.Context, t game.Transfer, asset string) error
}

// Journal applies a receipt's transfers in order and remembers them so a later
// failure can be compensated.
type Journal struct {
	ledger  Ledger
	asset   string
	applied []game.Transfer
}

func NewJournal(l Ledger, asset string) *Journal {
	return &Journal{ledger: l, asset: asset}
}

// Apply runs the transfers in order. When one fails the ones already applied are
// reversed before the error is returned.
func (j *Journal) Apply(ctx context.Context, transfers []game.Transfer) error {
	for i, t := range transfers {
		if err := j.ledger.Transfer(ctx, t, j.asset); err != nil {
			if rbErr := j.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("transfer %d (%s %d) failed: %w; rollback: %v", i, t.Kind, t.Amount, err, rbErr)
			}
			return fmt.Errorf("transfer %d (%s %d) failed: %w", i, t.Kind, t.Amount, err)
		}
		j.applied = append(j.applied, t)
	}
	return nil
}

// Rollback reverses every applied transfer, newest first
func (j *Journal) Rollback(ctx context.Context) error {
	var firstErr error
	for i := len(j.applied) - 1; i >= 0; i-- {
		t := j.applied[i]
		if err := j.ledger.Transfer(ctx, t.Reverse(), j.asset); err != nil {
			log.Error().
				Err(err).
				Str("kind", t.Kind.String()).
				Str("from", t.From.Hex()).
				Str("to", t.To.Hex()).
				Uint64("amount", t.Amount).
				Msg("❌ Compensating transfer failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	j.applied = nil
	return firstErr
}

// Applied returns the transfers that went through
func (j *Journal) Applied() []game.Transfer {
	out := make([]game.Transfer, len(j.applied))
	copy(out, j.applied)
	return out
}
