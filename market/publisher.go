package market

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/iamramtin/zero-sum/game"
)

// Publisher receives every committed event
type Publisher interface {
	Publish(ctx context.Context, ev game.Event) error
}

// MultiPublisher delivers to every publisher even when some fail
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev game.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, ev game.Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev game.Event) error {
	return f(ctx, ev)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, game.Event) error { return nil }

func publishCommitted(ctx context.Context, p Publisher, ev game.Event) {
	if err := p.Publish(ctx, ev); err != nil {
		log.Warn().
			Err(err).
			Str("event", ev.Name()).
			Str("game", ev.GameKey().String()).
			Msg("⚠️ Failed to publish event")
	}
}
