// Package notify posts game activity to a Telegram chat
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
)

const queueSize = 64

// Sender is the part of the bot API used here
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram publishes one line per committed event. Publish never blocks on
// the network: messages queue up and Run delivers them.
type Telegram struct {
	api    Sender
	chatID int64
	queue  chan string
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot connected")
	return NewTelegramWithSender(api, chatID), nil
}

func NewTelegramWithSender(api Sender, chatID int64) *Telegram {
	return &Telegram{api: api, chatID: chatID, queue: make(chan string, queueSize)}
}

func (t *Telegram) Publish(ctx context.Context, ev game.Event) error {
	text := Format(ev)
	select {
	case t.queue <- text:
		return nil
	default:
		return fmt.Errorf("telegram queue full, dropped %s", ev.Name())
	}
}

// Run sends queued messages until ctx is done
func (t *Telegram) Run(ctx context.Context) {
	for {
		select {
		case text := <-t.queue:
			if err := t.send(text); err != nil {
				log.Warn().Err(err).Msg("⚠️ Failed to send Telegram message")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *Telegram) send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true
	_, err := t.api.Send(msg)
	return err
}

// Format renders an event as a single Markdown line
func Format(ev game.Event) string {
	switch e := ev.(type) {
	case game.GameCreated:
		return fmt.Sprintf("🎲 *Game #%d* opened by `%s`: %s from %s, stake %s USDC",
			e.GameID, short(e.Initiator.Hex()), e.Prediction, e.InitialPrice, usdc(e.EntryAmount))
	case game.GameJoined:
		return fmt.Sprintf("🤝 *Game #%d* of `%s` joined by `%s` betting %s",
			e.GameID, short(e.Initiator.Hex()), short(e.Challenger.Hex()), e.ChallengerPrediction)
	case game.GameClosed:
		if d := e.Details(); d != nil {
			return fmt.Sprintf("🏆 *Game #%d* of `%s` won by `%s` (%s, %s%% to %s), payout %s USDC",
				e.GameID, short(e.Initiator.Hex()), short(d.Winner.Hex()), d.WinningPrediction,
				d.PriceMovementPercentage.StringFixed(2), d.FinalPrice, usdc(d.TotalPayout))
		}
		return fmt.Sprintf("↩️ *Game #%d* of `%s` ended: %s", e.GameID, short(e.Initiator.Hex()), e.Status)
	}
	return fmt.Sprintf("%s on %s", ev.Name(), ev.GameKey())
}

func usdc(units uint64) string {
	return config.BaseUnitsToUSDC(units).String()
}

// short keeps the head and tail of an address
func short(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return strings.ToLower(addr[:6] + "…" + addr[len(addr)-4:])
}
