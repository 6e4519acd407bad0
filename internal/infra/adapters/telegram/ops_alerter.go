package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"drivepass-billing/internal/config"
	"drivepass-billing/internal/domain/ports/adapter"
)

var _ adapter.OpsAlerter = (*BotAlerter)(nil)

const maxMessageLen = 4096

// sender is the part of tgbotapi.BotAPI the alerter uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotAlerter posts operator alerts to a Telegram chat.
type BotAlerter struct {
	bot    sender
	chatID int64
	env    string
	log    *zerolog.Logger
}

func NewBotAlerter(cfg config.AlertConfig, env string, logger *zerolog.Logger) (*BotAlerter, error) {
	if cfg.TelegramToken == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram alerts need a token and a chat id")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newBotAlerter(bot, cfg.ChatID, env, logger), nil
}

func newBotAlerter(bot sender, chatID int64, env string, logger *zerolog.Logger) *BotAlerter {
	l := logger.With().Str("component", "BotAlerter").Logger()
	return &BotAlerter{bot: bot, chatID: chatID, env: env, log: &l}
}

func (a *BotAlerter) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body := fmt.Sprintf("[drivepass-billing/%s]\n%s", a.env, text)
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen]
	}
	msg := tgbotapi.NewMessage(a.chatID, body)
	msg.DisableWebPagePreview = true
	if _, err := a.bot.Send(msg); err != nil {
		a.log.Error().Err(err).Int64("chat_id", a.chatID).Msg("alert not delivered")
		return err
	}
	return nil
}

// LogAlerter writes alerts to the log when no chat is configured.
type LogAlerter struct {
	log *zerolog.Logger
}

var _ adapter.OpsAlerter = (*LogAlerter)(nil)

func NewLogAlerter(logger *zerolog.Logger) *LogAlerter {
	l := logger.With().Str("component", "LogAlerter").Logger()
	return &LogAlerter{log: &l}
}

func (a *LogAlerter) Alert(ctx context.Context, text string) error {
	a.log.Error().Str("alert", text).Msg("ops alert")
	return nil
}
