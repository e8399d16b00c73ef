// Package telegram connects the report engine to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/ashureev/laporan-bot/internal/engine"
)

// Source tags photo references that must be fetched through this package.
const Source = "telegram"

// ErrNotTelegramUser is returned when a user id does not belong to Telegram.
var ErrNotTelegramUser = errors.New("not a telegram user")

// API is the part of the Bot API client this package uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewAPI connects to the Bot API and verifies the token with getMe.
func NewAPI(token string, client *http.Client) (*tgbotapi.BotAPI, error) {
	if client == nil {
		client = http.DefaultClient
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	return api, nil
}

// Bot sends engine replies back to Telegram chats.
type Bot struct {
	api     API
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Telegram allows roughly 30 messages per second per bot.
const (
	defaultSendRate  = 25
	defaultSendBurst = 5
)

// NewBot wraps api. A nil limiter uses the default outbound rate.
func NewBot(api API, limiter *rate.Limiter, logger *slog.Logger) *Bot {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(defaultSendRate), defaultSendBurst)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{api: api, limiter: limiter, logger: logger}
}

// Send renders reply into chatID.
func (b *Bot) Send(ctx context.Context, chatID int64, reply engine.Reply) error {
	if reply.Text == "" {
		return nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	msg.ReplyMarkup = markup(reply.Keyboard)
	msg.DisableWebPagePreview = true

	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// Notify sends an out-of-band message to a user, offering a fresh /start.
func (b *Bot) Notify(ctx context.Context, userID, text string) error {
	chatID, err := ChatID(userID)
	if err != nil {
		return err
	}
	return b.Send(ctx, chatID, engine.Reply{Text: text, Keyboard: engine.RestartKeyboard()})
}

// ChatID maps an engine user id back to the private chat it came from.
func ChatID(userID string) (int64, error) {
	if userID == "" || strings.Contains(userID, ":") {
		return 0, ErrNotTelegramUser
	}
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, ErrNotTelegramUser
	}
	return id, nil
}

func markup(rows [][]string) any {
	if len(rows) == 0 {
		return tgbotapi.NewRemoveKeyboard(false)
	}
	keyboard := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		keyboard = append(keyboard, tgbotapi.NewKeyboardButtonRow(buttons...))
	}
	return tgbotapi.NewReplyKeyboard(keyboard...)
}
