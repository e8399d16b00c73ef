package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Submitter accepts updates for asynchronous handling.
type Submitter interface {
	Submit(u tgbotapi.Update) bool
}

const maxUpdateBytes = 1 << 20

var allowedUpdates = `["message"]`

// WebhookHandler acknowledges each update as soon as it is queued, so
// Telegram never waits on Drive or Sheets calls.
func WebhookHandler(s Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u tgbotapi.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBytes)).Decode(&u); err != nil {
			slog.Warn("invalid telegram update", "error", err)
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		if !s.Submit(u) {
			slog.Debug("telegram update ignored", "update_id", u.UpdateID)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// RegisterWebhook points Telegram at url. A non-empty secret is echoed
// back by Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func RegisterWebhook(api API, url, secret string) error {
	params := tgbotapi.Params{
		"url":             url,
		"allowed_updates": allowedUpdates,
	}
	params.AddNonEmpty("secret_token", secret)
	if _, err := api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	slog.Info("telegram webhook registered", "url", url)
	return nil
}

// DeleteWebhook removes any registered webhook so long polling can run.
func DeleteWebhook(api API) error {
	if _, err := api.MakeRequest("deleteWebhook", tgbotapi.Params{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// Poll receives updates with long polling until ctx is done.
func Poll(ctx context.Context, api API, s Submitter, timeoutSeconds int) error {
	if err := DeleteWebhook(api); err != nil {
		return err
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = timeoutSeconds
	cfg.AllowedUpdates = []string{"message"}
	updates := api.GetUpdatesChan(cfg)
	slog.Info("telegram long polling started", "timeout", timeoutSeconds)

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			slog.Info("telegram long polling stopped", "reason", ctx.Err())
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			s.Submit(u)
		}
	}
}
