package telegram

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashureev/laporan-bot/internal/domain"
	"github.com/ashureev/laporan-bot/internal/engine"
)

// inbound is a message the engine can handle plus the chat to answer in.
type inbound struct {
	raw    engine.RawEvent
	chatID int64
}

// toInbound extracts the engine event from u. Updates without a usable
// message (edits, stickers, channel posts) are skipped.
func toInbound(u tgbotapi.Update) (inbound, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return inbound{}, false
	}
	in := inbound{
		chatID: m.Chat.ID,
		raw:    engine.RawEvent{UserID: strconv.FormatInt(m.From.ID, 10)},
	}

	switch {
	case len(m.Photo) > 0:
		best := largestPhoto(m.Photo)
		in.raw.Kind = engine.RawPhoto
		in.raw.Text = m.Caption
		in.raw.Photo = &domain.PhotoRef{Source: Source, FileID: best.FileID}
	case m.Document != nil && strings.HasPrefix(m.Document.MimeType, "image/"):
		// Images sent as files keep their original resolution.
		in.raw.Kind = engine.RawPhoto
		in.raw.Text = m.Caption
		in.raw.Photo = &domain.PhotoRef{Source: Source, FileID: m.Document.FileID}
	case m.IsCommand():
		in.raw.Kind = engine.RawCommand
		in.raw.Text = m.Text
	case m.Text != "":
		in.raw.Kind = engine.RawText
		in.raw.Text = m.Text
	default:
		return inbound{}, false
	}
	return in, true
}

// largestPhoto picks the highest resolution rendition Telegram offers.
func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height ||
			(s.Width*s.Height == best.Width*best.Height && s.FileSize > best.FileSize) {
			best = s
		}
	}
	return best
}
