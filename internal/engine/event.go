package engine

import (
	"strings"

	"github.com/ashureev/laporan-bot/internal/domain"
)

// Literal tokens shown on reply keyboards.
const (
	TokenCancel       = "❌ Batalkan"
	TokenSubmit       = "✅ Kirim Laporan"
	TokenEdit         = "📝 Edit Data"
	TokenUploadPhotos = "📷 Upload Foto Eviden"
	TokenSingleMode   = "🔸 Upload Satu-Satu (Custom Nama)"
	TokenMultipleMode = "📷 Upload Banyak (Auto Nama)"
	TokenDoneUpload   = "✅ Selesai Upload"
	CommandStart      = "/start"
)

// RawKind is the transport-level shape of an inbound message.
type RawKind int

const (
	RawText RawKind = iota
	RawPhoto
	RawCommand
)

// RawEvent is an inbound message as a transport delivers it.
type RawEvent struct {
	UserID string
	Kind   RawKind
	Text   string
	Photo  *domain.PhotoRef
}

// Event is one parsed inbound message. The set of implementations is closed.
type Event interface {
	User() string
	Name() string
	isEvent()
}

type base struct {
	UserID string
	Raw    string
}

func (b base) User() string { return b.UserID }
func (base) isEvent()       {}

// Start begins a fresh report, discarding any conversation in progress.
type Start struct{ base }

// Cancel abandons the current step or conversation.
type Cancel struct{ base }

// TypeSelection picks a report category.
type TypeSelection struct {
	base
	Type domain.ReportType
}

// Choice is an option on the confirmation screen.
type Choice int

const (
	ChoiceSubmit Choice = iota
	ChoiceEdit
	ChoiceUploadPhotos
)

// ConfirmChoice picks an option on the confirmation screen.
type ConfirmChoice struct {
	base
	Choice Choice
}

// UploadCmd controls the photo upload sub-flow.
type UploadCmd int

const (
	UploadSingle UploadCmd = iota
	UploadMultiple
	UploadDone
)

// UploadCommand switches upload mode or leaves the sub-flow.
type UploadCommand struct {
	base
	Command UploadCmd
}

// PhotoAttachment carries a photo still held by the transport.
type PhotoAttachment struct {
	base
	Photo domain.PhotoRef
}

// Text is free text interpreted by the current state.
type Text struct{ base }

// Unknown is an unrecognised slash command.
type Unknown struct{ base }

func (Start) Name() string           { return "start" }
func (Cancel) Name() string          { return "cancel" }
func (TypeSelection) Name() string   { return "type_selection" }
func (ConfirmChoice) Name() string   { return "confirm_choice" }
func (UploadCommand) Name() string   { return "upload_command" }
func (PhotoAttachment) Name() string { return "photo" }
func (Text) Name() string            { return "text" }
func (Unknown) Name() string         { return "unknown" }

// Parse classifies raw into exactly one event.
func Parse(raw RawEvent) Event {
	b := base{UserID: raw.UserID, Raw: raw.Text}

	if raw.Kind == RawPhoto && raw.Photo != nil {
		return PhotoAttachment{base: b, Photo: *raw.Photo}
	}

	text := strings.TrimSpace(raw.Text)
	b.Raw = text

	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		cmd, _, _ = strings.Cut(cmd, "@")
		switch strings.ToLower(cmd) {
		case CommandStart:
			return Start{b}
		case "/batal", "/cancel":
			return Cancel{b}
		default:
			return Unknown{b}
		}
	}

	switch text {
	case TokenCancel:
		return Cancel{b}
	case TokenSubmit:
		return ConfirmChoice{base: b, Choice: ChoiceSubmit}
	case TokenEdit:
		return ConfirmChoice{base: b, Choice: ChoiceEdit}
	case TokenUploadPhotos:
		return ConfirmChoice{base: b, Choice: ChoiceUploadPhotos}
	case TokenSingleMode:
		return UploadCommand{base: b, Command: UploadSingle}
	case TokenMultipleMode:
		return UploadCommand{base: b, Command: UploadMultiple}
	case TokenDoneUpload:
		return UploadCommand{base: b, Command: UploadDone}
	}

	if t, ok := domain.ParseReportType(text); ok {
		return TypeSelection{base: b, Type: t}
	}
	return Text{b}
}

// textOf returns the literal text behind any text-bearing event.
func textOf(ev Event) (string, bool) {
	switch e := ev.(type) {
	case Text:
		return e.Raw, true
	case TypeSelection:
		return e.Raw, true
	case ConfirmChoice:
		return e.Raw, true
	case UploadCommand:
		return e.Raw, true
	default:
		return "", false
	}
}
