// Package engine runs the report conversation: it interprets inbound events
// against the user's session and produces the reply to send back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/laporan-bot/internal/domain"
	"github.com/ashureev/laporan-bot/internal/metrics"
	"github.com/ashureev/laporan-bot/internal/report"
	"github.com/ashureev/laporan-bot/internal/store"
	"github.com/ashureev/laporan-bot/internal/upload"
)

// Folders manages per-report folders.
type Folders interface {
	CreateFolder(ctx context.Context, name, parent string) (string, error)
	Delete(ctx context.Context, id string) error
	FolderLink(id string) string
}

// Sheet receives submitted report rows.
type Sheet interface {
	AppendRow(ctx context.Context, row report.Row) error
}

// Uploader stores one photo in a report folder.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (upload.Result, error)
}

// PhotoFetcher downloads a transport-held photo to a local file.
// The engine removes the file once the upload finishes.
type PhotoFetcher interface {
	Fetch(ctx context.Context, ref domain.PhotoRef) (upload.Payload, error)
}

// Reply is what the transport renders back to the user.
type Reply struct {
	Text     string
	Keyboard [][]string
	State    domain.State
	Ended    bool
}

// Options configures an Engine.
type Options struct {
	ParentFolderID string
	CallTimeout    time.Duration
	Logger         *slog.Logger
	Recorder       metrics.Recorder
	Now            func() time.Time
}

// Engine is safe for concurrent use. Events for one user are handled one at a time.
type Engine struct {
	store    store.SessionStore
	folders  Folders
	sheet    Sheet
	uploader Uploader

	fetchersMu sync.RWMutex
	fetchers   map[string]PhotoFetcher

	locks    *keyedMutex
	parent   string
	timeout  time.Duration
	logger   *slog.Logger
	recorder metrics.Recorder
	now      func() time.Time
}

// errSessionVanished means a session disappeared while its user's lock was held.
var errSessionVanished = errors.New("session vanished during update")

// New creates an engine.
func New(st store.SessionStore, folders Folders, sheet Sheet, uploader Uploader, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Engine{
		store:    st,
		folders:  folders,
		sheet:    sheet,
		uploader: uploader,
		fetchers: make(map[string]PhotoFetcher),
		locks:    newKeyedMutex(),
		parent:   opts.ParentFolderID,
		timeout:  opts.CallTimeout,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		now:      opts.Now,
	}
}

// RegisterFetcher routes photos whose PhotoRef.Source equals source to f.
func (e *Engine) RegisterFetcher(source string, f PhotoFetcher) {
	e.fetchersMu.Lock()
	defer e.fetchersMu.Unlock()
	e.fetchers[source] = f
}

func (e *Engine) fetcher(source string) (PhotoFetcher, bool) {
	e.fetchersMu.RLock()
	defer e.fetchersMu.RUnlock()
	f, ok := e.fetchers[source]
	return f, ok
}

// HandleRaw parses raw and handles the resulting event.
func (e *Engine) HandleRaw(ctx context.Context, raw RawEvent) Reply {
	return e.Handle(ctx, Parse(raw))
}

// Handle processes ev for its user and returns the reply.
// Internal failures end the session and produce a restart prompt.
func (e *Engine) Handle(ctx context.Context, ev Event) (reply Reply) {
	userID := ev.User()
	unlock := e.locks.Lock(userID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in conversation handler",
				"user_id", userID,
				"event", ev.Name(),
				"panic", r,
				"stack", string(debug.Stack()))
			reply = e.fail(ctx, userID, fmt.Errorf("panic: %v", r))
		}
	}()

	if _, ok := ev.(Start); ok {
		e.recorder.IncEvent("", ev.Name())
		return e.start(ctx, userID)
	}

	sess, ok, err := e.store.Get(ctx, userID)
	if err != nil {
		return e.fail(ctx, userID, fmt.Errorf("load session: %w", err))
	}
	if !ok {
		e.recorder.IncEvent("", ev.Name())
		if _, isCancel := ev.(Cancel); isCancel {
			return Reply{Text: msgNothingToCancel, Keyboard: restartKeyboard, State: domain.StateEnd, Ended: true}
		}
		if _, isUnknown := ev.(Unknown); isUnknown {
			return Reply{Text: msgUnknownCommand, Keyboard: restartKeyboard, State: domain.StateEnd, Ended: true}
		}
		return Reply{Text: msgSessionNotFound, Keyboard: restartKeyboard, State: domain.StateEnd, Ended: true}
	}

	e.recorder.IncEvent(string(sess.State), ev.Name())
	e.logger.Debug("handling event", "user_id", userID, "state", sess.State, "event", ev.Name())

	if _, ok := ev.(Cancel); ok {
		reply, err = e.cancel(ctx, sess)
	} else {
		reply, err = e.dispatch(ctx, sess, ev)
	}
	if err != nil {
		return e.fail(ctx, userID, err)
	}
	return reply
}

func (e *Engine) dispatch(ctx context.Context, sess *domain.Session, ev Event) (Reply, error) {
	if u, ok := ev.(Unknown); ok {
		e.logger.Info("unknown command", "user_id", sess.UserID, "command", u.Raw)
		return e.reprompt(sess, msgUnknownCommand), nil
	}

	switch sess.State {
	case domain.StateSelectType:
		return e.selectType(ctx, sess, ev)
	case domain.StateInputID:
		return e.inputTicket(ctx, sess, ev)
	case domain.StateInputData:
		return e.inputData(ctx, sess, ev)
	case domain.StateConfirm:
		return e.confirm(ctx, sess, ev)
	case domain.StateUploadPhoto:
		return e.uploadPhoto(ctx, sess, ev)
	case domain.StateInputPhotoDesc:
		return e.photoDescription(ctx, sess, ev)
	default:
		return Reply{}, fmt.Errorf("session in unexpected state %q", sess.State)
	}
}

// reprompt keeps the current state and shows its keyboard again with text.
func (e *Engine) reprompt(sess *domain.Session, text string) Reply {
	r := Reply{Text: text, State: sess.State}
	switch sess.State {
	case domain.StateSelectType:
		r.Keyboard = typeKeyboard
	case domain.StateInputID, domain.StateInputData, domain.StateInputPhotoDesc:
		r.Keyboard = cancelKeyboard
	case domain.StateConfirm:
		r.Keyboard = confirmKeyboard
	case domain.StateUploadPhoto:
		if sess.UploadMode == domain.UploadModeNone {
			r.Keyboard = modeKeyboard
		} else {
			r.Keyboard = uploadKeyboard
		}
	}
	return r
}

func (e *Engine) start(ctx context.Context, userID string) Reply {
	prev, hadPrev, err := e.store.Get(ctx, userID)
	if err != nil {
		return e.fail(ctx, userID, fmt.Errorf("load session: %w", err))
	}

	if _, err := e.store.Create(ctx, userID); err != nil {
		return e.fail(ctx, userID, fmt.Errorf("create session: %w", err))
	}
	if hadPrev && prev.FolderID != "" {
		e.logger.Info("discarding abandoned report", "user_id", userID, "folder_id", prev.FolderID)
		e.deleteFolder(ctx, userID, prev.FolderID)
	}

	e.logger.Info("report started", "user_id", userID)
	return Reply{Text: msgSelectType, Keyboard: typeKeyboard, State: domain.StateSelectType}
}

func (e *Engine) selectType(ctx context.Context, sess *domain.Session, ev Event) (Reply, error) {
	sel, ok := ev.(TypeSelection)
	if !ok {
		return e.reprompt(sess, msgInvalidType), nil
	}

	if err := e.update(ctx, sess.UserID, store.Patch{
		ReportType: store.Ptr(sel.Type),
		State:      store.Ptr(domain.StateInputID),
	}); err != nil {
		return Reply{}, err
	}
	return Reply{Text: msgEnterTicket, Keyboard: cancelKeyboard, State: domain.StateInputID}, nil
}

func (e *Engine) inputTicket(ctx context.Context, sess *domain.Session, ev Event) (Reply, error) {
	text, ok := textOf(ev)
	if !ok {
		return e.reprompt(sess, msgEnterTicket), nil
	}
	ticket := strings.TrimSpace(text)
	if ticket == "" {
		return e.reprompt(sess, msgEmptyTicket), nil
	}

	name := fmt.Sprintf("%s_%s", sess.ReportType, ticket)
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	folderID, err := e.folders.CreateFolder(cctx, name, e.parent)
	cancel()
	if err != nil {
		e.logger.Error("failed to create report folder",
			"user_id", sess.UserID,
			"folder", name,
			"error", err)
		return e.reprompt(sess, msgFolderFailed), nil
	}

	err = e.update(ctx, sess.UserID, store.Patch{
		TicketID: store.Ptr(ticket),
		FolderID: store.Ptr(folderID),
		State:    store.Ptr(domain.StateInputData),
	})
	if err != nil {
		e.deleteFolder(ctx, sess.UserID, folderID)
		return Reply{}, err
	}

	sess.TicketID = ticket
	sess.FolderID = folderID
	return Reply{
		Text:     templateMessage(sess, e.folders.FolderLink(folderID)),
		Keyboard: cancelKeyboard,
		State:    domain.StateInputData,
	}, nil
}

func (e *Engine) inputData(ctx context.Context, sess *domain.Session, ev Event) (Reply, error) {
	text, ok := textOf(ev)
	if !ok {
		return e.reprompt(sess, msgSendTemplateFilled), nil
	}

	merged := sess.Fields.Merge(ParseFields(text))
	if missing := merged.Missing(); len(missing) > 0 {
		if err := e.update(ctx, sess.UserID, store.Patch{Fields: merged}); err != nil {
			return Reply{}, err
		}
		return e.reprompt(sess, missingMessage(missing)), nil
	}

	reported := e.now()
	if err := e.update(ctx, sess.UserID, store.Patch{
		Fields:     merged,
		ReportedAt: &reported,
		State:      store.Ptr(domain.StateConfirm),
	}); err != nil {
		return Reply{}, err
	}

	sess.Fields = merged
	sess.ReportedAt = reported
	e.logger.Info("report data complete", "user_id", sess.UserID, "ticket", sess.TicketID)
	return Reply{Text: confirmationMessage(sess), Keyboard: confirmKeyboard, State: domain.StateConfirm}, nil
}

func (e *Engine) confirm(ctx context.Context, sess *domain.Session, ev Event) (Reply, error) {
	choice, ok := ev.(ConfirmChoice)
	if !ok {
		return Reply{
			Text:     msgChooseAction + "\n\n" + confirmationMessage(sess),
			Keyboard: confirmKeyboard,
			State:    domain.StateConfirm,
		}, nil
	}

	switch choice.Choice {
	case ChoiceSubmit:
		return e.submit(ctx, sess)
	case ChoiceEdit:
		if err := e.update(ctx, sess.UserID, store.Patch{State: store.Ptr(domain.StateInputData)}); err != nil {
			return Reply{}, err
		}
		return Reply{
			Text:     editMessage(sess, e.folders.FolderLink(sess.FolderID)),
			Keyboard: cancelKeyboard,
			State:    domain.StateInputData,
		}, nil
	default:
		if err := e.update(ctx, sess.UserID, store.Patch{
			State:        store.Ptr(domain.StateUploadPhoto),
			UploadMode:   store.Ptr(domain.UploadModeNone),
			ClearPending: true,
		}); err != nil {
			return Reply{}, err
		}
		return Reply{Text: msgUploadIntro, Keyboard: modeKeyboard, State: domain.StateUploadPhoto}, nil
	}
}

func (e *Engine) submit(ctx context.Context, sess *domain.Session) (Reply, error) {
	row := report.Compose(sess, e.folders.FolderLink(sess.FolderID), e.now())

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	err := e.sheet.AppendRow(cctx, row)
	cancel()
	if err != nil {
		e.logger.Error("failed to append report row",
			"user_id", sess.UserID,
			"ticket", sess.TicketID,
			"error", err)
		return Reply{Text: msgSubmitFailed, Keyboard: confirmKeyboard, State: domain.StateConfirm}, nil
	}

	if _, err := e.store.End(ctx, sess.UserID); err != nil {
		// The row is already written; report success and let the sweeper collect the session.
		e.logger.Error("failed to end submitted session", "user_id", sess.UserID, "error", err)
	}
	e.recorder.IncReportSubmitted(string(sess.ReportType))
	e.logger.Info("report submitted",
		"user_id", sess.UserID,
		"report_type", sess.ReportType,
		"ticket", sess.TicketID,
		"photos", len(sess.Photos))

	return Reply{
		Text:     submittedMessage(len(sess.Photos)),
		Keyboard: restartKeyboard,
		State:    domain.StateEnd,
		Ended:    true,
	}, nil
}

func (e *Engine) uploadPhoto(ctx context.Context, sess *domain.Session, ev Event) (Reply, error) {
	switch ev := ev.(type) {
	case UploadCommand:
		switch ev.Command {
		case UploadSingle:
			if err := e.update(ctx, sess.UserID, store.Patch{UploadMode: store.Ptr(domain.UploadModeSingle)}); err != nil {
				return Reply{}, err
			}
			return Reply{Text: msgSingleMode, Keyboard: uploadKeyboard, State: domain.StateUploadPhoto}, nil
		case UploadMultiple:
			if err := e.update(ctx, sess.UserID, store.Patch{UploadMode: store.Ptr(domain.UploadModeMultiple)}); err != nil {
				return Reply{}, err
			}
			return Reply{Text: msgMultipleMode, Keyboard: uploadKeyboard, State: domain.StateUploadPhoto}, nil
		default:
			if err := e.update(ctx, sess.UserID, store.Patch{
				State:        store.Ptr(domain.StateConfirm),
				UploadMode:   store.Ptr(domain.UploadModeNone),
				ClearPending: true,
			}); err != nil {
				return Reply{}, err
			}
			return Reply{Text: confirmationMessage(sess), Keyboard: confirmKeyboard, State: domain.StateConfirm}, nil
		}

	case PhotoAttachment:
		switch sess.UploadMode {
		case domain.UploadModeSingle:
			ref := ev.Photo
			if err := e.update(ctx, sess.UserID, store.Patch{
				PendingPhoto: &ref,
				State:        store.Ptr(domain.StateInputPhotoDesc),
			}); err != nil {
				return Reply{}, err
			}
			return Reply{Text: msgDescribePhoto, Keyboard: cancelKeyboard, State: domain.StateInputPhotoDesc}, nil
		case domain.UploadModeMultiple:
			return e.storePhoto(ctx, sess, ev.Photo, upload.AutoName(len(sess.Photos)+1, e.now()))
		default:
			return e.reprompt(sess, msgChooseMode), nil
		}

	default:
		if sess.UploadMode == domain.UploadModeNone {
			return e.reprompt(sess, msgChooseMode), nil
		}
		return e.reprompt(sess, msgSendPhotoOrDone), nil
	}
}

func (e *Engine) photoDescription(ctx context.Context, sess *domain.Session, ev Event) (Reply, error) {
	if _, ok := ev.(PhotoAttachment); ok {
		return e.reprompt(sess, msgDescribeFirst), nil
	}
	text, ok := textOf(ev)
	if !ok {
		return e.reprompt(sess, msgDescribeFirst), nil
	}
	desc := strings.TrimSpace(text)
	if desc == "" {
		return e.reprompt(sess, msgEmptyDescription), nil
	}
	if sess.PendingPhoto == nil {
		if err := e.update(ctx, sess.UserID, store.Patch{State: store.Ptr(domain.StateUploadPhoto)}); err != nil {
			return Reply{}, err
		}
		return Reply{Text: msgSingleMode, Keyboard: uploadKeyboard, State: domain.StateUploadPhoto}, nil
	}

	return e.storePhoto(ctx, sess, *sess.PendingPhoto, upload.DescribedName(desc, len(sess.Photos)+1, e.now()))
}

// storePhoto fetches and uploads one photo, then returns to the upload sub-flow.
// Upload exhaustion is reported to the user without ending the session.
func (e *Engine) storePhoto(ctx context.Context, sess *domain.Session, ref domain.PhotoRef, name string) (Reply, error) {
	back := store.Patch{State: store.Ptr(domain.StateUploadPhoto), ClearPending: true}
	failed := func() (Reply, error) {
		if err := e.update(ctx, sess.UserID, back); err != nil {
			return Reply{}, err
		}
		return Reply{Text: msgUploadFailed, Keyboard: uploadKeyboard, State: domain.StateUploadPhoto}, nil
	}

	f, ok := e.fetcher(ref.Source)
	if !ok {
		e.logger.Error("no fetcher for photo source", "user_id", sess.UserID, "source", ref.Source)
		return failed()
	}

	fctx, cancel := context.WithTimeout(ctx, e.timeout)
	payload, err := f.Fetch(fctx, ref)
	cancel()
	if err != nil {
		e.logger.Error("failed to fetch photo", "user_id", sess.UserID, "source", ref.Source, "error", err)
		return failed()
	}
	defer func() {
		if err := os.Remove(payload.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("failed to remove temporary photo", "path", payload.Path, "error", err)
		}
	}()

	res, err := e.uploader.Upload(ctx, upload.Request{Payload: payload, Name: name, FolderID: sess.FolderID})
	if err != nil {
		if errors.Is(err, upload.ErrUploadFailed) {
			e.logger.Error("photo upload exhausted", "user_id", sess.UserID, "name", name, "error", err)
			return failed()
		}
		return Reply{}, fmt.Errorf("upload photo: %w", err)
	}

	photos := append(append([]domain.Photo(nil), sess.Photos...), domain.Photo{ArtifactID: res.ArtifactID, Name: name})
	back.Photos = photos
	if err := e.update(ctx, sess.UserID, back); err != nil {
		return Reply{}, err
	}
	return Reply{Text: uploadedMessage(name, len(photos)), Keyboard: uploadKeyboard, State: domain.StateUploadPhoto}, nil
}

func (e *Engine) cancel(ctx context.Context, sess *domain.Session) (Reply, error) {
	if sess.State == domain.StateInputPhotoDesc {
		if err := e.update(ctx, sess.UserID, store.Patch{
			State:        store.Ptr(domain.StateUploadPhoto),
			ClearPending: true,
		}); err != nil {
			return Reply{}, err
		}
		return Reply{Text: msgSingleMode, Keyboard: uploadKeyboard, State: domain.StateUploadPhoto}, nil
	}

	if sess.FolderID != "" {
		e.deleteFolder(ctx, sess.UserID, sess.FolderID)
	}
	if _, err := e.store.End(ctx, sess.UserID); err != nil {
		return Reply{}, fmt.Errorf("end session: %w", err)
	}
	e.recorder.IncCancelled("user")
	e.logger.Info("report cancelled", "user_id", sess.UserID, "state", sess.State)
	return Reply{Text: msgCancelled, Keyboard: restartKeyboard, State: domain.StateEnd, Ended: true}, nil
}

// fail ends the session after an internal error. The report folder is kept.
func (e *Engine) fail(ctx context.Context, userID string, cause error) Reply {
	e.logger.Error("conversation failed, ending session", "user_id", userID, "error", cause)
	if _, err := e.store.End(context.WithoutCancel(ctx), userID); err != nil {
		e.logger.Error("failed to end session after error", "user_id", userID, "error", err)
	}
	e.recorder.IncCancelled("error")
	return Reply{Text: msgError, Keyboard: restartKeyboard, State: domain.StateEnd, Ended: true}
}

func (e *Engine) update(ctx context.Context, userID string, p store.Patch) error {
	ok, err := e.store.Update(ctx, userID, p)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return errSessionVanished
	}
	return nil
}

// deleteFolder removes a report folder; failures are only logged.
func (e *Engine) deleteFolder(ctx context.Context, userID, folderID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.folders.Delete(cctx, folderID); err != nil {
		e.logger.Warn("failed to delete report folder",
			"user_id", userID,
			"folder_id", folderID,
			"error", err)
	}
}

// ExpireIdle ends every session idle for longer than idle and returns the affected users.
func (e *Engine) ExpireIdle(ctx context.Context, idle time.Duration) ([]string, error) {
	candidates, err := e.store.Expired(ctx, idle)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}

	var expired []string
	for _, c := range candidates {
		ok, err := e.Expire(ctx, c.UserID, idle)
		if err != nil {
			e.logger.Error("failed to expire session", "user_id", c.UserID, "error", err)
			continue
		}
		if ok {
			expired = append(expired, c.UserID)
		}
	}
	if len(expired) > 0 {
		e.recorder.IncSwept(len(expired))
	}
	return expired, nil
}

// Expire ends userID's session if it is still idle for longer than idle.
// It takes the user's lock so it never races an in-flight event.
func (e *Engine) Expire(ctx context.Context, userID string, idle time.Duration) (bool, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	sess, ok, err := e.store.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if !ok || sess.IdleFor(e.now()) < idle {
		return false, nil
	}

	if sess.FolderID != "" {
		e.deleteFolder(ctx, userID, sess.FolderID)
	}
	if _, err := e.store.End(ctx, userID); err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	e.recorder.IncCancelled("idle")
	e.logger.Info("session expired", "user_id", userID, "state", sess.State, "idle", sess.IdleFor(e.now()))
	return true, nil
}
