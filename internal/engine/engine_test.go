package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/laporan-bot/internal/domain"
	"github.com/ashureev/laporan-bot/internal/report"
	"github.com/ashureev/laporan-bot/internal/store"
	"github.com/ashureev/laporan-bot/internal/upload"
)

type fakeFolders struct {
	mu        sync.Mutex
	created   []string
	deleted   []string
	createErr error
	deleteErr error
	seq       int
}

func (f *fakeFolders) CreateFolder(_ context.Context, name, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.seq++
	f.created = append(f.created, name)
	return fmt.Sprintf("folder-%d", f.seq), nil
}

func (f *fakeFolders) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeFolders) FolderLink(id string) string { return "https://drive.test/" + id }

type fakeSheet struct {
	mu   sync.Mutex
	rows []report.Row
	err  error
}

func (s *fakeSheet) AppendRow(_ context.Context, row report.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

type fakeUploader struct {
	mu       sync.Mutex
	requests []upload.Request
	err      error
	panicMsg string
}

func (u *fakeUploader) Upload(_ context.Context, req upload.Request) (upload.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.panicMsg != "" {
		panic(u.panicMsg)
	}
	u.requests = append(u.requests, req)
	if u.err != nil {
		return upload.Result{}, u.err
	}
	return upload.Result{ArtifactID: fmt.Sprintf("photo-%d", len(u.requests)), Name: req.Name}, nil
}

type fakeFetcher struct {
	dir string
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, ref domain.PhotoRef) (upload.Payload, error) {
	if f.err != nil {
		return upload.Payload{}, f.err
	}
	path := filepath.Join(f.dir, ref.FileID+".jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o600); err != nil {
		return upload.Payload{}, err
	}
	return upload.Payload{Path: path, Size: 4, MIMEType: "image/jpeg"}, nil
}

// failingStore wraps a store and fails Update on demand.
type failingStore struct {
	store.SessionStore
	updateErr error
}

func (f *failingStore) Update(ctx context.Context, userID string, p store.Patch) (bool, error) {
	if f.updateErr != nil {
		return false, f.updateErr
	}
	return f.SessionStore.Update(ctx, userID, p)
}

type harness struct {
	engine   *Engine
	store    store.SessionStore
	folders  *fakeFolders
	sheet    *fakeSheet
	uploader *fakeUploader
	fetcher  *fakeFetcher
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		folders:  &fakeFolders{},
		sheet:    &fakeSheet{},
		uploader: &fakeUploader{},
		fetcher:  &fakeFetcher{dir: t.TempDir()},
		now:      time.Date(2025, 3, 14, 10, 5, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.store = store.NewMemoryWithClock(clock)
	h.engine = New(h.store, h.folders, h.sheet, h.uploader, Options{
		ParentFolderID: "root-folder",
		Now:            clock,
	})
	h.engine.RegisterFetcher("test", h.fetcher)
	return h
}

func (h *harness) text(t *testing.T, userID, text string) Reply {
	t.Helper()
	return h.engine.HandleRaw(context.Background(), RawEvent{UserID: userID, Kind: RawText, Text: text})
}

func (h *harness) photo(t *testing.T, userID, fileID string) Reply {
	t.Helper()
	return h.engine.HandleRaw(context.Background(), RawEvent{
		UserID: userID,
		Kind:   RawPhoto,
		Photo:  &domain.PhotoRef{Source: "test", FileID: fileID},
	})
}

func (h *harness) session(t *testing.T, userID string) (*domain.Session, bool) {
	t.Helper()
	s, ok, err := h.store.Get(context.Background(), userID)
	require.NoError(t, err)
	return s, ok
}

const filledTemplate = `Report Type : BGES
ID Ticket : IN123
Folder Drive : https://drive.test/folder-1
-------------------------------------------------------------
Salin Format Laporan dan isi dibawah ini :

Customer Name : PT Maju Jaya
Service No : 1122334455
Segment : DGS
Teknisi 1 : Andi
Teknisi 2 : Budi
STO : BDG
Valins ID : V-9`

// toConfirm drives a user to the confirmation screen.
func (h *harness) toConfirm(t *testing.T, userID string) {
	t.Helper()
	h.text(t, userID, "/start")
	h.text(t, userID, "BGES")
	h.text(t, userID, "IN123")
	r := h.text(t, userID, filledTemplate)
	require.Equal(t, domain.StateConfirm, r.State, r.Text)
}

func TestHappyPathSubmitsRow(t *testing.T) {
	h := newHarness(t)

	r := h.text(t, "u1", "/start")
	assert.Equal(t, domain.StateSelectType, r.State)
	assert.Equal(t, msgSelectType, r.Text)
	assert.Equal(t, typeKeyboard, r.Keyboard)

	r = h.text(t, "u1", "BGES")
	assert.Equal(t, domain.StateInputID, r.State)

	r = h.text(t, "u1", "  IN123  ")
	assert.Equal(t, domain.StateInputData, r.State)
	assert.Equal(t, []string{"BGES_IN123"}, h.folders.created)
	assert.Contains(t, r.Text, "Salin Format Laporan dan isi dibawah ini :")
	assert.Contains(t, r.Text, "Folder Drive : https://drive.test/folder-1")

	r = h.text(t, "u1", filledTemplate)
	assert.Equal(t, domain.StateConfirm, r.State)
	assert.Contains(t, r.Text, "✅ Konfirmasi Data Laporan")
	assert.Contains(t, r.Text, "Belum ada foto terupload")
	assert.Equal(t, confirmKeyboard, r.Keyboard)

	r = h.text(t, "u1", TokenSubmit)
	assert.True(t, r.Ended)
	assert.Equal(t, domain.StateEnd, r.State)
	assert.Equal(t, msgSubmitted, r.Text)

	require.Len(t, h.sheet.rows, 1)
	row := h.sheet.rows[0]
	assert.Equal(t, "BGES", row[0])
	assert.Equal(t, "IN123", row[1])
	assert.Equal(t, "14/03/2025 10:05", row[3])
	assert.Equal(t, "PT Maju Jaya", row[7])
	assert.Equal(t, "https://drive.test/folder-1", row[20])

	_, ok := h.session(t, "u1")
	assert.False(t, ok, "session must be removed after submit")
	assert.Empty(t, h.folders.deleted)
}

func TestInvalidTypeReprompts(t *testing.T) {
	h := newHarness(t)
	h.text(t, "u1", "/start")

	r := h.text(t, "u1", "bges")
	assert.Equal(t, domain.StateSelectType, r.State)
	assert.Equal(t, msgInvalidType, r.Text)
}

func TestFolderFailureRepromptsTicket(t *testing.T) {
	h := newHarness(t)
	h.folders.createErr = errors.New("drive down")
	h.text(t, "u1", "/start")
	h.text(t, "u1", "Squad")

	r := h.text(t, "u1", "IN1")
	assert.Equal(t, domain.StateInputID, r.State)
	assert.Equal(t, msgFolderFailed, r.Text)

	s, ok := h.session(t, "u1")
	require.True(t, ok, "folder failure is not fatal")
	assert.Empty(t, s.FolderID)

	h.folders.createErr = nil
	r = h.text(t, "u1", "IN1")
	assert.Equal(t, domain.StateInputData, r.State)
}

func TestPartialDataIsMergedAndPersisted(t *testing.T) {
	h := newHarness(t)
	h.text(t, "u1", "/start")
	h.text(t, "u1", "BGES")
	h.text(t, "u1", "IN123")

	r := h.text(t, "u1", "Customer Name : PT Maju\nservice  no: 77\nSTO:\nrandom line")
	assert.Equal(t, domain.StateInputData, r.State)
	assert.Equal(t, missingMessage([]string{"Segment", "Teknisi 1", "Teknisi 2", "STO", "Valins ID"}), r.Text)

	s, _ := h.session(t, "u1")
	assert.Equal(t, "PT Maju", s.Fields[domain.FieldCustomerName])
	assert.Equal(t, "77", s.Fields[domain.FieldServiceNo])

	r = h.text(t, "u1", "Segment: DGS\nTeknisi 1: A\nTeknisi 2: B\nSTO: BDG\nValins ID: V1\nCustomer Name:")
	assert.Equal(t, domain.StateConfirm, r.State)

	s, _ = h.session(t, "u1")
	assert.Equal(t, "PT Maju", s.Fields[domain.FieldCustomerName], "blank value must not erase stored value")
	assert.True(t, s.Fields.Complete())
}

func TestEditReturnsPrefilledTemplate(t *testing.T) {
	h := newHarness(t)
	h.toConfirm(t, "u1")

	r := h.text(t, "u1", TokenEdit)
	assert.Equal(t, domain.StateInputData, r.State)
	assert.Contains(t, r.Text, "Customer Name : PT Maju Jaya")
	assert.Contains(t, r.Text, "Valins ID : V-9")

	r = h.text(t, "u1", "STO : JKT")
	assert.Equal(t, domain.StateConfirm, r.State)
	assert.Contains(t, r.Text, "STO: JKT")
}

func TestCancelDeletesFolderAndEndsSession(t *testing.T) {
	h := newHarness(t)
	h.toConfirm(t, "u1")

	r := h.text(t, "u1", TokenCancel)
	assert.True(t, r.Ended)
	assert.Equal(t, msgCancelled, r.Text)
	assert.Equal(t, restartKeyboard, r.Keyboard)
	assert.Equal(t, []string{"folder-1"}, h.folders.deleted)

	_, ok := h.session(t, "u1")
	assert.False(t, ok)
}

func TestCancelFromEachState(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*harness, *testing.T)
		wantDeleted []string
	}{
		{
			name: "input id",
			setup: func(h *harness, t *testing.T) {
				h.text(t, "u1", "/start")
				h.text(t, "u1", "BGES")
			},
		},
		{
			name: "input data",
			setup: func(h *harness, t *testing.T) {
				h.text(t, "u1", "/start")
				h.text(t, "u1", "BGES")
				h.text(t, "u1", "IN123")
			},
			wantDeleted: []string{"folder-1"},
		},
		{
			name:        "confirm",
			setup:       func(h *harness, t *testing.T) { h.toConfirm(t, "u1") },
			wantDeleted: []string{"folder-1"},
		},
		{
			name: "upload photo",
			setup: func(h *harness, t *testing.T) {
				h.toConfirm(t, "u1")
				h.text(t, "u1", TokenUploadPhotos)
			},
			wantDeleted: []string{"folder-1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h, t)

			r := h.text(t, "u1", TokenCancel)
			assert.Equal(t, msgCancelled, r.Text)
			assert.True(t, r.Ended)
			assert.Equal(t, tt.wantDeleted, h.folders.deleted)
			_, ok := h.session(t, "u1")
			assert.False(t, ok)

			r = h.text(t, "u1", TokenCancel)
			assert.Equal(t, msgNothingToCancel, r.Text)
			assert.Equal(t, tt.wantDeleted, h.folders.deleted, "second cancel must not delete again")
		})
	}
}

func TestCancelCommandAliases(t *testing.T) {
	for _, cmd := range []string{"/batal", "/cancel", "/cancel@laporan_bot"} {
		h := newHarness(t)
		h.text(t, "u1", "/start")
		r := h.text(t, "u1", cmd)
		assert.Truef(t, r.Ended, "%s should cancel", cmd)
	}
}

func TestCancelSurvivesFolderDeleteFailure(t *testing.T) {
	h := newHarness(t)
	h.folders.deleteErr = errors.New("forbidden")
	h.toConfirm(t, "u1")

	r := h.text(t, "u1", TokenCancel)
	assert.Equal(t, msgCancelled, r.Text)
	_, ok := h.session(t, "u1")
	assert.False(t, ok)
}

func TestCancelWithoutSessionIsNoop(t *testing.T) {
	h := newHarness(t)
	r := h.text(t, "u1", TokenCancel)
	assert.Equal(t, msgNothingToCancel, r.Text)
	assert.Empty(t, h.folders.deleted)
}

func TestTextWithoutSessionAsksForRestart(t *testing.T) {
	h := newHarness(t)
	r := h.text(t, "u1", "hello")
	assert.Equal(t, msgSessionNotFound, r.Text)
	assert.True(t, r.Ended)
}

func TestStartResetsAndDiscardsAbandonedFolder(t *testing.T) {
	h := newHarness(t)
	h.toConfirm(t, "u1")

	r := h.text(t, "u1", "/start")
	assert.Equal(t, domain.StateSelectType, r.State)
	assert.Equal(t, []string{"folder-1"}, h.folders.deleted)

	s, ok := h.session(t, "u1")
	require.True(t, ok)
	assert.Empty(t, s.FolderID)
	assert.Empty(t, s.Fields)
}

func TestSubmitFailureStaysInConfirm(t *testing.T) {
	h := newHarness(t)
	h.sheet.err = errors.New("sheets unavailable")
	h.toConfirm(t, "u1")

	r := h.text(t, "u1", TokenSubmit)
	assert.Equal(t, domain.StateConfirm, r.State)
	assert.Equal(t, msgSubmitFailed, r.Text)
	assert.False(t, r.Ended)

	h.sheet.err = nil
	r = h.text(t, "u1", TokenSubmit)
	assert.True(t, r.Ended)
	assert.Len(t, h.sheet.rows, 1)
}

func TestMultipleModeUploadsImmediately(t *testing.T) {
	h := newHarness(t)
	h.toConfirm(t, "u1")

	r := h.text(t, "u1", TokenUploadPhotos)
	assert.Equal(t, domain.StateUploadPhoto, r.State)
	assert.Equal(t, modeKeyboard, r.Keyboard)

	r = h.photo(t, "u1", "p0")
	assert.Equal(t, msgChooseMode, r.Text, "photo before a mode is chosen must re-prompt")
	assert.Empty(t, h.uploader.requests)

	h.text(t, "u1", TokenMultipleMode)
	r = h.photo(t, "u1", "p1")
	assert.Equal(t, domain.StateUploadPhoto, r.State)
	assert.Contains(t, r.Text, "foto_1_20250314_100500.jpg")
	r = h.photo(t, "u1", "p2")
	assert.Contains(t, r.Text, "Total foto terupload: 2")

	require.Len(t, h.uploader.requests, 2)
	assert.Equal(t, "folder-1", h.uploader.requests[0].FolderID)
	assert.Equal(t, "foto_2_20250314_100500.jpg", h.uploader.requests[1].Name)
	_, err := os.Stat(h.uploader.requests[0].Payload.Path)
	assert.True(t, os.IsNotExist(err), "temporary payload must be removed")

	r = h.text(t, "u1", TokenDoneUpload)
	assert.Equal(t, domain.StateConfirm, r.State)
	assert.Contains(t, r.Text, "Foto Terupload: 2 foto")

	r = h.text(t, "u1", TokenSubmit)
	assert.Contains(t, r.Text, "2 foto eviden")
}

func TestSingleModeAsksForDescription(t *testing.T) {
	h := newHarness(t)
	h.toConfirm(t, "u1")
	h.text(t, "u1", TokenUploadPhotos)
	h.text(t, "u1", TokenSingleMode)

	r := h.photo(t, "u1", "p1")
	assert.Equal(t, domain.StateInputPhotoDesc, r.State)
	assert.Equal(t, msgDescribePhoto, r.Text)
	assert.Empty(t, h.uploader.requests)

	r = h.photo(t, "u1", "p2")
	assert.Equal(t, domain.StateInputPhotoDesc, r.State)
	assert.Equal(t, msgDescribeFirst, r.Text)

	r = h.text(t, "u1", "ODP depan / sesudah")
	assert.Equal(t, domain.StateUploadPhoto, r.State)
	require.Len(t, h.uploader.requests, 1)
	assert.Equal(t, "ODP_depan_sesudah_1_20250314_100500.jpg", h.uploader.requests[0].Name)

	s, _ := h.session(t, "u1")
	assert.Nil(t, s.PendingPhoto)
	require.Len(t, s.Photos, 1)
	assert.Equal(t, "photo-1", s.Photos[0].ArtifactID)
}

func TestCancelDuringDescriptionDiscardsPendingOnly(t *testing.T) {
	h := newHarness(t)
	h.toConfirm(t, "u1")
	h.text(t, "u1", TokenUploadPhotos)
	h.text(t, "u1", TokenSingleMode)
	h.photo(t, "u1", "p1")

	r := h.text(t, "u1", TokenCancel)
	assert.Equal(t, domain.StateUploadPhoto, r.State)
	assert.False(t, r.Ended)

	s, ok := h.session(t, "u1")
	require.True(t, ok)
	assert.Nil(t, s.PendingPhoto)
	assert.Empty(t, h.folders.deleted)
}

func TestCancelDuringUploadIsFullCancel(t *testing.T) {
	h := newHarness(t)
	h.toConfirm(t, "u1")
	h.text(t, "u1", TokenUploadPhotos)

	r := h.text(t, "u1", TokenCancel)
	assert.True(t, r.Ended)
	assert.Equal(t, []string{"folder-1"}, h.folders.deleted)
}

func TestUploadExhaustionIsRecoverable(t *testing.T) {
	h := newHarness(t)
	h.uploader.err = &upload.ExhaustedError{}
	h.toConfirm(t, "u1")
	h.text(t, "u1", TokenUploadPhotos)
	h.text(t, "u1", TokenMultipleMode)

	r := h.photo(t, "u1", "p1")
	assert.Equal(t, domain.StateUploadPhoto, r.State)
	assert.Equal(t, msgUploadFailed, r.Text)

	s, ok := h.session(t, "u1")
	require.True(t, ok)
	assert.Empty(t, s.Photos)
}

func TestFetchFailureIsRecoverable(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = errors.New("telegram timeout")
	h.toConfirm(t, "u1")
	h.text(t, "u1", TokenUploadPhotos)
	h.text(t, "u1", TokenMultipleMode)

	r := h.photo(t, "u1", "p1")
	assert.Equal(t, msgUploadFailed, r.Text)
	_, ok := h.session(t, "u1")
	assert.True(t, ok)
}

func TestPanicEndsSessionAndKeepsFolder(t *testing.T) {
	h := newHarness(t)
	h.uploader.panicMsg = "boom"
	h.toConfirm(t, "u1")
	h.text(t, "u1", TokenUploadPhotos)
	h.text(t, "u1", TokenMultipleMode)

	r := h.photo(t, "u1", "p1")
	assert.Equal(t, msgError, r.Text)
	assert.True(t, r.Ended)

	_, ok := h.session(t, "u1")
	assert.False(t, ok)
	assert.Empty(t, h.folders.deleted)
}

func TestStoreFailureIsFailClosed(t *testing.T) {
	h := newHarness(t)
	fs := &failingStore{SessionStore: h.store}
	h.engine.store = fs
	h.text(t, "u1", "/start")

	fs.updateErr = errors.New("disk I/O error")
	r := h.text(t, "u1", "BGES")
	assert.Equal(t, msgError, r.Text)
	assert.Equal(t, domain.StateEnd, r.State)

	_, ok := h.session(t, "u1")
	assert.False(t, ok)
}

func TestUnknownCommandKeepsState(t *testing.T) {
	h := newHarness(t)
	h.text(t, "u1", "/start")
	h.text(t, "u1", "BGES")

	r := h.text(t, "u1", "/help")
	assert.Equal(t, domain.StateInputID, r.State)
	assert.Equal(t, msgUnknownCommand, r.Text)
}

func TestUsersAreIndependent(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", i)
			h.text(t, id, "/start")
			h.text(t, id, "Non B2B")
			h.text(t, id, fmt.Sprintf("T%d", i))
			h.text(t, id, filledTemplate)
			h.text(t, id, TokenSubmit)
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.sheet.rows, 10)
	assert.Equal(t, 0, h.engine.locks.size())
}

// gatedFolders blocks CreateFolder for one folder name until released.
type gatedFolders struct {
	*fakeFolders
	gate    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFolders) CreateFolder(ctx context.Context, name, parent string) (string, error) {
	if name == g.gate {
		close(g.entered)
		<-g.release
	}
	return g.fakeFolders.CreateFolder(ctx, name, parent)
}

func (k *keyedMutex) refs(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.locks[key]; ok {
		return l.refs
	}
	return 0
}

func TestSlowCallBlocksOnlyItsUser(t *testing.T) {
	h := newHarness(t)
	gated := &gatedFolders{
		fakeFolders: h.folders,
		gate:        "BGES_SLOW",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	h.engine.folders = gated

	h.text(t, "a", "/start")
	h.text(t, "a", "BGES")

	ticketDone := make(chan Reply, 1)
	go func() { ticketDone <- h.text(t, "a", "SLOW") }()
	<-gated.entered

	// Another user runs a whole step sequence while "a" is stuck in Drive.
	h.text(t, "b", "/start")
	h.text(t, "b", "Squad")
	r := h.text(t, "b", "FAST")
	assert.Equal(t, domain.StateInputData, r.State)

	cancelDone := make(chan Reply, 1)
	go func() { cancelDone <- h.text(t, "a", TokenCancel) }()
	require.Eventually(t, func() bool { return h.engine.locks.refs("a") == 2 }, time.Second, time.Millisecond)

	select {
	case <-cancelDone:
		t.Fatal("cancel for a busy user must wait for the in-flight event")
	case <-time.After(20 * time.Millisecond):
	}

	close(gated.release)

	r = <-ticketDone
	assert.Equal(t, domain.StateInputData, r.State)
	r = <-cancelDone
	assert.Equal(t, msgCancelled, r.Text)
	assert.Equal(t, []string{"folder-2"}, h.folders.deleted)
}

func TestExpireIdle(t *testing.T) {
	h := newHarness(t)
	h.toConfirm(t, "idle")
	h.now = h.now.Add(50 * time.Minute)
	h.text(t, "active", "/start")
	h.now = h.now.Add(20 * time.Minute)

	expired, err := h.engine.ExpireIdle(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"idle"}, expired)
	assert.Equal(t, []string{"folder-1"}, h.folders.deleted)

	_, ok := h.session(t, "idle")
	assert.False(t, ok)
	_, ok = h.session(t, "active")
	assert.True(t, ok)
}

func TestExpireSkipsRefreshedSession(t *testing.T) {
	h := newHarness(t)
	h.text(t, "u1", "/start")
	h.now = h.now.Add(2 * time.Hour)
	h.text(t, "u1", "BGES")

	ok, err := h.engine.Expire(context.Background(), "u1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw  RawEvent
		want string
	}{
		{RawEvent{Text: "/start"}, "start"},
		{RawEvent{Text: "/START extra"}, "start"},
		{RawEvent{Text: TokenCancel}, "cancel"},
		{RawEvent{Text: "Non B2B"}, "type_selection"},
		{RawEvent{Text: TokenSubmit}, "confirm_choice"},
		{RawEvent{Text: TokenDoneUpload}, "upload_command"},
		{RawEvent{Kind: RawPhoto, Photo: &domain.PhotoRef{FileID: "x"}}, "photo"},
		{RawEvent{Text: "/whatever"}, "unknown"},
		{RawEvent{Text: "IN123"}, "text"},
	}
	for _, tt := range tests {
		if got := Parse(tt.raw).Name(); got != tt.want {
			t.Errorf("Parse(%+v) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestParseFields(t *testing.T) {
	got := ParseFields("CUSTOMER   name : A: B\nSTO:  \nTeknisi 1 :X\nnot a field\nFoo: bar")
	assert.Equal(t, domain.Fields{
		domain.FieldCustomerName: "A: B",
		domain.FieldTechnician1:  "X",
	}, got)
}

func TestConfirmationListsPhotos(t *testing.T) {
	s := &domain.Session{
		ReportType: domain.ReportSquad,
		TicketID:   "T1",
		Fields:     domain.Fields{},
		Photos:     []domain.Photo{{Name: "a.jpg"}, {Name: "b.jpg"}},
	}
	msg := confirmationMessage(s)
	assert.True(t, strings.Contains(msg, "   1. a.jpg") && strings.Contains(msg, "   2. b.jpg"), msg)
}
