package webchat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/laporan-bot/internal/domain"
	"github.com/ashureev/laporan-bot/internal/engine"
	"github.com/ashureev/laporan-bot/internal/identity"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	writeErr error
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames = append(c.frames, p)
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) lastFrame(t *testing.T) outFrame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatal("no frames written")
	}
	var f outFrame
	if err := json.Unmarshal(c.frames[len(c.frames)-1], &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestSessionManager_RegisterReplaces(t *testing.T) {
	sm := NewSessionManager(nil)
	first, second := &fakeConn{}, &fakeConn{}

	sm.Register("anon", "tab-1", first)
	sm.Register("anon", "tab-1", second)

	if sm.GetActive("anon", "tab-1") != second {
		t.Fatal("second connection should be active")
	}
	if !first.closed {
		t.Fatal("replaced connection should be closed")
	}
}

func TestSessionManager_UnregisterStale(t *testing.T) {
	sm := NewSessionManager(nil)
	conn1, conn2 := &fakeConn{}, &fakeConn{}

	sm.Register("anon", "tab-1", conn1)
	sm.Register("anon", "tab-2", conn2)
	sm.Unregister("anon", "tab-1", conn1)
	sm.Unregister("anon", "tab-2", conn1)

	if sm.GetActive("anon", "tab-1") != nil {
		t.Fatal("tab-1 should be gone")
	}
	if sm.GetActive("anon", "tab-2") != conn2 {
		t.Fatal("stale unregister must not remove tab-2")
	}
}

func TestSessionManager_DeliverFansOut(t *testing.T) {
	sm := NewSessionManager(nil)
	tab1, tab2, broken := &fakeConn{}, &fakeConn{}, &fakeConn{writeErr: errors.New("closed")}
	sm.Register("anon", "1", tab1)
	sm.Register("anon", "2", tab2)
	sm.Register("anon", "3", broken)
	sm.Register("other", "1", &fakeConn{})

	n := sm.Deliver(context.Background(), UserPrefix+"anon", engine.Reply{
		Text: "halo", Keyboard: [][]string{{"a"}}, State: domain.StateSelectType,
	})
	if n != 2 {
		t.Fatalf("Deliver() = %d, want 2", n)
	}
	f := tab2.lastFrame(t)
	if f.Type != frameReply || f.Text != "halo" || f.State != string(domain.StateSelectType) || f.Keyboard[0][0] != "a" {
		t.Fatalf("frame = %+v", f)
	}

	if sm.Deliver(context.Background(), "12345", engine.Reply{Text: "x"}) != 0 {
		t.Fatal("telegram user ids must not be delivered")
	}
}

func TestSessionManager_NotifyDropsPhotos(t *testing.T) {
	photos := NewPhotoStore(t.TempDir())
	sm := NewSessionManager(photos)
	conn := &fakeConn{}
	sm.Register("anon", "tab", conn)

	if _, err := photos.Put(UserPrefix+"anon", pngBytes()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := sm.Notify(context.Background(), "42", "bye"); !errors.Is(err, ErrNotWebUser) {
		t.Fatalf("Notify(telegram) error = %v", err)
	}
	if err := sm.Notify(context.Background(), UserPrefix+"anon", "bye"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	f := conn.lastFrame(t)
	if f.Text != "bye" || !f.Ended || f.Keyboard[0][0] != engine.CommandStart {
		t.Fatalf("frame = %+v", f)
	}
	if photos.Len() != 0 {
		t.Fatalf("unfetched photos = %d, want 0", photos.Len())
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager(nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 500 {
			sm.Register("u", "tab-"+strconv.Itoa(i), &fakeConn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 500 {
			sm.GetActive("u", "tab-"+strconv.Itoa(i))
			sm.Deliver(context.Background(), UserPrefix+"u", engine.Reply{Text: "x"})
		}
	}()
	wg.Wait()
	sm.CloseAll()
	if sm.GetActive("u", "tab-1") != nil {
		t.Fatal("CloseAll should remove every connection")
	}
}

func pngBytes() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
}

func TestPhotoStore(t *testing.T) {
	dir := t.TempDir()
	s := NewPhotoStore(dir)

	if _, err := s.Put("web:a", []byte("plain text, not a picture")); !errors.Is(err, ErrNotImage) {
		t.Fatalf("Put(text) error = %v, want ErrNotImage", err)
	}

	ref, err := s.Put("web:a", pngBytes())
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if ref.Source != Source || ref.FileID == "" {
		t.Fatalf("ref = %+v", ref)
	}

	p, err := s.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if p.MIMEType != "image/png" || p.Size != int64(len(pngBytes())) {
		t.Fatalf("payload = %+v", p)
	}
	if _, err := os.Stat(p.Path); err != nil {
		t.Fatalf("payload file: %v", err)
	}

	if _, err := s.Fetch(context.Background(), ref); !errors.Is(err, ErrPhotoNotFound) {
		t.Fatalf("second Fetch() error = %v, want ErrPhotoNotFound", err)
	}
	if _, err := s.Fetch(context.Background(), domain.PhotoRef{Source: "telegram", FileID: ref.FileID}); err == nil {
		t.Fatal("Fetch() of a foreign source should fail")
	}
}

func TestPhotoStoreDropUser(t *testing.T) {
	dir := t.TempDir()
	s := NewPhotoStore(dir)
	s.Put("web:a", pngBytes())
	s.Put("web:a", pngBytes())
	keep, _ := s.Put("web:b", pngBytes())

	if n := s.DropUser("web:a"); n != 2 {
		t.Fatalf("DropUser() = %d, want 2", n)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("files left = %d, want 1", len(entries))
	}
	if _, err := s.Fetch(context.Background(), keep); err != nil {
		t.Fatalf("other user's photo lost: %v", err)
	}
}

type recordingEngine struct {
	mu   sync.Mutex
	raws []engine.RawEvent
}

func (e *recordingEngine) HandleRaw(_ context.Context, raw engine.RawEvent) engine.Reply {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.raws = append(e.raws, raw)
	return engine.Reply{Text: "got " + raw.Text, Keyboard: [][]string{{"ok"}}, State: domain.StateSelectType}
}

func (e *recordingEngine) last() engine.RawEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.raws[len(e.raws)-1]
}

func newChatServer(t *testing.T) (*httptest.Server, *recordingEngine, *PhotoStore) {
	t.Helper()
	eng := &recordingEngine{}
	photos := NewPhotoStore(t.TempDir())
	sm := NewSessionManager(photos)
	h := NewWebSocketHandler(eng, sm, photos, "", true)
	srv := httptest.NewServer(identity.Middleware(true)(h))
	t.Cleanup(srv.Close)
	return srv, eng, photos
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) outFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var f outFrame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func send(t *testing.T, conn *websocket.Conn, f inFrame) {
	t.Helper()
	if err := wsjson.Write(context.Background(), conn, f); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestWebSocketConversation(t *testing.T) {
	srv, eng, _ := newChatServer(t)
	conn := dial(t, srv)

	welcome := readFrame(t, conn)
	if welcome.Type != frameReply || welcome.Keyboard[0][0] != engine.CommandStart {
		t.Fatalf("welcome = %+v", welcome)
	}

	send(t, conn, inFrame{Type: frameText, Content: "/start"})
	reply := readFrame(t, conn)
	if reply.Text != "got /start" || reply.State != string(domain.StateSelectType) {
		t.Fatalf("reply = %+v", reply)
	}
	raw := eng.last()
	if raw.Kind != engine.RawCommand || !strings.HasPrefix(raw.UserID, UserPrefix+"anon_") {
		t.Fatalf("raw = %+v", raw)
	}

	send(t, conn, inFrame{Type: frameText, Content: "BGES"})
	readFrame(t, conn)
	if eng.last().Kind != engine.RawText {
		t.Fatalf("raw = %+v", eng.last())
	}

	send(t, conn, inFrame{Type: framePing})
	if f := readFrame(t, conn); f.Type != framePong {
		t.Fatalf("frame = %+v, want pong", f)
	}

	send(t, conn, inFrame{Type: "resize"})
	if f := readFrame(t, conn); f.Type != frameError || f.Error != "unknown_frame" {
		t.Fatalf("frame = %+v, want unknown_frame error", f)
	}
}

func TestWebSocketPhoto(t *testing.T) {
	srv, eng, photos := newChatServer(t)
	conn := dial(t, srv)
	readFrame(t, conn)

	send(t, conn, inFrame{Type: framePhoto, Content: "depan", Data: base64.StdEncoding.EncodeToString(pngBytes())})
	readFrame(t, conn)

	raw := eng.last()
	if raw.Kind != engine.RawPhoto || raw.Photo == nil || raw.Photo.Source != Source || raw.Text != "depan" {
		t.Fatalf("raw = %+v", raw)
	}
	if photos.Len() != 1 {
		t.Fatalf("stored photos = %d, want 1", photos.Len())
	}

	send(t, conn, inFrame{Type: framePhoto, Data: "!!!"})
	if f := readFrame(t, conn); f.Error != "invalid_photo" {
		t.Fatalf("frame = %+v, want invalid_photo", f)
	}

	send(t, conn, inFrame{Type: framePhoto, Data: base64.StdEncoding.EncodeToString([]byte("hello world"))})
	if f := readFrame(t, conn); f.Error != "unsupported_image" {
		t.Fatalf("frame = %+v, want unsupported_image", f)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	h := NewWebSocketHandler(&recordingEngine{}, NewSessionManager(nil), NewPhotoStore(t.TempDir()), "https://app.example", false)
	srv := httptest.NewServer(identity.Middleware(true)(h))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}
