package webchat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ashureev/laporan-bot/internal/domain"
	"github.com/ashureev/laporan-bot/internal/upload"
)

// Source tags photo references held by the PhotoStore.
const Source = "webchat"

var (
	// ErrNotImage is returned for uploads that do not sniff as an image.
	ErrNotImage = errors.New("not an image")
	// ErrPhotoNotFound is returned when a reference is unknown or already fetched.
	ErrPhotoNotFound = errors.New("photo not found")
)

type storedPhoto struct {
	userID string
	path   string
	mime   string
	size   int64
}

// PhotoStore keeps browser-uploaded photos on disk until the engine
// fetches them. Fetching hands the file over to the caller.
type PhotoStore struct {
	dir string

	mu    sync.Mutex
	files map[string]storedPhoto
}

// NewPhotoStore creates a store writing into dir ("" uses os.TempDir).
func NewPhotoStore(dir string) *PhotoStore {
	return &PhotoStore{dir: dir, files: make(map[string]storedPhoto)}
}

// Put saves data for userID and returns its reference.
func (s *PhotoStore) Put(userID string, data []byte) (domain.PhotoRef, error) {
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return domain.PhotoRef{}, ErrNotImage
	}

	f, err := os.CreateTemp(s.dir, "web-*.img")
	if err != nil {
		return domain.PhotoRef{}, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return domain.PhotoRef{}, fmt.Errorf("write photo: %w", err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.files[id] = storedPhoto{userID: userID, path: path, mime: mime, size: int64(len(data))}
	s.mu.Unlock()

	return domain.PhotoRef{Source: Source, FileID: id}, nil
}

// Fetch implements engine.PhotoFetcher.
func (s *PhotoStore) Fetch(_ context.Context, ref domain.PhotoRef) (upload.Payload, error) {
	if ref.Source != Source {
		return upload.Payload{}, fmt.Errorf("fetch photo: unexpected source %q", ref.Source)
	}
	s.mu.Lock()
	p, ok := s.files[ref.FileID]
	delete(s.files, ref.FileID)
	s.mu.Unlock()
	if !ok {
		return upload.Payload{}, ErrPhotoNotFound
	}
	return upload.Payload{Path: p.path, Size: p.size, MIMEType: p.mime}, nil
}

// DropUser removes every unfetched photo of userID.
func (s *PhotoStore) DropUser(userID string) int {
	s.mu.Lock()
	var paths []string
	for id, p := range s.files {
		if p.userID == userID {
			paths = append(paths, p.path)
			delete(s.files, id)
		}
	}
	s.mu.Unlock()

	for _, path := range paths {
		os.Remove(path)
	}
	return len(paths)
}

// Len returns the number of unfetched photos.
func (s *PhotoStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
