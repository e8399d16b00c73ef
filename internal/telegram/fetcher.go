package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ashureev/laporan-bot/internal/domain"
	"github.com/ashureev/laporan-bot/internal/shared"
	"github.com/ashureev/laporan-bot/internal/upload"
)

// Bot API downloads are capped at 20 MB.
const DefaultMaxDownload = 20 << 20

// ErrTooLarge is returned when a photo exceeds the download limit.
var ErrTooLarge = errors.New("photo exceeds download limit")

// FileLocator resolves a file id to a download URL.
type FileLocator interface {
	GetFileDirectURL(fileID string) (string, error)
}

// Fetcher downloads Telegram photos into a local directory.
type Fetcher struct {
	files    FileLocator
	client   *http.Client
	dir      string
	maxBytes int64
}

// NewFetcher creates a Fetcher writing into dir ("" uses os.TempDir).
func NewFetcher(files FileLocator, client *http.Client, dir string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{files: files, client: client, dir: dir, maxBytes: DefaultMaxDownload}
}

// Fetch downloads ref. The caller owns the returned file.
func (f *Fetcher) Fetch(ctx context.Context, ref domain.PhotoRef) (upload.Payload, error) {
	if ref.Source != Source {
		return upload.Payload{}, fmt.Errorf("fetch photo: unexpected source %q", ref.Source)
	}

	// The URL embeds the bot token and is never logged.
	link, err := f.files.GetFileDirectURL(ref.FileID)
	if err != nil {
		return upload.Payload{}, shared.Classify(shared.KindTransient, "telegram.getFile", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return upload.Payload{}, fmt.Errorf("build download request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		// *url.Error would carry the tokenized URL.
		return upload.Payload{}, shared.Classify(shared.KindTransient, "telegram.download", errors.New("download failed"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := shared.KindUnknown
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = shared.KindTransient
		}
		return upload.Payload{}, shared.Classify(kind, "telegram.download", fmt.Errorf("status %d", resp.StatusCode))
	}

	return save(f.dir, "tg-*.jpg", resp.Body, f.maxBytes)
}

// save copies r into a new temp file in dir and sniffs its MIME type.
func save(dir, pattern string, r io.Reader, maxBytes int64) (upload.Payload, error) {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return upload.Payload{}, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		tmp.Close()
		os.Remove(path)
		return upload.Payload{}, fmt.Errorf("read photo: %w", err)
	}
	head = head[:n]

	body := io.MultiReader(bytes.NewReader(head), r)
	size, err := io.Copy(tmp, io.LimitReader(body, maxBytes+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return upload.Payload{}, fmt.Errorf("write photo: %w", err)
	}
	if size > maxBytes {
		os.Remove(path)
		return upload.Payload{}, ErrTooLarge
	}
	if size == 0 {
		os.Remove(path)
		return upload.Payload{}, errors.New("empty photo")
	}

	return upload.Payload{Path: path, Size: size, MIMEType: mimeType(head)}, nil
}

func mimeType(head []byte) string {
	ct := http.DetectContentType(head)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}
