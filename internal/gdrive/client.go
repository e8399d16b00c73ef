// Package gdrive talks to Google Drive and Google Sheets on behalf of the bot.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ashureev/laporan-bot/internal/report"
	"github.com/ashureev/laporan-bot/internal/shared"
	"github.com/ashureev/laporan-bot/internal/upload"
)

const folderMIMEType = "application/vnd.google-apps.folder"

// Client implements folder management, photo storage and row appends.
type Client struct {
	drive         *drive.Service
	sheets        *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

var _ upload.Storage = (*Client)(nil)

// Config identifies the spreadsheet rows are appended to.
type Config struct {
	SpreadsheetID string
	SheetName     string
}

// New creates a client from API client options, usually produced by ClientOptions.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	sheetsSvc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	sheetName := cfg.SheetName
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	return &Client{
		drive:         driveSvc,
		sheets:        sheetsSvc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		logger:        logger,
	}, nil
}

// CreateFolder creates name under parent and returns its id.
func (c *Client) CreateFolder(ctx context.Context, name, parent string) (string, error) {
	meta := &drive.File{Name: name, MimeType: folderMIMEType}
	if parent != "" {
		meta.Parents = []string{parent}
	}
	f, err := c.drive.Files.Create(meta).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", classify("create folder", err)
	}
	c.logger.Info("folder created", "name", name, "folder_id", f.Id)
	return f.Id, nil
}

// Delete removes a file or folder. A missing target counts as success.
func (c *Client) Delete(ctx context.Context, id string) error {
	err := c.drive.Files.Delete(id).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify("delete", err)
	}
	return nil
}

// Upload stores obj.Body as a new file.
func (c *Client) Upload(ctx context.Context, obj upload.Object) (string, error) {
	meta := &drive.File{Name: obj.Name}
	if obj.Parent != "" {
		meta.Parents = []string{obj.Parent}
	}

	media := []googleapi.MediaOption{}
	if obj.MIMEType != "" {
		media = append(media, googleapi.ContentType(obj.MIMEType))
	}
	if obj.InMemory {
		// A zero chunk size sends the whole body in a single request.
		media = append(media, googleapi.ChunkSize(0))
	}

	f, err := c.drive.Files.Create(meta).
		Media(obj.Body, media...).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", classify("upload", err)
	}
	return f.Id, nil
}

// Move reparents id into parent and renames it.
func (c *Client) Move(ctx context.Context, id, name, parent string) error {
	current, err := c.drive.Files.Get(id).
		SupportsAllDrives(true).
		Fields("parents").
		Context(ctx).
		Do()
	if err != nil {
		return classify("move", err)
	}

	_, err = c.drive.Files.Update(id, &drive.File{Name: name}).
		AddParents(parent).
		RemoveParents(strings.Join(current.Parents, ",")).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return classify("move", err)
	}
	return nil
}

// Copy duplicates id into parent under name.
func (c *Client) Copy(ctx context.Context, id, name, parent string) (string, error) {
	f, err := c.drive.Files.Copy(id, &drive.File{Name: name, Parents: []string{parent}}).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", classify("copy", err)
	}
	return f.Id, nil
}

// TransferOwner makes owner the owner of id.
func (c *Client) TransferOwner(ctx context.Context, id, owner string) error {
	perm := &drive.Permission{Type: "user", Role: "owner", EmailAddress: owner}
	_, err := c.drive.Permissions.Create(id, perm).
		TransferOwnership(true).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return classify("transfer owner", err)
	}
	return nil
}

// AppendRow appends row to the configured sheet using raw input.
func (c *Client) AppendRow(ctx context.Context, row report.Row) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{row.Values()}}
	_, err := c.sheets.Spreadsheets.Values.
		Append(c.spreadsheetID, report.AppendRange(c.sheetName), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return classify("append row", err)
	}
	c.logger.Info("row appended", "spreadsheet_id", c.spreadsheetID, "ticket", row[1])
	return nil
}

// FolderLink returns the browser link for a folder.
func FolderLink(id string) string {
	return "https://drive.google.com/drive/folders/" + id
}

// FolderLink is the method form of the package-level FolderLink.
func (c *Client) FolderLink(id string) string {
	return FolderLink(id)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

var (
	quotaReasons = map[string]bool{
		"storageQuotaExceeded":       true,
		"quotaExceeded":              true,
		"teamDriveFileLimitExceeded": true,
	}
	transientReasons = map[string]bool{
		"rateLimitExceeded":     true,
		"userRateLimitExceeded": true,
		"backendError":          true,
		"internalError":         true,
	}
)

// classify attaches a shared.Kind to a Google API error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if k := shared.KindOf(err); k == shared.KindTransient {
		return shared.Classify(k, op, err)
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return shared.Classify(shared.KindUnknown, op, err)
	}

	for _, item := range gerr.Errors {
		if quotaReasons[item.Reason] {
			return shared.Classify(shared.KindQuota, op, err)
		}
	}
	for _, item := range gerr.Errors {
		if transientReasons[item.Reason] {
			return shared.Classify(shared.KindTransient, op, err)
		}
	}

	switch {
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return shared.Classify(shared.KindTransient, op, err)
	case gerr.Code == http.StatusUnauthorized, gerr.Code == http.StatusForbidden, gerr.Code == http.StatusNotFound:
		return shared.Classify(shared.KindPermission, op, err)
	default:
		return shared.Classify(shared.KindUnknown, op, err)
	}
}
