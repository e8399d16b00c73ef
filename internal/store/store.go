// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/laporan-bot/internal/domain"
)

// ErrFolderImmutable is returned when a patch would change an already set folder.
var ErrFolderImmutable = errors.New("store: report folder cannot be changed once set")

// SessionStore defines the interface for persisting report sessions.
type SessionStore interface {
	// Create stores a fresh session for userID, replacing any existing one.
	Create(ctx context.Context, userID string) (*domain.Session, error)

	// Get returns a copy of the session for userID. ok is false when none exists.
	Get(ctx context.Context, userID string) (s *domain.Session, ok bool, err error)

	// Update applies p to the session for userID.
	// It returns false, nil when no session exists.
	Update(ctx context.Context, userID string, p Patch) (bool, error)

	// End removes the session for userID. It returns false when it was already gone.
	End(ctx context.Context, userID string) (bool, error)

	// Expired returns copies of sessions that have not been updated within idle.
	Expired(ctx context.Context, idle time.Duration) ([]*domain.Session, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Patch is a partial session update. Nil pointers and nil collections are left
// untouched; non-nil collections replace the stored value wholesale.
type Patch struct {
	State        *domain.State
	ReportType   *domain.ReportType
	TicketID     *string
	FolderID     *string
	Fields       domain.Fields
	Photos       []domain.Photo
	UploadMode   *domain.UploadMode
	PendingPhoto *domain.PhotoRef
	ClearPending bool
	ReportedAt   *time.Time
}

// Apply writes p onto s and stamps UpdatedAt.
func (p Patch) Apply(s *domain.Session, now time.Time) error {
	if p.FolderID != nil && s.FolderID != "" && *p.FolderID != s.FolderID {
		return ErrFolderImmutable
	}

	if p.State != nil {
		s.State = *p.State
	}
	if p.ReportType != nil {
		s.ReportType = *p.ReportType
	}
	if p.TicketID != nil {
		s.TicketID = *p.TicketID
	}
	if p.FolderID != nil {
		s.FolderID = *p.FolderID
	}
	if p.Fields != nil {
		s.Fields = p.Fields.Clone()
	}
	if p.Photos != nil {
		s.Photos = append([]domain.Photo(nil), p.Photos...)
	}
	if p.UploadMode != nil {
		s.UploadMode = *p.UploadMode
	}
	switch {
	case p.ClearPending:
		s.PendingPhoto = nil
	case p.PendingPhoto != nil:
		ref := *p.PendingPhoto
		s.PendingPhoto = &ref
	}
	if p.ReportedAt != nil {
		s.ReportedAt = *p.ReportedAt
	}
	s.UpdatedAt = now
	return nil
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
