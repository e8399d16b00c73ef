// Package domain contains the core report and session types.
package domain

import (
	"strings"
	"time"
)

// State is a position in the report conversation.
type State string

const (
	StateSelectType     State = "SELECT_TYPE"
	StateInputID        State = "INPUT_ID"
	StateInputData      State = "INPUT_DATA"
	StateConfirm        State = "CONFIRM"
	StateUploadPhoto    State = "UPLOAD_PHOTO"
	StateInputPhotoDesc State = "INPUT_PHOTO_DESC"
	StateEnd            State = "END"
)

// ReportType is the report category chosen at the start of a conversation.
type ReportType string

const (
	ReportNonB2B ReportType = "Non B2B"
	ReportBGES   ReportType = "BGES"
	ReportSquad  ReportType = "Squad"
)

// ReportTypes lists the selectable categories in display order.
var ReportTypes = []ReportType{ReportNonB2B, ReportBGES, ReportSquad}

// ParseReportType matches a label exactly against the known categories.
func ParseReportType(label string) (ReportType, bool) {
	for _, t := range ReportTypes {
		if string(t) == label {
			return t, true
		}
	}
	return "", false
}

// UploadMode is the photo naming mode active inside the upload sub-flow.
type UploadMode string

const (
	UploadModeNone     UploadMode = ""
	UploadModeSingle   UploadMode = "single"
	UploadModeMultiple UploadMode = "multiple"
)

// Required report field labels, in form order.
const (
	FieldCustomerName = "Customer Name"
	FieldServiceNo    = "Service No"
	FieldSegment      = "Segment"
	FieldTechnician1  = "Teknisi 1"
	FieldTechnician2  = "Teknisi 2"
	FieldSTO          = "STO"
	FieldValinsID     = "Valins ID"
)

// RequiredFields is the closed set of labels a report must fill.
var RequiredFields = []string{
	FieldCustomerName,
	FieldServiceNo,
	FieldSegment,
	FieldTechnician1,
	FieldTechnician2,
	FieldSTO,
	FieldValinsID,
}

// Fields maps a required label to its collected value.
type Fields map[string]string

// Missing returns the required labels that are absent or blank, in form order.
func (f Fields) Missing() []string {
	var missing []string
	for _, label := range RequiredFields {
		if strings.TrimSpace(f[label]) == "" {
			missing = append(missing, label)
		}
	}
	return missing
}

// Complete reports whether every required label has a value.
func (f Fields) Complete() bool {
	return len(f.Missing()) == 0
}

// Merge returns a copy of f with every non-blank value from update applied.
func (f Fields) Merge(update Fields) Fields {
	merged := f.Clone()
	if merged == nil {
		merged = make(Fields, len(update))
	}
	for k, v := range update {
		if strings.TrimSpace(v) == "" {
			continue
		}
		merged[k] = v
	}
	return merged
}

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Photo is an uploaded evidence artifact.
type Photo struct {
	ArtifactID string `json:"id"`
	Name       string `json:"name"`
}

// PhotoRef points at a photo still held by the transport that received it.
type PhotoRef struct {
	Source string `json:"source"`
	FileID string `json:"file_id"`
}

// ReportedLayout is the layout of Session.ReportedAt as written to the sheet.
const ReportedLayout = "02/01/2006 15:04"

// Session is one user's report in progress.
type Session struct {
	UserID       string
	State        State
	ReportType   ReportType
	TicketID     string
	FolderID     string
	Fields       Fields
	Photos       []Photo
	UploadMode   UploadMode
	PendingPhoto *PhotoRef
	ReportedAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewSession returns a fresh session positioned at type selection.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		State:     StateSelectType,
		Fields:    Fields{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers never share mutable state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = s.Fields.Clone()
	if s.Photos != nil {
		c.Photos = append([]Photo(nil), s.Photos...)
	}
	if s.PendingPhoto != nil {
		ref := *s.PendingPhoto
		c.PendingPhoto = &ref
	}
	return &c
}

// IdleFor returns how long the session has gone without an update.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}
