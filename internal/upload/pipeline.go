// Package upload moves evidence photos into a report folder, falling back
// through alternative upload strategies when storage refuses a request.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/laporan-bot/internal/metrics"
	"github.com/ashureev/laporan-bot/internal/shared"
)

// ErrUploadFailed is matched by every exhaustion error the pipeline returns.
var ErrUploadFailed = errors.New("upload failed")

// Object is one upload request to storage. An empty Parent means the uploader's root.
type Object struct {
	Name     string
	Parent   string
	Body     io.Reader
	Size     int64
	MIMEType string
	InMemory bool
}

// Storage is the file store the pipeline writes to.
// Implementations return errors classified with shared.Classify.
type Storage interface {
	Upload(ctx context.Context, obj Object) (string, error)
	Move(ctx context.Context, id, name, parent string) error
	Copy(ctx context.Context, id, name, parent string) (string, error)
	TransferOwner(ctx context.Context, id, owner string) error
	Delete(ctx context.Context, id string) error
}

// Payload is a photo held on local disk.
type Payload struct {
	Path     string
	Size     int64
	MIMEType string
}

// Request asks for Payload to land in FolderID under Name.
type Request struct {
	Payload  Payload
	Name     string
	FolderID string
}

// Attempt records one strategy execution.
type Attempt struct {
	Strategy StrategyID
	Kind     shared.Kind
	Err      error
}

// Result describes a successful upload.
type Result struct {
	ArtifactID           string
	Name                 string
	Strategy             StrategyID
	Attempts             []Attempt
	OwnershipTransferred bool
}

// ExhaustedError is returned when no strategy produced an artifact.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "upload failed: no eligible strategy"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("upload failed after %d attempts, last %s (%s): %v",
		len(e.Attempts), last.Strategy, last.Kind, last.Err)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrUploadFailed }

func (e *ExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Config tunes the pipeline.
type Config struct {
	// Owner receives ownership of delegated uploads. Empty disables delegation.
	Owner string
	// InMemoryMaxBytes caps payloads eligible for the in-memory strategy.
	InMemoryMaxBytes int64
	// AttemptTimeout bounds every storage call.
	AttemptTimeout time.Duration
	// CleanupTimeout bounds deletion of intermediate artifacts.
	CleanupTimeout time.Duration
}

// Pipeline uploads payloads through the strategy table.
type Pipeline struct {
	storage  Storage
	cfg      Config
	table    []strategy
	logger   *slog.Logger
	recorder metrics.Recorder
	newID    func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// NewPipeline creates a pipeline writing to storage.
func NewPipeline(storage Storage, cfg Config, opts ...Option) *Pipeline {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 15 * time.Second
	}
	p := &Pipeline{
		storage:  storage,
		cfg:      cfg,
		table:    defaultTable(),
		logger:   slog.Default(),
		recorder: metrics.Nop{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Upload walks the strategy table until one produces an artifact in req.FolderID.
func (p *Pipeline) Upload(ctx context.Context, req Request) (Result, error) {
	var attempts []Attempt
	retried := false

	for i := 0; i < len(p.table); {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Strategy: p.table[i].id, Kind: shared.KindOf(err), Err: err})
			return Result{}, &ExhaustedError{Attempts: attempts}
		}

		s := p.table[i]
		if !s.eligible(p.cfg, req.Payload) {
			i++
			continue
		}

		start := time.Now()
		id, transferred, err := s.run(ctx, p, req)
		if err == nil {
			p.recorder.ObserveUploadAttempt(string(s.id), "success", time.Since(start))
			attempts = append(attempts, Attempt{Strategy: s.id})
			p.logger.Info("photo uploaded",
				"name", req.Name,
				"strategy", s.id,
				"attempts", len(attempts))
			return Result{
				ArtifactID:           id,
				Name:                 req.Name,
				Strategy:             s.id,
				Attempts:             attempts,
				OwnershipTransferred: transferred,
			}, nil
		}

		kind := shared.KindOf(err)
		p.recorder.ObserveUploadAttempt(string(s.id), kind.String(), time.Since(start))
		attempts = append(attempts, Attempt{Strategy: s.id, Kind: kind, Err: err})

		action := Decide(kind, retried)
		p.logger.Warn("upload strategy failed",
			"name", req.Name,
			"strategy", s.id,
			"kind", kind.String(),
			"action", action.String(),
			"error", err)

		switch action {
		case ActionRetry:
			retried = true
		case ActionStop:
			return Result{}, &ExhaustedError{Attempts: attempts}
		case ActionNextShape:
			i = p.nextShape(i)
			retried = false
		default:
			i++
			retried = false
		}
	}

	return Result{}, &ExhaustedError{Attempts: attempts}
}

func (p *Pipeline) nextShape(i int) int {
	shape := p.table[i].shape
	for j := i + 1; j < len(p.table); j++ {
		if p.table[j].shape != shape {
			return j
		}
	}
	return len(p.table)
}

func (p *Pipeline) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.AttemptTimeout)
}

// discard deletes an intermediate artifact even after ctx is done.
func (p *Pipeline) discard(ctx context.Context, id string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CleanupTimeout)
	defer cancel()
	if err := p.storage.Delete(cctx, id); err != nil {
		p.logger.Warn("failed to delete staged artifact", "artifact_id", id, "error", err)
	}
}

func (p *Pipeline) uploadFile(ctx context.Context, req Request, name, parent string) (string, error) {
	f, err := os.Open(req.Payload.Path)
	if err != nil {
		return "", fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	cctx, cancel := p.call(ctx)
	defer cancel()
	return p.storage.Upload(cctx, Object{
		Name:     name,
		Parent:   parent,
		Body:     f,
		Size:     req.Payload.Size,
		MIMEType: req.Payload.MIMEType,
	})
}

func (p *Pipeline) uploadInMemory(ctx context.Context, req Request) (string, error) {
	data, err := os.ReadFile(req.Payload.Path)
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}

	cctx, cancel := p.call(ctx)
	defer cancel()
	return p.storage.Upload(cctx, Object{
		Name:     req.Name,
		Parent:   req.FolderID,
		Body:     bytes.NewReader(data),
		Size:     int64(len(data)),
		MIMEType: req.Payload.MIMEType,
		InMemory: true,
	})
}

func (p *Pipeline) transfer(ctx context.Context, id string) bool {
	cctx, cancel := p.call(ctx)
	defer cancel()
	if err := p.storage.TransferOwner(cctx, id, p.cfg.Owner); err != nil {
		p.logger.Warn("ownership transfer failed, keeping uploader as owner",
			"artifact_id", id,
			"owner", p.cfg.Owner,
			"error", err)
		return false
	}
	return true
}

func (p *Pipeline) stageAndRelocate(ctx context.Context, req Request) (string, error) {
	staged := "staging_" + p.newID() + "_" + req.Name
	id, err := p.uploadFile(ctx, req, staged, "")
	if err != nil {
		return "", err
	}

	mctx, cancel := p.call(ctx)
	moveErr := p.storage.Move(mctx, id, req.Name, req.FolderID)
	cancel()
	if moveErr == nil {
		return id, nil
	}
	p.logger.Warn("relocating staged upload failed, copying instead",
		"artifact_id", id,
		"error", moveErr)

	cctx, cancel := p.call(ctx)
	copyID, err := p.storage.Copy(cctx, id, req.Name, req.FolderID)
	cancel()
	p.discard(ctx, id)
	if err != nil {
		return "", err
	}
	return copyID, nil
}
