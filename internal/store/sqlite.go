package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/laporan-bot/internal/domain"
	"github.com/ashureev/laporan-bot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore using SQLite so sessions survive restarts.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serialises writers to avoid SQLITE_BUSY under WAL
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed session store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS report_sessions (
		user_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		report_type TEXT NOT NULL DEFAULT '',
		ticket_id TEXT NOT NULL DEFAULT '',
		folder_id TEXT NOT NULL DEFAULT '',
		fields_json TEXT NOT NULL DEFAULT '{}',
		photos_json TEXT NOT NULL DEFAULT '[]',
		upload_mode TEXT NOT NULL DEFAULT '',
		pending_json TEXT,
		reported_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_report_sessions_updated ON report_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const sessionColumns = `user_id, state, report_type, ticket_id, folder_id,
	fields_json, photos_json, upload_mode, pending_json, reported_at, created_at, updated_at`

// Create stores a fresh session, replacing any existing row for the user.
func (s *SQLiteStore) Create(ctx context.Context, userID string) (*domain.Session, error) {
	sess := domain.NewSession(userID, s.now())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := shared.WithBusyRetry(ctx, "create session", func() error {
		return s.upsert(ctx, s.db, sess)
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Get retrieves the session for a user.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*domain.Session, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM report_sessions WHERE user_id = ?`, userID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get session: %w", err)
	}
	return sess, true, nil
}

// Update applies a patch inside a transaction.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) Update(ctx context.Context, userID string, p Patch) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var found bool
	err := shared.WithBusyRetry(ctx, "update session", func() error {
		var err error
		found, err = s.updateOnce(ctx, userID, p)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrFolderImmutable) {
			return found, err
		}
		return found, fmt.Errorf("update session for %s: %w", userID, err)
	}
	return found, nil
}

func (s *SQLiteStore) updateOnce(ctx context.Context, userID string, p Patch) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back session update", "user_id", userID, "error", rbErr)
		}
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM report_sessions WHERE user_id = ?`, userID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session: %w", err)
	}

	if err := p.Apply(sess, s.now()); err != nil {
		return true, err
	}
	if err := s.upsert(ctx, tx, sess); err != nil {
		return true, err
	}
	if err := tx.Commit(); err != nil {
		return true, fmt.Errorf("commit session update: %w", err)
	}
	return true, nil
}

// End removes the session row.
func (s *SQLiteStore) End(ctx context.Context, userID string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rows int64
	err := shared.WithBusyRetry(ctx, "end session", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM report_sessions WHERE user_id = ?`, userID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	if rows == 0 {
		slog.Debug("End affected 0 rows", "user_id", userID)
	}
	return rows > 0, nil
}

// Expired retrieves sessions whose last update is older than idle.
func (s *SQLiteStore) Expired(ctx context.Context, idle time.Duration) ([]*domain.Session, error) {
	threshold := s.now().Add(-idle).Unix()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM report_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return sessions, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) upsert(ctx context.Context, db execer, sess *domain.Session) error {
	fieldsJSON, err := json.Marshal(sess.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	photos := sess.Photos
	if photos == nil {
		photos = []domain.Photo{}
	}
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return fmt.Errorf("encode photos: %w", err)
	}

	var pendingJSON any
	if sess.PendingPhoto != nil {
		b, err := json.Marshal(sess.PendingPhoto)
		if err != nil {
			return fmt.Errorf("encode pending photo: %w", err)
		}
		pendingJSON = string(b)
	}

	var reportedAt any
	if !sess.ReportedAt.IsZero() {
		reportedAt = sess.ReportedAt.Unix()
	}

	query := `
	INSERT INTO report_sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		state = excluded.state,
		report_type = excluded.report_type,
		ticket_id = excluded.ticket_id,
		folder_id = excluded.folder_id,
		fields_json = excluded.fields_json,
		photos_json = excluded.photos_json,
		upload_mode = excluded.upload_mode,
		pending_json = excluded.pending_json,
		reported_at = excluded.reported_at,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`

	_, err = db.ExecContext(ctx, query,
		sess.UserID, string(sess.State), string(sess.ReportType), sess.TicketID, sess.FolderID,
		string(fieldsJSON), string(photosJSON), string(sess.UploadMode), pendingJSON, reportedAt,
		sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		sess                   domain.Session
		state, reportType      string
		uploadMode             string
		fieldsJSON, photosJSON string
		pendingJSON            sql.NullString
		reportedAt             sql.NullInt64
		createdAt, updatedAt   int64
	)

	if err := row.Scan(
		&sess.UserID, &state, &reportType, &sess.TicketID, &sess.FolderID,
		&fieldsJSON, &photosJSON, &uploadMode, &pendingJSON, &reportedAt,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	sess.State = domain.State(state)
	sess.ReportType = domain.ReportType(reportType)
	sess.UploadMode = domain.UploadMode(uploadMode)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	if reportedAt.Valid {
		sess.ReportedAt = time.Unix(reportedAt.Int64, 0)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &sess.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if sess.Fields == nil {
		sess.Fields = domain.Fields{}
	}
	if err := json.Unmarshal([]byte(photosJSON), &sess.Photos); err != nil {
		return nil, fmt.Errorf("decode photos: %w", err)
	}
	if len(sess.Photos) == 0 {
		sess.Photos = nil
	}
	if pendingJSON.Valid {
		var ref domain.PhotoRef
		if err := json.Unmarshal([]byte(pendingJSON.String), &ref); err != nil {
			return nil, fmt.Errorf("decode pending photo: %w", err)
		}
		sess.PendingPhoto = &ref
	}

	return &sess, nil
}
