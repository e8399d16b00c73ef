// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    slog.Level

	Telegram TelegramConfig
	Google   GoogleConfig
	Session  SessionConfig
	Upload   UploadConfig

	WebchatEnabled bool
	// ExternalCallTimeout bounds each Drive, Sheets or Telegram call.
	ExternalCallTimeout time.Duration
}

// TelegramConfig configures the bot transport. An empty WebhookURL
// selects long polling.
type TelegramConfig struct {
	Token         string
	WebhookURL    string
	WebhookSecret string
}

// GoogleConfig configures Drive and Sheets access.
type GoogleConfig struct {
	SpreadsheetID      string
	SheetName          string
	ParentFolderID     string
	OwnerEmail         string
	ServiceAccountKey  string
	ServiceAccountFile string
	ClientID           string
	ClientSecret       string
	RefreshToken       string
}

// SessionConfig configures conversation state storage and expiry.
type SessionConfig struct {
	Backend       string
	DBPath        string
	TTL           time.Duration
	SweepInterval time.Duration
}

// UploadConfig configures photo handling.
type UploadConfig struct {
	InMemoryMaxBytes int64
	TempDir          string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Telegram: TelegramConfig{
			Token:         getEnv("BOT_TOKEN", ""),
			WebhookURL:    getEnv("WEBHOOK_URL", ""),
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		},
		Google: GoogleConfig{
			SpreadsheetID:      getEnv("SPREADSHEET_ID", ""),
			SheetName:          getEnv("SHEET_NAME", "Sheet1"),
			ParentFolderID:     getEnv("DRIVE_PARENT_FOLDER_ID", ""),
			OwnerEmail:         getEnv("DRIVE_OWNER_EMAIL", ""),
			ServiceAccountKey:  getEnv("GOOGLE_SERVICE_ACCOUNT_KEY", ""),
			ServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", "service-account.json"),
			ClientID:           getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret:       getEnv("GOOGLE_CLIENT_SECRET", ""),
			RefreshToken:       getEnv("GOOGLE_REFRESH_TOKEN", ""),
		},
		Session: SessionConfig{
			Backend:       strings.ToLower(getEnv("SESSION_BACKEND", BackendSQLite)),
			DBPath:        getEnv("DB_PATH", "./data/laporan.db"),
			TTL:           getEnvDuration("SESSION_TTL", 60*time.Minute),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		},
		Upload: UploadConfig{
			InMemoryMaxBytes: int64(getEnvInt("UPLOAD_INMEMORY_MAX_BYTES", 10<<20)),
			TempDir:          getEnv("TEMP_DIR", ""),
		},
		WebchatEnabled:      getEnvBool("WEBCHAT_ENABLED", true),
		ExternalCallTimeout: getEnvDuration("EXTERNAL_CALL_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"BOT_TOKEN":              c.Telegram.Token,
		"SPREADSHEET_ID":         c.Google.SpreadsheetID,
		"DRIVE_PARENT_FOLDER_ID": c.Google.ParentFolderID,
		"DRIVE_OWNER_EMAIL":      c.Google.OwnerEmail,
	}
	for _, key := range []string{"BOT_TOKEN", "SPREADSHEET_ID", "DRIVE_PARENT_FOLDER_ID", "DRIVE_OWNER_EMAIL"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.Google.SheetName == "" {
		errs = append(errs, errors.New("SHEET_NAME cannot be empty"))
	}
	switch c.Session.Backend {
	case BackendSQLite:
		if c.Session.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH cannot be empty for the sqlite backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q", BackendSQLite, BackendMemory, c.Session.Backend))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be > 0"))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be > 0"))
	}
	if c.ExternalCallTimeout <= 0 {
		errs = append(errs, errors.New("EXTERNAL_CALL_TIMEOUT must be > 0"))
	}
	if c.Upload.InMemoryMaxBytes < 0 {
		errs = append(errs, errors.New("UPLOAD_INMEMORY_MAX_BYTES must be >= 0"))
	}
	if c.Telegram.WebhookURL != "" && !strings.HasPrefix(c.Telegram.WebhookURL, "https://") {
		errs = append(errs, errors.New("WEBHOOK_URL must use https"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// UsePolling reports whether updates are fetched with long polling.
func (c *Config) UsePolling() bool {
	return c.Telegram.WebhookURL == ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
