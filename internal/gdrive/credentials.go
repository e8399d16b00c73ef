package gdrive

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Scopes requested for every credential source.
var Scopes = []string{drive.DriveScope, sheets.SpreadsheetsScope}

// CredentialConfig lists the supported credential sources. The first
// complete source wins: OAuth refresh token, base64 key, then key file.
type CredentialConfig struct {
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	ServiceAccountKey  string // base64-encoded JSON
	ServiceAccountFile string
}

// ErrNoCredentials is returned when no credential source is configured.
var ErrNoCredentials = errors.New("no google credentials configured")

// ClientOptions resolves cfg into API client options.
func ClientOptions(ctx context.Context, cfg CredentialConfig) ([]option.ClientOption, error) {
	if cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.RefreshToken != "" {
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		}
		ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		return []option.ClientOption{option.WithTokenSource(ts)}, nil
	}

	var keyJSON []byte
	switch {
	case cfg.ServiceAccountKey != "":
		decoded, err := base64.StdEncoding.DecodeString(cfg.ServiceAccountKey)
		if err != nil {
			return nil, fmt.Errorf("decode service account key: %w", err)
		}
		keyJSON = decoded
	case cfg.ServiceAccountFile != "":
		data, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		keyJSON = data
	default:
		return nil, ErrNoCredentials
	}

	creds, err := google.CredentialsFromJSON(ctx, keyJSON, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}
