package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"vidrender/internal/adapters/storage/gdrive"
	"vidrender/internal/adapters/storage/localfs"
	"vidrender/internal/config"
)

// NewProvider builds the configured archive store. It returns (nil, nil) when
// archiving is disabled.
func NewProvider(ctx context.Context, cfg config.ArchiveConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil

	case "localfs":
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return newGDriveProvider(ctx, cfg)

	default:
		return nil, fmt.Errorf("unknown archive provider: %s", cfg.Provider)
	}
}

// GDriveOAuthConfig is the OAuth client used both by the archive provider and
// by cmd/gdrive-auth when it mints the refresh token. The drive.file scope
// only grants access to files the service created itself.
func GDriveOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  redirectURL,
	}
}

func newGDriveProvider(ctx context.Context, cfg config.ArchiveConfig) (Provider, error) {
	conf := GDriveOAuthConfig(cfg.GDriveClientID, cfg.GDriveClientSecret, "")

	tok := &oauth2.Token{RefreshToken: cfg.GDriveRefreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return gdrive.NewClient(srv, cfg.GDriveFolderID), nil
}
