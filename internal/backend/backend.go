// Package backend builds the workbook fetcher selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smiledash/internal/sheets"
	"smiledash/internal/sheets/drive"
	"smiledash/internal/sheets/file"
)

// BackendType represents the type of backend
type BackendType string

const (
	DirectBackend   BackendType = "direct"
	DriveAPIBackend BackendType = "driveapi"
	FileBackend     BackendType = "file"
)

func (bt BackendType) String() string { return string(bt) }

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case DirectBackend, DriveAPIBackend, FileBackend:
		return true
	default:
		return false
	}
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{DirectBackend, DriveAPIBackend, FileBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}

// Config holds what is needed to build any fetcher.
type Config struct {
	Type      BackendType
	DriveLink string
	APIKey    string
	LocalFile string
	Timeout   time.Duration
	MaxBytes  int64
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	switch c.Type {
	case DirectBackend:
		if c.DriveLink == "" {
			return fmt.Errorf("drive link is required for %s backend", c.Type)
		}
		if _, err := drive.FileID(c.DriveLink); err != nil {
			return err
		}
	case DriveAPIBackend:
		if c.DriveLink == "" {
			return fmt.Errorf("drive link is required for %s backend", c.Type)
		}
		if c.APIKey == "" {
			return fmt.Errorf("drive API key is required for %s backend", c.Type)
		}
	case FileBackend:
		if c.LocalFile == "" {
			return fmt.Errorf("local file path is required for %s backend", c.Type)
		}
	}
	return nil
}

// Factory creates fetchers based on configuration
type Factory interface {
	CreateFetcher(ctx context.Context, cfg Config) (sheets.WorkbookFetcher, error)
}

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateFetcher implements Factory.CreateFetcher
func (f *DefaultFactory) CreateFetcher(ctx context.Context, cfg Config) (sheets.WorkbookFetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []drive.Option{drive.WithLogger(f.logger)}
	if cfg.Timeout > 0 {
		opts = append(opts, drive.WithTimeout(cfg.Timeout))
	}
	if cfg.MaxBytes > 0 {
		opts = append(opts, drive.WithMaxBytes(cfg.MaxBytes))
	}

	var (
		fetcher sheets.WorkbookFetcher
		err     error
	)
	switch cfg.Type {
	case DirectBackend:
		fetcher, err = drive.New(cfg.DriveLink, opts...)
	case DriveAPIBackend:
		fetcher, err = drive.NewAPI(ctx, cfg.DriveLink, append(opts, drive.WithAPIKey(cfg.APIKey))...)
	case FileBackend:
		fetcher = file.NewFromPath(cfg.LocalFile)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", cfg.Type, err)
	}

	f.logger.Info("Initialized workbook backend", "backend", cfg.Type, "source", fetcher.Source())
	return fetcher, nil
}
