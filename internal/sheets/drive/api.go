package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"

	"smiledash/internal/sheets"
)

const (
	nativeSheetMime = "application/vnd.google-apps.spreadsheet"
	xlsxMime        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// APIClient fetches the workbook through the Drive v3 API using an API key.
// Uploaded .xlsx files are downloaded as-is; native Google Sheets are
// exported to .xlsx.
type APIClient struct {
	svc      *gdrive.Service
	fileID   string
	maxBytes int64
	logger   *slog.Logger
}

// NewAPI creates a Drive API client for the file referenced by link.
func NewAPI(ctx context.Context, link string, opts ...Option) (*APIClient, error) {
	id, err := FileID(link)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	if strings.TrimSpace(o.apiKey) == "" {
		return nil, errors.New("missing drive API key")
	}

	gopts := []goption.ClientOption{goption.WithAPIKey(o.apiKey)}
	if o.baseURL != "" {
		gopts = append(gopts, goption.WithEndpoint(strings.TrimRight(o.baseURL, "/")+"/"))
	}
	svc, err := gdrive.NewService(ctx, gopts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &APIClient{svc: svc, fileID: id, maxBytes: o.maxBytes, logger: o.logger}, nil
}

func (c *APIClient) Source() string { return "driveapi:" + c.fileID }

// Fetch looks up the file type and downloads or exports it accordingly.
func (c *APIClient) Fetch(ctx context.Context) (*sheets.Workbook, error) {
	start := time.Now()

	meta, err := c.svc.Files.Get(c.fileID).
		SupportsAllDrives(true).
		Fields("id", "name", "mimeType", "size").
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapAPIError(err)
	}

	var resp *http.Response
	if meta.MimeType == nativeSheetMime {
		c.logger.Debug("Exporting native spreadsheet", "file", meta.Name)
		resp, err = c.svc.Files.Export(c.fileID, xlsxMime).Context(ctx).Download()
	} else {
		resp, err = c.svc.Files.Get(c.fileID).SupportsAllDrives(true).Context(ctx).Download()
	}
	if err != nil {
		return nil, mapAPIError(err)
	}
	defer resp.Body.Close()

	return readWorkbook(resp, c.maxBytes, c.logger, start)
}

func mapAPIError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &sheets.StatusError{StatusCode: gerr.Code, URL: "drive-api"}
	}
	return fmt.Errorf("drive api: %w", err)
}
