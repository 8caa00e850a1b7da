// Package drive downloads the dashboard workbook from Google Drive, either
// through the public direct-download link or through the Drive v3 API.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"smiledash/internal/sheets"
)

const (
	// DefaultTimeout bounds a whole download.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxBytes caps the accepted workbook size.
	DefaultMaxBytes int64 = 32 << 20
)

// Ensure interface conformance
var (
	_ sheets.WorkbookFetcher = (*Client)(nil)
	_ sheets.WorkbookFetcher = (*APIClient)(nil)
)

// Client fetches a publicly shared file via the direct-download endpoint.
type Client struct {
	link     string
	fileID   string
	url      string
	http     *http.Client
	maxBytes int64
	logger   *slog.Logger
}

type options struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	maxBytes   int64
	logger     *slog.Logger
	apiKey     string
}

// Option configures a drive client.
type Option func(*options)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithBaseURL points the client at another endpoint (used by tests).
func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = u } }

// WithTimeout sets the overall download timeout.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithMaxBytes caps the accepted payload size.
func WithMaxBytes(n int64) Option { return func(o *options) { o.maxBytes = n } }

// WithLogger sets the logger used for download diagnostics.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithAPIKey sets the key used by the Drive API client.
func WithAPIKey(key string) Option { return func(o *options) { o.apiKey = key } }

func buildOptions(opts []Option) options {
	o := options{timeout: DefaultTimeout, maxBytes: DefaultMaxBytes}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.httpClient == nil {
		o.httpClient = newHTTPClient(o.timeout)
	}
	return o
}

// New creates a direct-download client for a share link.
func New(link string, opts ...Option) (*Client, error) {
	id, err := FileID(link)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Client{
		link:     link,
		fileID:   id,
		url:      DownloadURL(o.baseURL, id),
		http:     o.httpClient,
		maxBytes: o.maxBytes,
		logger:   o.logger,
	}, nil
}

// newHTTPClient creates a client with connection pooling and bounded timeouts.
func newHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// FileID returns the id parsed from the share link.
func (c *Client) FileID() string { return c.fileID }

// URL returns the resolved download URL.
func (c *Client) URL() string { return c.url }

func (c *Client) Source() string { return "drive:" + c.fileID }

// Fetch downloads the workbook, following redirects.
func (c *Client) Fetch(ctx context.Context) (*sheets.Workbook, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet, */*")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", c.fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp, c.url)
	}

	return readWorkbook(resp, c.maxBytes, c.logger, start)
}

// statusError classifies a non-2xx answer. Drive serves its sign-in and
// access-denied pages with 4xx codes; those are reported as HTML content.
func statusError(resp *http.Response, url string) error {
	head, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err := sheets.ValidateContent(head, resp.Header.Get("Content-Type")); err != nil {
		var rce *sheets.RemoteContentError
		if errors.As(err, &rce) {
			rce.StatusCode = resp.StatusCode
		}
		return err
	}
	return &sheets.StatusError{StatusCode: resp.StatusCode, URL: url}
}

func readWorkbook(resp *http.Response, maxBytes int64, logger *slog.Logger, start time.Time) (*sheets.Workbook, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("workbook larger than %d bytes", maxBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if err := sheets.ValidateContent(data, contentType); err != nil {
		return nil, err
	}

	logger.Debug("Workbook downloaded",
		"bytes", len(data),
		"content_type", contentType,
		"duration_ms", time.Since(start).Milliseconds())

	return &sheets.Workbook{Data: data, ContentType: contentType, FetchedAt: time.Now()}, nil
}
