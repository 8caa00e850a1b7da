// Package sheets defines how workbook bytes are obtained and validated.
// Adapters live in sub-packages: drive (public share link and Drive API)
// and file (local workbook on disk).
package sheets

import (
	"context"
	"time"
)

// Ports for outbound adapters.
type (
	// WorkbookFetcher downloads the current spreadsheet as .xlsx bytes.
	WorkbookFetcher interface {
		Fetch(ctx context.Context) (*Workbook, error)
		// Source describes where the workbook comes from, for logs and the UI.
		Source() string
	}
)

// Workbook is the raw payload of one fetch.
type Workbook struct {
	Data        []byte
	ContentType string
	FetchedAt   time.Time
}
