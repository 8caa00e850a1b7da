package sheets

import (
	"bytes"
	"fmt"
	"net/http"
)

// htmlSniffLen is how many leading bytes are inspected for an HTML page.
const htmlSniffLen = 15

var htmlPrefix = []byte("<!doctype html")

// RemoteContentError is returned when the remote end served a web page
// (typically a login or virus-scan interstitial) instead of a spreadsheet.
// StatusCode is set when the page came with a non-2xx status.
type RemoteContentError struct {
	ContentType string
	Snippet     string
	StatusCode  int
}

func (e *RemoteContentError) Error() string {
	return "the file link returned an HTML page instead of a spreadsheet; make sure the file is shared publicly"
}

// StatusError is a non-2xx answer from the remote end.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download failed: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ValidateContent rejects HTML pages. Any other bytes pass, including none;
// the workbook parser reports those.
func ValidateContent(data []byte, contentType string) error {
	head := data[:min(len(data), htmlSniffLen)]
	if bytes.HasPrefix(bytes.ToLower(head), htmlPrefix) {
		snippet := data[:min(len(data), 200)]
		return &RemoteContentError{ContentType: contentType, Snippet: string(snippet)}
	}
	return nil
}
