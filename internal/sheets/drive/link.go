package drive

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultDownloadBase is the public direct-download endpoint.
const DefaultDownloadBase = "https://drive.google.com/uc"

// InvalidLinkError means no file id could be found in a share link.
type InvalidLinkError struct {
	Link string
}

func (e *InvalidLinkError) Error() string {
	return fmt.Sprintf("invalid drive link %q: expected .../d/<id>/... or ?id=<id>", e.Link)
}

// FileID extracts the file id from a share link. Both the path form
// ("/d/<id>/edit") and the query form ("open?id=<id>") are accepted.
func FileID(link string) (string, error) {
	link = strings.TrimSpace(link)
	if _, rest, ok := strings.Cut(link, "/d/"); ok {
		id, _, _ := strings.Cut(rest, "/")
		id, _, _ = strings.Cut(id, "?")
		if id != "" {
			return id, nil
		}
	}
	if u, err := url.Parse(link); err == nil {
		if id := u.Query().Get("id"); id != "" {
			return id, nil
		}
	}
	return "", &InvalidLinkError{Link: link}
}

// DownloadURL builds the direct-download URL for a file id.
func DownloadURL(base, id string) string {
	if base == "" {
		base = DefaultDownloadBase
	}
	q := url.Values{"export": {"download"}, "id": {id}}
	return base + "?" + q.Encode()
}
