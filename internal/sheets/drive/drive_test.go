package drive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smiledash/internal/sheets"
)

const shareLink = "https://docs.google.com/spreadsheets/d/1iVq7BxrI7HBnjKR_BM9-TvOnYinGeF0a/edit?usp=sharing&ouid=108175523352005481997&rtpof=true&sd=true"

// A zip local-file header is enough to pass content validation.
var fakeXLSX = []byte("PK\x03\x04 fake workbook bytes")

func TestFileID(t *testing.T) {
	cases := []struct {
		name, link, want string
	}{
		{"edit link", shareLink, "1iVq7BxrI7HBnjKR_BM9-TvOnYinGeF0a"},
		{"file view", "https://drive.google.com/file/d/abc123/view", "abc123"},
		{"no trailing path", "https://drive.google.com/file/d/abc123", "abc123"},
		{"query form", "https://drive.google.com/open?id=xyz789", "xyz789"},
		{"query after id", "https://docs.google.com/spreadsheets/d/abc?usp=sharing", "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FileID(tc.link)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFileIDInvalid(t *testing.T) {
	for _, link := range []string{"", "https://example.com/sheet.xlsx", "https://drive.google.com/d/"} {
		_, err := FileID(link)
		var ile *InvalidLinkError
		assert.True(t, errors.As(err, &ile), "link %q", link)
	}
}

func TestDownloadURL(t *testing.T) {
	assert.Equal(t,
		"https://drive.google.com/uc?export=download&id=1iVq7BxrI7HBnjKR_BM9-TvOnYinGeF0a",
		DownloadURL("", "1iVq7BxrI7HBnjKR_BM9-TvOnYinGeF0a"))
}

func TestClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "download", r.URL.Query().Get("export"))
		assert.Equal(t, "1iVq7BxrI7HBnjKR_BM9-TvOnYinGeF0a", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", xlsxMime)
		_, _ = w.Write(fakeXLSX)
	}))
	defer srv.Close()

	c, err := New(shareLink, WithBaseURL(srv.URL+"/uc"))
	require.NoError(t, err)
	assert.Equal(t, "drive:1iVq7BxrI7HBnjKR_BM9-TvOnYinGeF0a", c.Source())

	wb, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fakeXLSX, wb.Data)
	assert.Equal(t, xlsxMime, wb.ContentType)
	assert.False(t, wb.FetchedAt.IsZero())
}

func TestClientFetchFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/uc", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/content", http.StatusSeeOther)
	})
	mux.HandleFunc("/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(fakeXLSX)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(shareLink, WithBaseURL(srv.URL+"/uc"))
	require.NoError(t, err)
	wb, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fakeXLSX, wb.Data)
}

func TestClientFetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>Sign in</body></html>"))
	}))
	defer srv.Close()

	c, err := New(shareLink, WithBaseURL(srv.URL+"/uc"))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background())
	var rce *sheets.RemoteContentError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, "text/html", rce.ContentType)
}

func TestClientFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(shareLink, WithBaseURL(srv.URL+"/uc"))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background())
	var se *sheets.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Error(), "404")
}

func TestClientFetchHTMLWithErrorStatus(t *testing.T) {
	for _, code := range []int{http.StatusForbidden, http.StatusNotFound} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(code)
				_, _ = w.Write([]byte("<!DOCTYPE html><html><body>Access denied</body></html>"))
			}))
			defer srv.Close()

			c, err := New(shareLink, WithBaseURL(srv.URL+"/uc"))
			require.NoError(t, err)
			_, err = c.Fetch(context.Background())

			var rce *sheets.RemoteContentError
			require.True(t, errors.As(err, &rce), "got %v", err)
			assert.Equal(t, code, rce.StatusCode)
			var se *sheets.StatusError
			assert.False(t, errors.As(err, &se))
		})
	}
}

func TestClientFetchTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(fakeXLSX)
	}))
	defer srv.Close()

	c, err := New(shareLink, WithBaseURL(srv.URL+"/uc"), WithMaxBytes(4))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background())
	assert.ErrorContains(t, err, "larger than")
}

func TestClientFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(shareLink, WithBaseURL(srv.URL+"/uc"), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background())
	assert.Error(t, err)
}

func TestNewInvalidLink(t *testing.T) {
	_, err := New("not a link")
	var ile *InvalidLinkError
	assert.True(t, errors.As(err, &ile))
}

func TestAPIClientFetch(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		wantPath string
	}{
		{"uploaded xlsx", xlsxMime, "/files/abc"},
		{"native sheet", nativeSheetMime, "/files/abc/export"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var downloaded string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "secret", r.URL.Query().Get("key"))
				switch {
				case r.URL.Path == "/files/abc" && r.URL.Query().Get("alt") != "media":
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte(`{"id":"abc","name":"Planilha","mimeType":"` + tt.mimeType + `"}`))
				default:
					downloaded = r.URL.Path
					_, _ = w.Write(fakeXLSX)
				}
			}))
			defer srv.Close()

			c, err := NewAPI(context.Background(), "https://drive.google.com/file/d/abc/view",
				WithAPIKey("secret"), WithBaseURL(srv.URL))
			require.NoError(t, err)
			assert.Equal(t, "driveapi:abc", c.Source())

			wb, err := c.Fetch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, fakeXLSX, wb.Data)
			assert.Equal(t, tt.wantPath, downloaded)
		})
	}
}

func TestAPIClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"forbidden"}}`))
	}))
	defer srv.Close()

	c, err := NewAPI(context.Background(), "https://drive.google.com/file/d/abc/view",
		WithAPIKey("secret"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Fetch(context.Background())
	var se *sheets.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
}

func TestNewAPIRequiresKey(t *testing.T) {
	_, err := NewAPI(context.Background(), shareLink)
	assert.ErrorContains(t, err, "API key")
}
