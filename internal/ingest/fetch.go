package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"time"
)

// Source is either inline bytes or a URI to load them from.
type Source struct {
	Data     []byte
	URI      string
	Filename string
}

func (s Source) name() string {
	if s.Filename != "" {
		return s.Filename
	}
	if s.URI == "" {
		return ""
	}
	if u, err := url.Parse(s.URI); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(s.URI)
}

var (
	driveFilePattern   = regexp.MustCompile(`/d/([^/]+)`)
	driveFolderPattern = regexp.MustCompile(`/folders/([^/?]+)`)
	driveIDPattern     = regexp.MustCompile(`[?&]id=([^&]+)`)
)

// DriveFileID extracts the file or folder id from a Google Drive link.
func DriveFileID(link string) string {
	if !strings.Contains(link, "drive.google.com") && !strings.Contains(link, "docs.google.com") {
		return ""
	}
	for _, re := range []*regexp.Regexp{driveFilePattern, driveFolderPattern, driveIDPattern} {
		if m := re.FindStringSubmatch(link); m != nil {
			return m[1]
		}
	}
	return ""
}

// normalizeURI rewrites Drive share links into direct downloads.
func normalizeURI(uri string) string {
	if id := DriveFileID(uri); id != "" && !strings.Contains(uri, "/folders/") {
		return "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(id)
	}
	return uri
}

// Fetcher loads recordings from local paths, file:// and http(s):// URIs.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	uri = normalizeURI(uri)
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse uri: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return f.download(ctx, uri)
	case "file":
		return f.readFile(u.Path)
	case "":
		return f.readFile(uri)
	default:
		return nil, fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
}

func (f *Fetcher) readFile(p string) ([]byte, error) {
	fd, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	return f.readLimited(fd)
}

func (f *Fetcher) download(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("download failed: %s: %s", resp.Status, string(b))
	}
	return f.readLimited(resp.Body)
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > f.maxBytes {
		return nil, fmt.Errorf("recording larger than %d bytes", f.maxBytes)
	}
	return b, nil
}
