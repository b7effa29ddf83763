package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

var skipPrefixes = []string{"about:", "moz-extension:", "chrome-extension:", "file:", "chrome:", "resource:", "data:"}

const maxPageBytes = 16 << 20

// HTTPSource polls a URL and returns its HTML on every snapshot.
type HTTPSource struct {
	url    string
	client *http.Client

	mu    sync.Mutex
	final string // URL the last fetch landed on after redirects
}

// NewHTTPSource returns a source for url. Non-HTTP URLs are rejected.
func NewHTTPSource(url string) (*HTTPSource, error) {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(url, prefix) {
			return nil, fmt.Errorf("skipping non-HTTP URL: %s", url)
		}
	}
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		final:  url,
	}, nil
}

// URL returns where the last successful fetch landed, so a redirecting page
// reports the same URL as its snapshots.
func (s *HTTPSource) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// Mutations is nil: an HTTP document is only re-read on the fallback cadence.
func (s *HTTPSource) Mutations() <-chan struct{} { return nil }

// Snapshot fetches the document.
func (s *HTTPSource) Snapshot(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	resp, err := s.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Snapshot{}, fmt.Errorf("fetch %s: HTTP %d", s.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", s.url, err)
	}
	// Redirects may land on a different view; report the final URL.
	final := resp.Request.URL.String()
	s.mu.Lock()
	s.final = final
	s.mu.Unlock()
	return Snapshot{URL: final, HTML: string(body)}, nil
}

// FileSource reads a saved HTML document (optionally lz4-compressed when the
// name ends in .lz4) on every snapshot. The URL is fixed since a file has none.
type FileSource struct {
	path string
	url  string
}

func NewFileSource(path, url string) *FileSource {
	return &FileSource{path: path, url: url}
}

func (s *FileSource) URL() string { return s.url }

func (s *FileSource) Mutations() <-chan struct{} { return nil }

func (s *FileSource) Snapshot(ctx context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	html := string(data)
	if strings.HasSuffix(s.path, ".lz4") {
		html, err = decompress(data)
		if err != nil {
			return Snapshot{}, fmt.Errorf("read %s: %w", s.path, err)
		}
	}
	return Snapshot{URL: s.url, HTML: html}, nil
}
