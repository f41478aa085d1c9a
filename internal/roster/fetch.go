package roster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher downloads a media URL to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dst string) error
}

// HTTPFetcher downloads http and https URLs.
type HTTPFetcher struct {
	Client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}
	return writeFile(dst, resp.Body)
}

// ObjectGetter copies an object key from the bucket to a local path.
type ObjectGetter interface {
	FGetObject(ctx context.Context, key, path string) error
}

// ObjectFetcher resolves minio://<key> URLs against the configured bucket.
type ObjectFetcher struct {
	Objects ObjectGetter
}

func (f *ObjectFetcher) Fetch(ctx context.Context, rawURL, dst string) error {
	key := strings.TrimPrefix(rawURL, "minio://")
	if key == "" {
		return fmt.Errorf("empty object key in %q", rawURL)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := f.Objects.FGetObject(ctx, key, dst); err != nil {
		return fmt.Errorf("get object %s: %w", key, err)
	}
	return nil
}

// MultiFetcher routes by URL scheme.
type MultiFetcher struct {
	schemes map[string]Fetcher
}

func NewMultiFetcher() *MultiFetcher {
	return &MultiFetcher{schemes: make(map[string]Fetcher)}
}

// Handle registers f for scheme, e.g. "https" or "minio".
func (m *MultiFetcher) Handle(scheme string, f Fetcher) *MultiFetcher {
	m.schemes[strings.ToLower(scheme)] = f
	return m
}

func (m *MultiFetcher) Fetch(ctx context.Context, rawURL, dst string) error {
	scheme, _, ok := strings.Cut(rawURL, "://")
	if !ok {
		return fmt.Errorf("media url %q has no scheme", rawURL)
	}
	f, ok := m.schemes[strings.ToLower(scheme)]
	if !ok {
		return fmt.Errorf("unsupported media scheme %q", scheme)
	}
	return f.Fetch(ctx, rawURL, dst)
}

// writeFile streams r into dst via a temp file so a failed download never
// leaves a partial file behind.
func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".dl-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
