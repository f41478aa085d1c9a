package roster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeObjects struct {
	data map[string]string
}

func (f *fakeObjects) FGetObject(_ context.Context, key, path string) error {
	body, ok := f.data[key]
	if !ok {
		return errors.New("no such key")
	}
	return os.WriteFile(path, []byte(body), 0o644)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewHTTPFetcher(time.Second)

	dst := filepath.Join(dir, "7A", "1", "photo.jpg")
	if err := f.Fetch(context.Background(), srv.URL+"/photo.jpg", dst); err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(dst); string(b) != "jpeg-bytes" {
		t.Errorf("content = %q", b)
	}

	bad := filepath.Join(dir, "7A", "1", "missing.jpg")
	if err := f.Fetch(context.Background(), srv.URL+"/missing", bad); err == nil {
		t.Fatal("404 fetch succeeded")
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}

func TestMultiFetcherRoutesByScheme(t *testing.T) {
	objs := &fakeObjects{data: map[string]string{"media/7A/1.wav": "RIFF"}}
	m := NewMultiFetcher().Handle("minio", &ObjectFetcher{Objects: objs})

	dst := filepath.Join(t.TempDir(), "a", "1.wav")
	if err := m.Fetch(context.Background(), "minio://media/7A/1.wav", dst); err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(dst); string(b) != "RIFF" {
		t.Errorf("content = %q", b)
	}

	for _, u := range []string{"ftp://host/x", "no-scheme", "minio://"} {
		if err := m.Fetch(context.Background(), u, dst); err == nil {
			t.Errorf("Fetch(%q) succeeded", u)
		}
	}
}
