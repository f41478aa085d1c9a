package index

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/your-org/rollcall/internal/models"
)

// Kind selects which embeddings an index holds.
type Kind string

const (
	KindFace  Kind = "faces"
	KindVoice Kind = "voices"
)

var (
	// ErrIndexNotFound means the index or its mapping has not been built
	// for the scope.
	ErrIndexNotFound = errors.New("index not found")

	// ErrBuildMismatch means the index and mapping on disk come from
	// different builds, usually a reader racing a rebuild.
	ErrBuildMismatch = errors.New("index and mapping build ids differ")
)

// Paths returns the index and mapping file paths of scope under dir.
func Paths(dir, scope string, kind Kind) (idxPath, mapPath string) {
	base := filepath.Join(dir, models.ScopeDir(scope))
	return filepath.Join(base, string(kind)+".idx"), filepath.Join(base, string(kind)+".msgpack")
}

// writeAtomic writes to a temp file in the target directory, syncs it and
// renames it over path.
func writeAtomic(path string, fn func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := fn(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	ok = true
	return nil
}
