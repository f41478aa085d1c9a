package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
)

// Match is one neighbour above threshold.
type Match struct {
	ExternalID   int64               `json:"external_id"`
	DisplayName  string              `json:"display_name"`
	IdentityType models.IdentityType `json:"identity_type"`
	Similarity   float32             `json:"similarity"`
	Slot         int                 `json:"slot"`
}

type cacheKey struct {
	scope string
	kind  Kind
}

type loaded struct {
	flat    *Flat
	mapping *Mapping
}

// Searcher answers nearest-neighbour queries against the persisted
// indexes. Loaded pairs are cached and reloaded when the build id in the
// index header changes.
// Safe for concurrent use.
type Searcher struct {
	dir string

	mu    sync.Mutex
	cache map[cacheKey]*loaded
}

func NewSearcher(dir string) *Searcher {
	return &Searcher{dir: dir, cache: make(map[cacheKey]*loaded)}
}

// Search returns up to topK face matches in scope with similarity >=
// threshold, best first.
func (s *Searcher) Search(ctx context.Context, emb []float32, scope string, topK int, threshold float32) ([]Match, error) {
	return s.SearchKind(ctx, KindFace, emb, scope, topK, threshold)
}

// SearchBatch returns the best face match per row, in input order. A row
// with no match above threshold gets an empty slice.
func (s *Searcher) SearchBatch(ctx context.Context, embs [][]float32, scope string, threshold float32) ([][]Match, error) {
	l, err := s.load(KindFace, scope)
	if err != nil {
		return nil, err
	}
	out := make([][]Match, len(embs))
	for i, emb := range embs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i], err = l.search(emb, 1, threshold)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return out, nil
}

// SearchKind is Search over an index of any kind.
func (s *Searcher) SearchKind(ctx context.Context, kind Kind, emb []float32, scope string, topK int, threshold float32) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, err := s.load(kind, scope)
	if err != nil {
		return nil, err
	}
	return l.search(emb, topK, threshold)
}

// Info describes the currently loaded index of scope.
func (s *Searcher) Info(scope string, kind Kind) (buildID string, size int, builtAt time.Time, err error) {
	l, err := s.load(kind, scope)
	if err != nil {
		return "", 0, time.Time{}, err
	}
	return l.mapping.BuildID, l.flat.Len(), l.flat.BuiltAt, nil
}

// Invalidate drops the cached pair of scope.
func (s *Searcher) Invalidate(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, cacheKey{scope, KindFace})
	delete(s.cache, cacheKey{scope, KindVoice})
}

func (l *loaded) search(emb []float32, topK int, threshold float32) ([]Match, error) {
	scores, slots, err := l.flat.Search(emb, topK)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(slots))
	for i, slot := range slots {
		if slot < 0 || scores[i] < threshold {
			continue
		}
		e := l.mapping.Entries[slot]
		matches = append(matches, Match{
			ExternalID:   e.ExternalID,
			DisplayName:  e.DisplayName,
			IdentityType: e.IdentityType,
			Similarity:   scores[i],
			Slot:         slot,
		})
	}
	return matches, nil
}

func (s *Searcher) load(kind Kind, scope string) (*loaded, error) {
	idxPath, mapPath := Paths(s.dir, scope, kind)
	if _, err := os.Stat(mapPath); err != nil {
		return nil, notFound(scope, err)
	}
	buildID, err := peekBuildID(idxPath)
	if err != nil {
		return nil, notFound(scope, err)
	}

	key := cacheKey{scope, kind}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.cache[key]
	if cur != nil && cur.flat.BuildID == buildID {
		return cur, nil
	}

	next, err := readPair(idxPath, mapPath)
	if err != nil {
		if cur != nil && errors.Is(err, ErrBuildMismatch) {
			// A rebuild is between its two renames; keep serving the old pair.
			return cur, nil
		}
		return nil, err
	}
	s.cache[key] = next
	return next, nil
}

// peekBuildID reads the build id from an index header without loading
// the vectors.
func peekBuildID(path string) (uuid.UUID, error) {
	f, err := os.Open(path)
	if err != nil {
		return uuid.Nil, err
	}
	defer f.Close()

	var hdr [flatHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return uuid.Nil, fmt.Errorf("index: read header: %w", err)
	}
	var id uuid.UUID
	copy(id[:], hdr[16:32])
	return id, nil
}

func readPair(idxPath, mapPath string) (*loaded, error) {
	fi, err := os.Open(idxPath)
	if err != nil {
		return nil, notFound(idxPath, err)
	}
	defer fi.Close()
	flat, err := LoadFlat(fi)
	if err != nil {
		return nil, err
	}

	fm, err := os.Open(mapPath)
	if err != nil {
		return nil, notFound(mapPath, err)
	}
	defer fm.Close()
	mapping, err := readMapping(fm)
	if err != nil {
		return nil, err
	}

	if mapping.BuildID != flat.BuildID.String() {
		return nil, fmt.Errorf("%w: index %s, mapping %s", ErrBuildMismatch, flat.BuildID, mapping.BuildID)
	}
	if len(mapping.Entries) != flat.Len() {
		return nil, fmt.Errorf("index has %d vectors but mapping has %d entries", flat.Len(), len(mapping.Entries))
	}
	return &loaded{flat: flat, mapping: mapping}, nil
}

func notFound(what string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, what)
	}
	return err
}
