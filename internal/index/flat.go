package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
)

var flatMagic = [4]byte{'R', 'C', 'I', 'X'}

const flatVersion uint32 = 1

// flatHeaderSize covers magic, version, dim, count and build id.
const flatHeaderSize = 4 + 4 + 4 + 4 + 16

// maxFlatFloats bounds allocation when reading a corrupt header.
const maxFlatFloats = 1 << 28

// Flat is an exact inner-product index. Vectors are stored contiguously and
// addressed by slot, the position in insertion order. With L2-normalized
// inputs the score is cosine similarity.
//
// Flat is not safe for concurrent mutation; a built index is read-only.
type Flat struct {
	dim     int
	data    []float32
	BuildID uuid.UUID
	BuiltAt time.Time
}

func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

func (f *Flat) Dim() int { return f.dim }

func (f *Flat) Len() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Add appends v at slot Len().
func (f *Flat) Add(v []float32) error {
	if len(v) != f.dim {
		return fmt.Errorf("index: add vector of dim %d to index of dim %d", len(v), f.dim)
	}
	f.data = append(f.data, v...)
	return nil
}

func (f *Flat) vector(slot int) []float32 {
	return f.data[slot*f.dim : (slot+1)*f.dim]
}

// Search returns the min(k, Len) best slots by descending score.
func (f *Flat) Search(q []float32, k int) ([]float32, []int, error) {
	if len(q) != f.dim {
		return nil, nil, fmt.Errorf("index: query dim %d, index dim %d", len(q), f.dim)
	}
	if k <= 0 {
		return nil, nil, nil
	}

	n := f.Len()
	order := make([]int, n)
	scores := make([]float32, n)
	for i := 0; i < n; i++ {
		order[i] = i
		scores[i] = dot(q, f.vector(i))
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	k = min(k, n)
	outScores := make([]float32, k)
	outSlots := make([]int, k)
	for i := 0; i < k; i++ {
		outSlots[i] = order[i]
		outScores[i] = scores[order[i]]
	}
	return outScores, outSlots, nil
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Save writes the index in a little-endian binary layout:
//
//	[4B magic "RCIX"] [4B version] [4B dim] [4B count]
//	[16B build id] [8B built_at unix nanos]
//	[count × dim × 4B float32]
func (f *Flat) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	le := binary.LittleEndian
	write := func(v any) error { return binary.Write(bw, le, v) }

	if _, err := bw.Write(flatMagic[:]); err != nil {
		return fmt.Errorf("index: save magic: %w", err)
	}
	for _, v := range []uint32{flatVersion, uint32(f.dim), uint32(f.Len())} {
		if err := write(v); err != nil {
			return fmt.Errorf("index: save header: %w", err)
		}
	}
	if _, err := bw.Write(f.BuildID[:]); err != nil {
		return fmt.Errorf("index: save build id: %w", err)
	}
	if err := write(f.BuiltAt.UnixNano()); err != nil {
		return fmt.Errorf("index: save built_at: %w", err)
	}
	if len(f.data) > 0 {
		if err := write(f.data); err != nil {
			return fmt.Errorf("index: save vectors: %w", err)
		}
	}
	return bw.Flush()
}

// LoadFlat reads an index written by Save.
func LoadFlat(r io.Reader) (*Flat, error) {
	br := bufio.NewReader(r)
	le := binary.LittleEndian
	read := func(v any) error { return binary.Read(br, le, v) }

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("index: load magic: %w", err)
	}
	if magic != flatMagic {
		return nil, fmt.Errorf("index: invalid magic %q", magic[:])
	}

	var version, dim, count uint32
	if err := read(&version); err != nil {
		return nil, fmt.Errorf("index: load version: %w", err)
	}
	if version != flatVersion {
		return nil, fmt.Errorf("index: unsupported version %d (want %d)", version, flatVersion)
	}
	if err := read(&dim); err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, fmt.Errorf("index: invalid dimension 0")
	}
	if err := read(&count); err != nil {
		return nil, err
	}
	if uint64(dim)*uint64(count) > maxFlatFloats {
		return nil, fmt.Errorf("index: %d vectors of dim %d exceeds limit", count, dim)
	}

	f := &Flat{dim: int(dim)}
	if _, err := io.ReadFull(br, f.BuildID[:]); err != nil {
		return nil, fmt.Errorf("index: load build id: %w", err)
	}
	var nanos int64
	if err := read(&nanos); err != nil {
		return nil, fmt.Errorf("index: load built_at: %w", err)
	}
	f.BuiltAt = time.Unix(0, nanos).UTC()

	if count > 0 {
		f.data = make([]float32, int(dim)*int(count))
		if err := read(f.data); err != nil {
			return nil, fmt.Errorf("index: load vectors: %w", err)
		}
	}
	return f, nil
}
