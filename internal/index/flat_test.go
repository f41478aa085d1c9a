package index

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFlatSearchOrder(t *testing.T) {
	f := NewFlat(2)
	for _, v := range [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}} {
		if err := f.Add(v); err != nil {
			t.Fatal(err)
		}
	}

	scores, slots, err := f.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	wantSlots := []int{0, 2, 1}
	if len(slots) != len(wantSlots) || len(scores) != len(wantSlots) {
		t.Fatalf("got %d slots and %d scores, want %d", len(slots), len(scores), len(wantSlots))
	}
	for i, want := range wantSlots {
		if slots[i] != want {
			t.Fatalf("slots = %v, want %v", slots, wantSlots)
		}
	}
	if scores[0] != 1 || math.Abs(float64(scores[1])-0.6) > 1e-6 {
		t.Errorf("scores = %v", scores)
	}
}

func TestFlatSearchHugeK(t *testing.T) {
	f := NewFlat(2)
	f.Add([]float32{1, 0})
	f.Add([]float32{0, 1})

	scores, slots, err := f.Search([]float32{1, 0}, 2_000_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 2 || len(scores) != 2 {
		t.Errorf("got %d slots, want them capped at Len 2", len(slots))
	}
}

func TestFlatDimMismatch(t *testing.T) {
	f := NewFlat(3)
	if err := f.Add([]float32{1, 2}); err == nil {
		t.Error("Add accepted wrong dimension")
	}
	if _, _, err := f.Search([]float32{1}, 1); err == nil {
		t.Error("Search accepted wrong dimension")
	}
}

func TestFlatSaveLoad(t *testing.T) {
	f := NewFlat(4)
	f.BuildID = uuid.New()
	f.BuiltAt = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	f.Add([]float32{1, 2, 3, 4})
	f.Add([]float32{-1, 0.5, 0, 2})

	var buf bytes.Buffer
	if err := f.Save(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFlat(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Dim() != 4 || got.Len() != 2 {
		t.Fatalf("loaded dim=%d len=%d", got.Dim(), got.Len())
	}
	if got.BuildID != f.BuildID {
		t.Errorf("BuildID = %s, want %s", got.BuildID, f.BuildID)
	}
	if !got.BuiltAt.Equal(f.BuiltAt) {
		t.Errorf("BuiltAt = %v, want %v", got.BuiltAt, f.BuiltAt)
	}
	if v := got.vector(1); v[1] != 0.5 || v[3] != 2 {
		t.Errorf("vector(1) = %v", v)
	}
}

func TestLoadFlatRejectsGarbage(t *testing.T) {
	if _, err := LoadFlat(bytes.NewReader([]byte("HNSW\x01\x00\x00\x00"))); err == nil {
		t.Error("expected magic error")
	}
	if _, err := LoadFlat(bytes.NewReader(nil)); err == nil {
		t.Error("expected error on empty input")
	}
}
