package index

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/your-org/rollcall/internal/models"
)

type fakeLister struct {
	byScope map[string][]models.Identity
	err     error
}

func (f *fakeLister) ListIdentities(_ context.Context, scope string) ([]models.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byScope[scope], nil
}

func ident(id int64, scope string, typ models.IdentityType, embs ...[]float32) models.Identity {
	out := models.Identity{ExternalID: id, DisplayName: "id", Scope: scope, IdentityType: typ}
	for _, e := range embs {
		out.Media = append(out.Media, models.MediaAsset{AssetType: models.AssetImage, Embedding: e})
	}
	return out
}

func sampleStore() *fakeLister {
	return &fakeLister{byScope: map[string][]models.Identity{
		"7A": {
			ident(1, "7A", models.IdentityPupil, []float32{1, 0, 0, 0}),
			ident(2, "7A", models.IdentityPupil, []float32{0, 1, 0, 0}, []float32{0, 0.9, 0.1, 0}),
			ident(3, "7A", models.IdentityPupil, []float32{1, 2, 3}), // wrong dim
			ident(4, "7A", models.IdentityPupil),                     // no embedding yet
		},
		models.StaffScope: {
			ident(100, models.StaffScope, models.IdentityStaff, []float32{0, 0, 0, 1}),
		},
	}}
}

func loadMapping(t *testing.T, dir, scope string) *Mapping {
	t.Helper()
	_, mapPath := Paths(dir, scope, KindFace)
	f, err := os.Open(mapPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	m, err := readMapping(f)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestBuildOrderAndDimensionFilter(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(sampleStore(), dir, 4, 0)

	ok, err := b.Build(context.Background(), "7A")
	if err != nil || !ok {
		t.Fatalf("Build = %v, %v", ok, err)
	}

	m := loadMapping(t, dir, "7A")
	want := []int64{1, 2, 2, 100}
	if len(m.Entries) != len(want) {
		t.Fatalf("entries = %+v, want ids %v", m.Entries, want)
	}
	for i, id := range want {
		if m.Entries[i].ExternalID != id {
			t.Errorf("entry %d = %d, want %d", i, m.Entries[i].ExternalID, id)
		}
	}
	if m.Entries[3].IdentityType != models.IdentityStaff {
		t.Errorf("staff entry type = %q", m.Entries[3].IdentityType)
	}

	buildID, size, _, err := NewSearcher(dir).Info("7A", KindFace)
	if err != nil {
		t.Fatal(err)
	}
	if size != len(m.Entries) {
		t.Errorf("index size %d != mapping entries %d", size, len(m.Entries))
	}
	if buildID != m.BuildID {
		t.Errorf("build id %s != mapping %s", buildID, m.BuildID)
	}
}

func TestBuildEmptyLeavesPreviousFiles(t *testing.T) {
	dir := t.TempDir()
	store := sampleStore()
	b := NewBuilder(store, dir, 4, 0)
	if ok, err := b.Build(context.Background(), "7A"); !ok || err != nil {
		t.Fatalf("first Build = %v, %v", ok, err)
	}
	idxPath, mapPath := Paths(dir, "7A", KindFace)
	idxBefore, _ := os.ReadFile(idxPath)
	mapBefore, _ := os.ReadFile(mapPath)

	store.byScope = map[string][]models.Identity{
		"7A": {ident(1, "7A", models.IdentityPupil)},
	}
	ok, err := b.Build(context.Background(), "7A")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Build with no embeddings returned true")
	}

	idxAfter, _ := os.ReadFile(idxPath)
	mapAfter, _ := os.ReadFile(mapPath)
	if !bytes.Equal(idxBefore, idxAfter) || !bytes.Equal(mapBefore, mapAfter) {
		t.Error("empty build modified the persisted pair")
	}
}

func TestBuildEmptyScopeWritesNothing(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(&fakeLister{}, dir, 4, 0)
	ok, err := b.Build(context.Background(), "9C")
	if ok || err != nil {
		t.Fatalf("Build = %v, %v", ok, err)
	}
	idxPath, _ := Paths(dir, "9C", KindFace)
	if _, err := os.Stat(idxPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("index file exists after empty build: %v", err)
	}
}

func TestBuildStoreError(t *testing.T) {
	b := NewBuilder(&fakeLister{err: errors.New("db down")}, t.TempDir(), 4, 0)
	if _, err := b.Build(context.Background(), "7A"); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildVoiceIndex(t *testing.T) {
	store := sampleStore()
	voice := ident(5, "7A", models.IdentityPupil)
	voice.Media = []models.MediaAsset{{AssetType: models.AssetAudio, Embedding: []float32{0.3, 0.4}}}
	store.byScope["7A"] = append(store.byScope["7A"], voice)

	dir := t.TempDir()
	if _, err := NewBuilder(store, dir, 4, 2).Build(context.Background(), "7A"); err != nil {
		t.Fatal(err)
	}
	matches, err := NewSearcher(dir).SearchKind(context.Background(), KindVoice, []float32{0.6, 0.8}, "7A", 3, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ExternalID != 5 {
		t.Errorf("voice matches = %+v", matches)
	}
}

func TestPathsKeepScopesApart(t *testing.T) {
	a, _ := Paths("/idx", "7/A", KindFace)
	b, _ := Paths("/idx", "7_A", KindFace)
	if a == b {
		t.Fatalf("scopes 7/A and 7_A share %s", a)
	}
	if want := filepath.Join("/idx", "7%2FA", "faces.idx"); a != want {
		t.Errorf("Paths(7/A) = %s, want %s", a, want)
	}
	if up, _ := Paths("/idx", "..", KindFace); filepath.Dir(filepath.Dir(up)) != "/idx" {
		t.Errorf("Paths(..) = %s escapes the index dir", up)
	}
}
