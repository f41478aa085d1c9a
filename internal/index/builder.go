package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
)

// IdentityLister is the part of the identity store the builder reads.
type IdentityLister interface {
	ListIdentities(ctx context.Context, scope string) ([]models.Identity, error)
}

// Builder rebuilds the per-scope index files from the identity store.
type Builder struct {
	store    IdentityLister
	dir      string
	dim      int
	voiceDim int
	now      func() time.Time
}

// NewBuilder returns a builder writing under dir. voiceDim 0 disables
// voice indexes.
func NewBuilder(store IdentityLister, dir string, dim, voiceDim int) *Builder {
	return &Builder{store: store, dir: dir, dim: dim, voiceDim: voiceDim, now: time.Now}
}

// Build rebuilds the face index of scope, then the voice index when enabled.
// It reports whether a face index was written; false means the scope had no
// usable embeddings and the previous files were left untouched.
func (b *Builder) Build(ctx context.Context, scope string) (bool, error) {
	built, err := b.BuildKind(ctx, scope, KindFace)
	if err != nil {
		return false, err
	}
	if b.voiceDim > 0 {
		if _, err := b.BuildKind(ctx, scope, KindVoice); err != nil {
			slog.Error("build voice index", "scope", scope, "error", err)
		}
	}
	return built, nil
}

// BuildKind rebuilds one index of scope. Pupils of the scope come first in
// store order, then staff.
func (b *Builder) BuildKind(ctx context.Context, scope string, kind Kind) (bool, error) {
	assetType, dim := models.AssetImage, b.dim
	if kind == KindVoice {
		assetType, dim = models.AssetAudio, b.voiceDim
	}

	pupils, err := b.store.ListIdentities(ctx, scope)
	if err != nil {
		return false, fmt.Errorf("list identities of %s: %w", scope, err)
	}
	var staff []models.Identity
	if scope != models.StaffScope {
		staff, err = b.store.ListIdentities(ctx, models.StaffScope)
		if err != nil {
			return false, fmt.Errorf("list staff: %w", err)
		}
	}

	flat := NewFlat(dim)
	var entries []MappingEntry
	add := func(ids []models.Identity) int {
		n := 0
		for i := range ids {
			id := &ids[i]
			for _, emb := range id.Embeddings(assetType) {
				if len(emb) != dim {
					slog.Warn("skipping embedding with wrong dimension",
						"scope", scope, "kind", kind, "external_id", id.ExternalID,
						"dim", len(emb), "want", dim)
					continue
				}
				if err := flat.Add(Normalize(emb)); err != nil {
					continue
				}
				entries = append(entries, MappingEntry{
					ExternalID:   id.ExternalID,
					DisplayName:  id.DisplayName,
					IdentityType: id.IdentityType,
				})
				n++
			}
		}
		return n
	}
	nPupils := add(pupils)
	nStaff := add(staff)

	if flat.Len() == 0 {
		slog.Warn("no embeddings, index not written", "scope", scope, "kind", kind)
		observability.IndexBuilds.WithLabelValues(string(kind), "empty").Inc()
		return false, nil
	}

	flat.BuildID = uuid.New()
	flat.BuiltAt = b.now().UTC()
	mapping := &Mapping{
		BuildID: flat.BuildID.String(),
		Scope:   scope,
		Kind:    kind,
		BuiltAt: flat.BuiltAt,
		Entries: entries,
	}

	idxPath, mapPath := Paths(b.dir, scope, kind)
	if err := writeAtomic(idxPath, flat.Save); err != nil {
		slog.Error("write index", "scope", scope, "kind", kind, "error", err)
		observability.IndexBuilds.WithLabelValues(string(kind), "error").Inc()
		return false, fmt.Errorf("write index: %w", err)
	}
	if err := writeAtomic(mapPath, func(w io.Writer) error { return writeMapping(w, mapping) }); err != nil {
		slog.Error("write mapping", "scope", scope, "kind", kind, "error", err)
		observability.IndexBuilds.WithLabelValues(string(kind), "error").Inc()
		return false, fmt.Errorf("write mapping: %w", err)
	}

	observability.IndexBuilds.WithLabelValues(string(kind), "ok").Inc()
	observability.IndexVectors.WithLabelValues(scope, string(kind)).Set(float64(flat.Len()))
	slog.Info("index built",
		"scope", scope, "kind", kind, "build_id", mapping.BuildID,
		"pupils", nPupils, "staff", nStaff, "total", flat.Len())
	return true, nil
}
