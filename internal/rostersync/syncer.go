// Package rostersync reconciles the local identity store with the roster
// and rebuilds class indexes afterwards.
package rostersync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/rollcall/internal/lock"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/roster"
	"github.com/your-org/rollcall/internal/vision"
	"github.com/your-org/rollcall/internal/voice"
)

// ErrInProgress is returned when a sync is already running in this process.
var ErrInProgress = errors.New("roster sync already running")

const (
	lockKey        = "rollcall:roster-sync"
	versionEpsilon = 1e-6
)

type Store interface {
	ListIdentities(ctx context.Context, scope string) ([]models.Identity, error)
	UpsertIdentities(ctx context.Context, ids []models.Identity) error
	Retain(ctx context.Context, scope string, roster []int64) ([]int64, error)
}

type FaceExtractor interface {
	ExtractFaceEmbedding(path string, mode vision.Mode) ([]float32, error)
}

type VoiceExtractor interface {
	ExtractSpeakerEmbedding(ctx context.Context, path string) (*voice.AudioEmbedding, error)
}

type IndexBuilder interface {
	Build(ctx context.Context, scope string) (bool, error)
}

type Options struct {
	MediaDir    string
	Concurrency int
	LockTTL     time.Duration
}

// Summary counts the outcome of syncing one scope.
type Summary struct {
	Scope     string
	Added     int
	Updated   int
	Unchanged int
	Deleted   int
	Failures  int
	Built     bool
	// Err is set when the scope could not be reconciled. Its local
	// identities are left as they were.
	Err error
}

// Syncer runs roster sync cycles. Voices and Locker may be nil.
type Syncer struct {
	source  roster.Source
	fetcher roster.Fetcher
	store   Store
	faces   FaceExtractor
	voices  VoiceExtractor
	builder IndexBuilder
	locker  lock.Locker
	opts    Options
	now     func() time.Time

	mu sync.Mutex
}

func New(source roster.Source, fetcher roster.Fetcher, store Store, faces FaceExtractor, voices VoiceExtractor, builder IndexBuilder, locker lock.Locker, opts Options) *Syncer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	return &Syncer{
		source:  source,
		fetcher: fetcher,
		store:   store,
		faces:   faces,
		voices:  voices,
		builder: builder,
		locker:  locker,
		opts:    opts,
		now:     time.Now,
	}
}

// SyncAll syncs staff, then every class, and rebuilds every class index
// whether or not it changed. Only a failure to list the classes aborts the
// cycle: a scope that fails keeps its previous identities, the remaining
// scopes still sync, and the joined scope errors are returned together with
// the class timetables so the caller can still refresh the schedule.
func (s *Syncer) SyncAll(ctx context.Context) ([]models.ClassTimetable, []Summary, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	classes, err := s.source.ListClasses(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list classes: %w", err)
	}

	var errs []error
	summaries := make([]Summary, 0, len(classes)+1)

	staff, err := s.syncScope(ctx, models.StaffScope)
	if err != nil {
		errs = append(errs, s.scopeFailed(&staff, err))
	}
	summaries = append(summaries, staff)

	for _, c := range classes {
		sum, err := s.syncScope(ctx, c.ClassID)
		if err != nil {
			errs = append(errs, s.scopeFailed(&sum, err))
		}
		// Staff changes reach the index even when the pupils could not be listed.
		sum.Built = s.build(ctx, c.ClassID)
		summaries = append(summaries, sum)
	}
	return classes, summaries, errors.Join(errs...)
}

func (s *Syncer) scopeFailed(sum *Summary, err error) error {
	err = fmt.Errorf("sync %s: %w", sum.Scope, err)
	sum.Err = err
	observability.SyncFailures.WithLabelValues(sum.Scope).Inc()
	slog.Error("roster sync of scope failed", "scope", sum.Scope, "error", err)
	return err
}

// SyncClass syncs one class and rebuilds its index.
func (s *Syncer) SyncClass(ctx context.Context, classID string) (Summary, error) {
	if classID == "" || classID == models.StaffScope {
		return Summary{}, fmt.Errorf("invalid class id %q", classID)
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	sum, err := s.syncScope(ctx, classID)
	if err != nil {
		return sum, err
	}
	sum.Built = s.build(ctx, classID)
	return sum, nil
}

func (s *Syncer) acquire(ctx context.Context) (func(), error) {
	if !s.mu.TryLock() {
		return nil, ErrInProgress
	}
	if s.locker == nil {
		return s.mu.Unlock, nil
	}
	release, err := s.locker.Acquire(ctx, lockKey, s.opts.LockTTL)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	return func() {
		release()
		s.mu.Unlock()
	}, nil
}

func (s *Syncer) build(ctx context.Context, scope string) bool {
	built, err := s.builder.Build(ctx, scope)
	if err != nil {
		slog.Error("index build failed", "scope", scope, "error", err)
		return false
	}
	return built
}

func (s *Syncer) syncScope(ctx context.Context, scope string) (Summary, error) {
	start := s.now()
	sum := Summary{Scope: scope}

	var (
		entries []roster.Entry
		err     error
	)
	if scope == models.StaffScope {
		entries, err = s.source.ListStaff(ctx)
	} else {
		entries, err = s.source.ListPupils(ctx, scope)
	}
	if err != nil {
		return sum, err
	}
	entries = dedupe(scope, entries)

	local, err := s.store.ListIdentities(ctx, scope)
	if err != nil {
		return sum, fmt.Errorf("list local identities of %s: %w", scope, err)
	}
	known := make(map[int64]*models.Identity, len(local))
	for i := range local {
		known[local[i].ExternalID] = &local[i]
	}

	var changed []roster.Entry
	keep := make([]int64, 0, len(entries))
	position := make(map[int64]int, len(entries))
	for i, e := range entries {
		keep = append(keep, e.ExternalID)
		position[e.ExternalID] = i
		prev, ok := known[e.ExternalID]
		switch {
		case !ok:
			sum.Added++
			changed = append(changed, e)
		case !versionsEqual(prev.Version, e.Version.Value):
			sum.Updated++
			changed = append(changed, e)
		default:
			sum.Unchanged++
		}
	}

	if len(changed) > 0 {
		identities := make([]models.Identity, len(changed))
		failures := make([]int, len(changed))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Concurrency)
		for i, e := range changed {
			i, e := i, e
			g.Go(func() error {
				identities[i], failures[i] = s.materialize(gctx, scope, e)
				identities[i].RosterPosition = position[e.ExternalID]
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return sum, err
		}
		for _, n := range failures {
			sum.Failures += n
		}

		if err := s.store.UpsertIdentities(ctx, identities); err != nil {
			return sum, fmt.Errorf("upsert identities of %s: %w", scope, err)
		}
	}

	deleted, err := s.store.Retain(ctx, scope, keep)
	if err != nil {
		return sum, fmt.Errorf("delete stale identities of %s: %w", scope, err)
	}
	for _, id := range deleted {
		if err := os.RemoveAll(s.identityDir(scope, id)); err != nil {
			slog.Warn("purge media folder", "scope", scope, "external_id", id, "error", err)
		}
	}
	sum.Deleted = len(deleted)

	observability.SyncDuration.WithLabelValues(scope).Observe(s.now().Sub(start).Seconds())
	observability.SyncChanges.WithLabelValues(scope, "added").Add(float64(sum.Added))
	observability.SyncChanges.WithLabelValues(scope, "updated").Add(float64(sum.Updated))
	observability.SyncChanges.WithLabelValues(scope, "deleted").Add(float64(sum.Deleted))

	slog.Info("roster sync finished",
		"scope", scope,
		"added", sum.Added,
		"updated", sum.Updated,
		"unchanged", sum.Unchanged,
		"deleted", sum.Deleted,
		"asset_failures", sum.Failures,
	)
	return sum, nil
}

// materialize purges the identity folder, downloads every asset and computes
// its embedding. Asset failures are recorded on the asset and counted.
func (s *Syncer) materialize(ctx context.Context, scope string, e roster.Entry) (models.Identity, int) {
	dir := s.identityDir(scope, e.ExternalID)
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("purge media folder", "scope", scope, "external_id", e.ExternalID, "error", err)
	}

	typ := models.IdentityPupil
	if scope == models.StaffScope {
		typ = models.IdentityStaff
	}
	id := models.Identity{
		ExternalID:   e.ExternalID,
		DisplayName:  e.DisplayName,
		Scope:        scope,
		IdentityType: typ,
		Version:      e.Version.Value,
		SyncedAt:     s.now().UTC(),
		Media:        make([]models.MediaAsset, 0, len(e.Media)),
	}

	failures := 0
	for i, m := range e.Media {
		asset := models.MediaAsset{
			AssetType: m.AssetType,
			RemoteURL: m.URL,
			FileName:  m.FileName,
			LocalPath: filepath.Join(dir, assetFileName(i, m)),
		}
		if stage, err := s.fillAsset(ctx, &asset); err != nil {
			failures++
			asset.Error = err.Error()
			observability.AssetFailures.WithLabelValues(string(m.AssetType), stage).Inc()
			slog.Warn("reference media failed",
				"scope", scope,
				"external_id", e.ExternalID,
				"url", m.URL,
				"stage", stage,
				"error", err,
			)
		}
		id.Media = append(id.Media, asset)
	}
	return id, failures
}

func (s *Syncer) fillAsset(ctx context.Context, a *models.MediaAsset) (stage string, err error) {
	switch a.AssetType {
	case models.AssetImage, models.AssetAudio:
	default:
		return "validate", fmt.Errorf("unknown asset type %q", a.AssetType)
	}

	if err := s.fetcher.Fetch(ctx, a.RemoteURL, a.LocalPath); err != nil {
		return "download", err
	}

	if a.AssetType == models.AssetImage {
		emb, err := s.faces.ExtractFaceEmbedding(a.LocalPath, vision.Enroll)
		if err != nil {
			return "embed", err
		}
		a.Embedding = emb
		return "", nil
	}

	if s.voices == nil {
		return "embed", errors.New("speaker model not loaded")
	}
	res, err := s.voices.ExtractSpeakerEmbedding(ctx, a.LocalPath)
	if err != nil {
		return "embed", err
	}
	a.Embedding = res.Vector
	return "", nil
}

func (s *Syncer) identityDir(scope string, id int64) string {
	return filepath.Join(s.opts.MediaDir, models.ScopeDir(scope), strconv.FormatInt(id, 10))
}

// assetFileName prefixes the position so two assets with the same name
// cannot overwrite each other.
func assetFileName(i int, m roster.Media) string {
	name := filepath.Base(filepath.Clean("/" + m.FileName))
	if name == "/" || name == "." || name == "" {
		name = string(m.AssetType) + strings.ToLower(path.Ext(strings.SplitN(m.URL, "?", 2)[0]))
	}
	return fmt.Sprintf("%02d_%s", i, name)
}

// versionsEqual treats a missing version on either side as a change.
func versionsEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return false
	}
	return math.Abs(*a-*b) <= versionEpsilon
}

func dedupe(scope string, entries []roster.Entry) []roster.Entry {
	seen := make(map[int64]int, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		if i, ok := seen[e.ExternalID]; ok {
			slog.Warn("duplicate roster entry", "scope", scope, "external_id", e.ExternalID)
			out[i] = e
			continue
		}
		seen[e.ExternalID] = len(out)
		out = append(out, e)
	}
	return out
}
