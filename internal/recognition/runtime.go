// Package recognition runs live face recognition on camera frames while a
// class period is active.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/index"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/vision"
)

type Searcher interface {
	SearchBatch(ctx context.Context, embs [][]float32, scope string, threshold float32) ([][]index.Match, error)
}

// Emitter accepts events without blocking. *Dispatcher implements it.
type Emitter interface {
	Emit(ev models.MatchEvent, snapshot []byte) bool
}

type Options struct {
	Threshold           float32
	ReemitInterval      time.Duration
	ReRecognizeInterval time.Duration
	MaxAge              int
	MinHits             int
	// Cameras restricts cameras to classes. Unlisted cameras, and cameras
	// with no class ids, follow whichever class is active.
	Cameras         []config.CameraConfig
	SnapshotQuality int
}

// OptionsFromConfig collects the runtime settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Threshold:           float32(cfg.Recognition.FaceThreshold),
		ReemitInterval:      cfg.Recognition.ReemitInterval,
		ReRecognizeInterval: cfg.Tracking.ReRecognizeInterval,
		MaxAge:              cfg.Tracking.MaxAge,
		MinHits:             cfg.Tracking.MinHits,
		Cameras:             cfg.Cameras,
		SnapshotQuality:     85,
	}
}

type cameraState struct {
	mu       sync.Mutex
	tracker  *vision.Tracker
	lastEmit map[string]time.Time // emitKey -> last emission
}

// emitKey identifies whose repeats are suppressed: a matched identity, or
// for Unknown the track, so two different strangers are both reported.
func emitKey(subject string, track *vision.Track) string {
	if subject == models.UnknownSubject {
		return "track:" + track.ID
	}
	return subject
}

// pruneEmits drops history older than the reemit interval, bounding the map
// as unknown tracks come and go.
func (st *cameraState) pruneEmits(now time.Time, interval time.Duration) {
	for k, last := range st.lastEmit {
		if now.Sub(last) >= interval {
			delete(st.lastEmit, k)
		}
	}
}

// Runtime is the live recognition loop. The enabled flag and active scope
// change only through Activate and Deactivate.
type Runtime struct {
	model    vision.FaceModel
	searcher Searcher
	emitter  Emitter
	opts     Options
	bindings map[string]map[string]bool

	enabled atomic.Bool
	mu      sync.RWMutex
	period  models.ActivePeriod

	camMu   sync.Mutex
	cameras map[string]*cameraState
}

func NewRuntime(model vision.FaceModel, searcher Searcher, emitter Emitter, opts Options) *Runtime {
	if opts.SnapshotQuality == 0 {
		opts.SnapshotQuality = 85
	}
	bindings := make(map[string]map[string]bool)
	for _, cam := range opts.Cameras {
		if len(cam.ClassIDs) == 0 {
			continue
		}
		set := make(map[string]bool, len(cam.ClassIDs))
		for _, id := range cam.ClassIDs {
			set[id] = true
		}
		bindings[cam.ID] = set
	}
	return &Runtime{
		model:    model,
		searcher: searcher,
		emitter:  emitter,
		opts:     opts,
		bindings: bindings,
		cameras:  make(map[string]*cameraState),
	}
}

// Activate enables recognition against the index of p's class.
func (r *Runtime) Activate(p models.ActivePeriod) {
	r.mu.Lock()
	changed := r.period.ClassID != p.ClassID
	r.period = p
	r.mu.Unlock()

	if changed {
		r.resetCameras()
	}
	r.enabled.Store(true)
	observability.RecognitionEnabled.Set(1)
	slog.Info("recognition enabled", "class_id", p.ClassID)
}

// Deactivate disables recognition if classID is the active class. A stale
// end timer of an overlapping period is ignored.
func (r *Runtime) Deactivate(classID string) {
	r.mu.Lock()
	if r.period.ClassID != classID {
		r.mu.Unlock()
		slog.Debug("ignoring deactivate of inactive class", "class_id", classID)
		return
	}
	r.period = models.ActivePeriod{}
	r.enabled.Store(false)
	r.mu.Unlock()

	r.resetCameras()
	observability.RecognitionEnabled.Set(0)
	slog.Info("recognition disabled", "class_id", classID)
}

func (r *Runtime) Enabled() bool { return r.enabled.Load() }

// Scope returns the active class id, or "" when disabled.
func (r *Runtime) Scope() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.period.ClassID
}

// HandleFrame detects, tracks and identifies faces in one frame and emits
// an event for every track whose identity changed. It returns the events
// emitted.
func (r *Runtime) HandleFrame(ctx context.Context, cameraID string, img image.Image, ts time.Time) ([]models.MatchEvent, error) {
	if !r.enabled.Load() {
		observability.FramesSkipped.WithLabelValues(cameraID, "disabled").Inc()
		return nil, nil
	}
	scope := r.Scope()
	if scope == "" {
		observability.FramesSkipped.WithLabelValues(cameraID, "disabled").Inc()
		return nil, nil
	}
	if set, ok := r.bindings[cameraID]; ok && !set[scope] {
		observability.FramesSkipped.WithLabelValues(cameraID, "unbound").Inc()
		return nil, nil
	}
	observability.FramesProcessed.WithLabelValues(cameraID).Inc()

	dets, err := r.model.DetectFaces(img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.FacesDetected.WithLabelValues(cameraID).Add(float64(len(dets)))

	st := r.camera(cameraID)
	st.mu.Lock()
	defer st.mu.Unlock()

	updates := st.tracker.Update(dets)
	st.pruneEmits(ts, r.opts.ReemitInterval)

	var (
		due  []*vision.Track
		embs [][]float32
	)
	for _, upd := range updates {
		track := upd.Track
		if !st.tracker.ShouldRecognize(track, ts, r.opts.ReRecognizeInterval) {
			continue
		}
		emb, err := r.model.EmbedFace(img, track.Detection)
		if err != nil {
			slog.Warn("embed error", "camera_id", cameraID, "track", track.ID, "error", err)
			continue
		}
		due = append(due, track)
		embs = append(embs, emb)
	}
	if len(due) == 0 {
		return nil, nil
	}

	start := time.Now()
	results, err := r.searcher.SearchBatch(ctx, embs, scope, r.opts.Threshold)
	observability.InferenceDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, index.ErrIndexNotFound) {
			slog.Debug("no index for active class", "class_id", scope)
		} else {
			slog.Warn("search error", "class_id", scope, "error", err)
		}
		results = make([][]index.Match, len(due))
	}

	var events []models.MatchEvent
	for i, track := range due {
		var best *index.Match
		if i < len(results) && len(results[i]) > 0 {
			best = &results[i][0]
		}

		subject := models.UnknownSubject
		var similarity float32
		if best != nil {
			subject = strconv.FormatInt(best.ExternalID, 10)
			similarity = best.Similarity
			observability.FacesRecognized.WithLabelValues(cameraID).Inc()
		}

		first := !track.Recognized
		prev := track.Subject
		track.Recognized = true
		track.LastRecognized = ts
		track.Subject = subject
		track.Similarity = similarity

		if !first && prev == subject {
			continue
		}
		key := emitKey(subject, track)
		if last, ok := st.lastEmit[key]; ok && ts.Sub(last) < r.opts.ReemitInterval {
			continue
		}
		st.lastEmit[key] = ts

		ev := models.MatchEvent{
			ID:         uuid.New(),
			CameraID:   cameraID,
			ClassID:    scope,
			TrackID:    track.ID,
			Similarity: similarity,
			Confidence: track.Confidence,
			BBox:       track.BBox,
			Timestamp:  ts,
		}
		kind := "unknown"
		if best != nil {
			id := best.ExternalID
			ev.ExternalID = &id
			ev.DisplayName = best.DisplayName
			ev.IdentityType = best.IdentityType
			kind = "match"
		}

		r.emitter.Emit(ev, vision.FaceSnapshot(img, track.BBox, r.opts.SnapshotQuality))
		observability.EventsEmitted.WithLabelValues(cameraID, kind).Inc()
		events = append(events, ev)
	}
	return events, nil
}

func (r *Runtime) camera(id string) *cameraState {
	r.camMu.Lock()
	defer r.camMu.Unlock()
	st, ok := r.cameras[id]
	if !ok {
		st = &cameraState{
			tracker:  vision.NewTracker(id, r.opts.MaxAge, r.opts.MinHits),
			lastEmit: make(map[string]time.Time),
		}
		r.cameras[id] = st
	}
	return st
}

// resetCameras drops tracks and emission history so a new period starts
// from a clean slate.
func (r *Runtime) resetCameras() {
	r.camMu.Lock()
	defer r.camMu.Unlock()
	for _, st := range r.cameras {
		st.mu.Lock()
		st.tracker.Reset()
		clear(st.lastEmit)
		st.mu.Unlock()
	}
}
