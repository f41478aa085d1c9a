package recognition

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/index"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/vision"
)

type fakeModel struct {
	mu   sync.Mutex
	dets []vision.Detection
	// embedding returned per detection, keyed by bbox x1
	embs map[float32][]float32
}

func (f *fakeModel) DetectFaces(image.Image) ([]vision.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vision.Detection(nil), f.dets...), nil
}

func (f *fakeModel) EmbedFace(_ image.Image, det vision.Detection) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	emb, ok := f.embs[det.BBox[0]]
	if !ok {
		return nil, errors.New("no embedding")
	}
	return emb, nil
}

// fakeSearcher resolves embedding[0] to an external id; 0 means no match.
type fakeSearcher struct {
	calls  int
	scopes []string
	err    error
}

func (f *fakeSearcher) SearchBatch(_ context.Context, embs [][]float32, scope string, _ float32) ([][]index.Match, error) {
	f.calls++
	f.scopes = append(f.scopes, scope)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]index.Match, len(embs))
	for i, e := range embs {
		if id := int64(e[0]); id != 0 {
			out[i] = []index.Match{{ExternalID: id, DisplayName: "pupil", IdentityType: models.IdentityPupil, Similarity: 0.9}}
		}
	}
	return out, nil
}

type captureEmitter struct {
	events []models.MatchEvent
}

func (c *captureEmitter) Emit(ev models.MatchEvent, _ []byte) bool {
	c.events = append(c.events, ev)
	return true
}

func face(x float32) vision.Detection {
	return vision.Detection{BBox: [4]float32{x, 10, x + 40, 50}, Confidence: 0.9}
}

type fixture struct {
	model    *fakeModel
	searcher *fakeSearcher
	emitter  *captureEmitter
	rt       *Runtime
	frame    image.Image
}

func newFixture(cameras ...config.CameraConfig) *fixture {
	f := &fixture{
		model: &fakeModel{
			dets: []vision.Detection{face(0)},
			embs: map[float32][]float32{0: {7}, 100: {0}},
		},
		searcher: &fakeSearcher{},
		emitter:  &captureEmitter{},
		frame:    image.NewRGBA(image.Rect(0, 0, 200, 100)),
	}
	f.rt = NewRuntime(f.model, f.searcher, f.emitter, Options{
		Threshold:           0.45,
		ReemitInterval:      30 * time.Second,
		ReRecognizeInterval: time.Second,
		MaxAge:              5,
		MinHits:             1,
		Cameras:             cameras,
	})
	return f
}

var t0 = time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

func period(classID string) models.ActivePeriod {
	return models.ActivePeriod{ClassID: classID, Start: t0, End: t0.Add(time.Hour)}
}

func TestHandleFrameDisabledSkips(t *testing.T) {
	f := newFixture()
	evs, err := f.rt.HandleFrame(context.Background(), "gate", f.frame, t0)
	if err != nil || len(evs) != 0 {
		t.Fatalf("disabled runtime: events %v err %v", evs, err)
	}
	if f.searcher.calls != 0 {
		t.Error("searched while disabled")
	}
}

func TestHandleFrameEmitsOnlyOnChange(t *testing.T) {
	f := newFixture()
	f.rt.Activate(period("7A"))
	ctx := context.Background()

	evs, err := f.rt.HandleFrame(ctx, "gate", f.frame, t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Subject() != "7" || evs[0].ClassID != "7A" {
		t.Fatalf("first frame events = %+v", evs)
	}
	if f.searcher.scopes[0] != "7A" {
		t.Errorf("searched scope %q, want 7A", f.searcher.scopes[0])
	}

	// same identity on the same track: no event even after re-recognition
	for i := 1; i <= 5; i++ {
		evs, _ = f.rt.HandleFrame(ctx, "gate", f.frame, t0.Add(time.Duration(i)*2*time.Second))
		if len(evs) != 0 {
			t.Fatalf("frame %d re-emitted %+v", i, evs)
		}
	}
	if f.searcher.calls < 2 {
		t.Errorf("track was not re-recognized (%d searches)", f.searcher.calls)
	}

	// identity changes on the track
	f.model.embs[0] = []float32{9}
	evs, _ = f.rt.HandleFrame(ctx, "gate", f.frame, t0.Add(20*time.Second))
	if len(evs) != 1 || evs[0].Subject() != "9" {
		t.Fatalf("identity change events = %+v", evs)
	}
	if len(f.emitter.events) != 2 {
		t.Errorf("emitted %d events, want 2", len(f.emitter.events))
	}
}

func TestHandleFrameReemitInterval(t *testing.T) {
	f := newFixture()
	f.rt.Activate(period("7A"))
	ctx := context.Background()

	if evs, _ := f.rt.HandleFrame(ctx, "gate", f.frame, t0); len(evs) != 1 {
		t.Fatalf("first sighting events = %d", len(evs))
	}

	// the face leaves and comes back as a new track within the interval
	f.model.dets = nil
	for i := 1; i <= 6; i++ {
		f.rt.HandleFrame(ctx, "gate", f.frame, t0.Add(time.Duration(i)*time.Second))
	}
	f.model.dets = []vision.Detection{face(0)}
	if evs, _ := f.rt.HandleFrame(ctx, "gate", f.frame, t0.Add(10*time.Second)); len(evs) != 0 {
		t.Errorf("re-emitted within interval: %+v", evs)
	}

	f.model.dets = nil
	for i := 11; i <= 17; i++ {
		f.rt.HandleFrame(ctx, "gate", f.frame, t0.Add(time.Duration(i)*time.Second))
	}
	f.model.dets = []vision.Detection{face(0)}
	if evs, _ := f.rt.HandleFrame(ctx, "gate", f.frame, t0.Add(45*time.Second)); len(evs) != 1 {
		t.Errorf("no event after interval elapsed: %+v", evs)
	}
}

func TestHandleFrameUnknown(t *testing.T) {
	f := newFixture()
	f.rt.Activate(period("7A"))
	f.model.dets = []vision.Detection{face(0), face(100)}

	evs, err := f.rt.HandleFrame(context.Background(), "gate", f.frame, t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("events = %+v", evs)
	}
	var unknown int
	for _, ev := range evs {
		if ev.Subject() == models.UnknownSubject {
			unknown++
			if ev.ExternalID != nil || ev.Similarity != 0 {
				t.Errorf("unknown event carries identity: %+v", ev)
			}
		}
	}
	if unknown != 1 {
		t.Errorf("unknown events = %d, want 1", unknown)
	}
}

func TestHandleFrameTwoStrangers(t *testing.T) {
	f := newFixture()
	f.rt.Activate(period("7A"))
	ctx := context.Background()
	f.model.embs[0] = []float32{0}

	f.model.dets = []vision.Detection{face(100)}
	evs, _ := f.rt.HandleFrame(ctx, "gate", f.frame, t0)
	if len(evs) != 1 || evs[0].Subject() != models.UnknownSubject {
		t.Fatalf("first stranger events = %+v", evs)
	}

	// a second, different unknown face joins within the reemit interval
	f.model.dets = []vision.Detection{face(100), face(0)}
	evs, _ = f.rt.HandleFrame(ctx, "gate", f.frame, t0.Add(2*time.Second))
	if len(evs) != 1 || evs[0].Subject() != models.UnknownSubject {
		t.Fatalf("second stranger events = %+v", evs)
	}
	if evs[0].TrackID == f.emitter.events[0].TrackID {
		t.Errorf("second stranger reported on the first track %s", evs[0].TrackID)
	}

	// neither stranger repeats while tracked
	if evs, _ := f.rt.HandleFrame(ctx, "gate", f.frame, t0.Add(4*time.Second)); len(evs) != 0 {
		t.Errorf("strangers re-emitted: %+v", evs)
	}
}

func TestHandleFrameMissingIndexIsUnknown(t *testing.T) {
	f := newFixture()
	f.searcher.err = index.ErrIndexNotFound
	f.rt.Activate(period("7A"))

	evs, err := f.rt.HandleFrame(context.Background(), "gate", f.frame, t0)
	if err != nil {
		t.Fatalf("missing index must not fail the frame: %v", err)
	}
	if len(evs) != 1 || evs[0].Subject() != models.UnknownSubject {
		t.Errorf("events = %+v", evs)
	}
}

func TestCameraClassBinding(t *testing.T) {
	f := newFixture(config.CameraConfig{ID: "lab", ClassIDs: []string{"7B"}})
	f.rt.Activate(period("7A"))
	ctx := context.Background()

	if evs, _ := f.rt.HandleFrame(ctx, "lab", f.frame, t0); len(evs) != 0 {
		t.Errorf("camera bound to 7B recognized during 7A: %+v", evs)
	}
	if evs, _ := f.rt.HandleFrame(ctx, "hall", f.frame, t0); len(evs) != 1 {
		t.Errorf("unbound camera did not recognize: %+v", evs)
	}

	f.rt.Activate(period("7B"))
	if evs, _ := f.rt.HandleFrame(ctx, "lab", f.frame, t0); len(evs) != 1 {
		t.Errorf("bound camera did not recognize its class: %+v", evs)
	}
}

func TestActivateDeactivate(t *testing.T) {
	f := newFixture()
	f.rt.Activate(period("A"))
	f.rt.Activate(period("B"))

	f.rt.Deactivate("A")
	if !f.rt.Enabled() || f.rt.Scope() != "B" {
		t.Fatalf("stale deactivate changed state: enabled %v scope %q", f.rt.Enabled(), f.rt.Scope())
	}
	f.rt.Deactivate("B")
	if f.rt.Enabled() || f.rt.Scope() != "" {
		t.Errorf("after deactivate: enabled %v scope %q", f.rt.Enabled(), f.rt.Scope())
	}
}

func TestNewPeriodResetsHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.rt.Activate(period("A"))
	f.rt.HandleFrame(ctx, "gate", f.frame, t0)

	f.rt.Deactivate("A")
	if n := f.rt.camera("gate").tracker.TrackCount(); n != 0 {
		t.Errorf("tracks after deactivate = %d, want 0", n)
	}
	f.rt.Activate(period("A"))
	if evs, _ := f.rt.HandleFrame(ctx, "gate", f.frame, t0.Add(time.Second)); len(evs) != 1 {
		t.Errorf("identity not reported in new period: %+v", evs)
	}
}
