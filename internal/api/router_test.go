package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/your-org/rollcall/internal/api/handlers"
	"github.com/your-org/rollcall/internal/index"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/rostersync"
	"github.com/your-org/rollcall/internal/schedule"
	"github.com/your-org/rollcall/internal/vision"
	"github.com/your-org/rollcall/pkg/dto"
)

type fakeSyncer struct {
	err      error
	scopeErr error
	class    string
}

func (f *fakeSyncer) SyncAll(context.Context) ([]rostersync.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.scopeErr != nil {
		return []rostersync.Summary{{Scope: "staff", Err: f.scopeErr}, {Scope: "7A", Built: true}}, f.scopeErr
	}
	return []rostersync.Summary{{Scope: "staff", Added: 1}, {Scope: "7A", Updated: 2, Built: true}}, nil
}

func (f *fakeSyncer) SyncClass(_ context.Context, classID string) (rostersync.Summary, error) {
	f.class = classID
	return rostersync.Summary{Scope: classID, Built: true}, f.err
}

type fakeState struct{}

func (fakeState) Enabled() bool { return true }
func (fakeState) Scope() string { return "A" }

type fakeSchedule struct{ s *schedule.Schedule }

func (f fakeSchedule) Current() *schedule.Schedule { return f.s }

type fakeFaces struct{ err error }

func (f fakeFaces) ExtractFromImage(image.Image, vision.Mode) (*vision.FaceResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &vision.FaceResult{Embedding: []float32{1, 0}}, nil
}

type fakeIndex struct {
	threshold float32
	kind      index.Kind
	built     []string
}

func (f *fakeIndex) SearchKind(_ context.Context, kind index.Kind, _ []float32, scope string, _ int, threshold float32) ([]index.Match, error) {
	f.threshold, f.kind = threshold, kind
	if scope == "missing" {
		return nil, index.ErrIndexNotFound
	}
	return []index.Match{{ExternalID: 7, DisplayName: "Ann", IdentityType: models.IdentityPupil, Similarity: 0.8}}, nil
}

func (f *fakeIndex) Info(scope string, kind index.Kind) (string, int, time.Time, error) {
	if scope == "missing" || kind == index.KindVoice {
		return "", 0, time.Time{}, index.ErrIndexNotFound
	}
	return "b1", 3, time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC), nil
}

func (f *fakeIndex) Invalidate(string) {}

func (f *fakeIndex) Build(_ context.Context, scope string) (bool, error) {
	f.built = append(f.built, scope)
	return true, nil
}

type fakeIdentities struct{}

func (fakeIdentities) GetIdentity(_ context.Context, scope string, id int64) (*models.Identity, error) {
	if scope != "7A" || id != 42 {
		return nil, nil
	}
	return &models.Identity{
		ExternalID:   42,
		DisplayName:  "Ada",
		Scope:        "7A",
		IdentityType: models.IdentityPupil,
		Media: []models.MediaAsset{
			{AssetType: models.AssetImage, FileName: "ada.jpg", Embedding: []float32{1, 0}},
			{AssetType: models.AssetAudio, FileName: "ada.wav", Error: "too short"},
		},
	}, nil
}

func newTestRouter(syncer *fakeSyncer, idx *fakeIndex, faces fakeFaces) http.Handler {
	day := time.Date(2025, 9, 1, 10, 30, 0, 0, time.UTC)
	s := schedule.Build([]models.ClassTimetable{
		{ClassID: "A", Periods: []models.PeriodSlot{{StartTime: "08:00", EndTime: "12:00"}}},
	}, day, time.UTC)

	return NewRouter(RouterConfig{
		APIKey: "k",
		Checks: map[string]handlers.Check{
			"store": func(context.Context) error { return nil },
			"nats":  func(context.Context) error { return errors.New("not connected") },
		},
		Syncer:     syncer,
		Schedule:   fakeSchedule{s},
		State:      fakeState{},
		Faces:      faces,
		Searcher:   idx,
		Builder:    idx,
		Identities: fakeIdentities{},
		Defaults:   handlers.SearchDefaults{TopK: 5, FaceThreshold: 0.45, VoiceThreshold: 0.55},
	})
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set("X-API-Key", "k")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func imageUpload(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	fw, err := mw.CreateFormFile("image", "face.png")
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	if err := png.Encode(fw, img); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/search", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestReadyz(t *testing.T) {
	r := newTestRouter(&fakeSyncer{}, &fakeIndex{}, fakeFaces{})
	w := do(r, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	syncer := &fakeSyncer{}
	r := newTestRouter(syncer, &fakeIndex{}, fakeFaces{})

	w := do(r, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp dto.SyncResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Scopes) != 2 || resp.Scopes[1].Updated != 2 {
		t.Errorf("resp = %+v", resp)
	}

	do(r, httptest.NewRequest(http.MethodPost, "/v1/sync?class_id=7B", nil))
	if syncer.class != "7B" {
		t.Errorf("SyncClass got %q", syncer.class)
	}

	syncer.err = rostersync.ErrInProgress
	if w := do(r, httptest.NewRequest(http.MethodPost, "/v1/sync", nil)); w.Code != http.StatusConflict {
		t.Errorf("busy status = %d, want 409", w.Code)
	}
}

func TestSyncEndpointPartialFailure(t *testing.T) {
	syncer := &fakeSyncer{scopeErr: errors.New("sync staff: status 503")}
	r := newTestRouter(syncer, &fakeIndex{}, fakeFaces{})

	w := do(r, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp dto.SyncResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Scopes) != 2 || resp.Scopes[0].Error != "sync staff: status 503" || resp.Scopes[1].Error != "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestScheduleEndpoint(t *testing.T) {
	r := newTestRouter(&fakeSyncer{}, &fakeIndex{}, fakeFaces{})
	w := do(r, httptest.NewRequest(http.MethodGet, "/v1/schedule", nil))

	var resp dto.ScheduleResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Enabled || resp.ActiveClass != "A" || resp.Current == nil || resp.Current.ClassID != "A" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Day != "2025-09-01" || len(resp.Periods) != 1 {
		t.Errorf("day %q periods %d", resp.Day, len(resp.Periods))
	}
}

func TestSearchEndpoint(t *testing.T) {
	idx := &fakeIndex{}
	r := newTestRouter(&fakeSyncer{}, idx, fakeFaces{})

	w := do(r, imageUpload(t, map[string]string{"scope": "7A", "threshold": "0.3"}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp dto.SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].ExternalID != 7 {
		t.Errorf("matches = %+v", resp.Matches)
	}
	if idx.threshold != 0.3 || idx.kind != index.KindFace {
		t.Errorf("searched kind %s threshold %v", idx.kind, idx.threshold)
	}

	if w := do(r, imageUpload(t, map[string]string{"scope": "missing"})); w.Code != http.StatusNotFound {
		t.Errorf("missing index status = %d, want 404", w.Code)
	}
	if w := do(r, imageUpload(t, nil)); w.Code != http.StatusBadRequest {
		t.Errorf("missing scope status = %d, want 400", w.Code)
	}
	if w := do(r, imageUpload(t, map[string]string{"scope": "7A", "top_k": "2000000000"})); w.Code != http.StatusBadRequest {
		t.Errorf("oversized top_k status = %d, want 400", w.Code)
	}
}

func TestSearchNoFace(t *testing.T) {
	r := newTestRouter(&fakeSyncer{}, &fakeIndex{}, fakeFaces{err: &vision.ExtractError{Kind: vision.KindNoFace}})
	if w := do(r, imageUpload(t, map[string]string{"scope": "7A"})); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestSearchAudioWithoutModel(t *testing.T) {
	r := newTestRouter(&fakeSyncer{}, &fakeIndex{}, fakeFaces{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("scope", "7A")
	fw, _ := mw.CreateFormFile("audio", "clip.wav")
	fw.Write([]byte("RIFF"))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/search", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if w := do(r, req); w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", w.Code)
	}
}

func TestIndexEndpoints(t *testing.T) {
	idx := &fakeIndex{}
	r := newTestRouter(&fakeSyncer{}, idx, fakeFaces{})

	w := do(r, httptest.NewRequest(http.MethodPost, "/v1/indexes/7A/build", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp dto.BuildResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Built || resp.Faces == nil || resp.Faces.Vectors != 3 || resp.Voices != nil {
		t.Errorf("resp = %+v", resp)
	}
	if len(idx.built) != 1 || idx.built[0] != "7A" {
		t.Errorf("built = %v", idx.built)
	}

	if w := do(r, httptest.NewRequest(http.MethodGet, "/v1/indexes/missing", nil)); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}

	if w := do(r, httptest.NewRequest(http.MethodPost, "/v1/indexes/7%2FA/build", nil)); w.Code != http.StatusOK {
		t.Fatalf("escaped scope status = %d", w.Code)
	}
	if got := idx.built[len(idx.built)-1]; got != "7/A" {
		t.Errorf("built scope = %q, want 7/A", got)
	}
}

func TestV1RequiresKey(t *testing.T) {
	r := newTestRouter(&fakeSyncer{}, &fakeIndex{}, fakeFaces{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/schedule", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestIdentityEndpoint(t *testing.T) {
	r := newTestRouter(&fakeSyncer{}, &fakeIndex{}, fakeFaces{})

	w := do(r, httptest.NewRequest(http.MethodGet, "/v1/identities/7A/42", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp dto.IdentityResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.DisplayName != "Ada" || len(resp.Media) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if !resp.Media[0].HasEmbedding || resp.Media[1].HasEmbedding || resp.Media[1].Error != "too short" {
		t.Errorf("media = %+v", resp.Media)
	}

	if w := do(r, httptest.NewRequest(http.MethodGet, "/v1/identities/7A/7", nil)); w.Code != http.StatusNotFound {
		t.Errorf("unknown status = %d", w.Code)
	}
	if w := do(r, httptest.NewRequest(http.MethodGet, "/v1/identities/7A/abc", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", w.Code)
	}
}
