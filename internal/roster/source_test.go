package roster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/your-org/rollcall/internal/config"
)

func newTestSource(t *testing.T, h http.HandlerFunc) *HTTPSource {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPSource(config.RosterConfig{BaseURL: srv.URL + "/", Token: "secret", Timeout: time.Second})
}

func TestListPupils(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/classes/7A/pupils" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`[
			{"external_id": 1, "display_name": "Ann", "version": 3.5,
			 "media": [{"asset_type": "image", "url": "https://cdn/1.jpg", "file_name": "1.jpg"}]},
			{"external_id": 2, "display_name": "Bob", "version": "4"},
			{"external_id": 3, "display_name": "Cid", "version": null}
		]`))
	})

	pupils, err := src.ListPupils(context.Background(), "7A")
	if err != nil {
		t.Fatal(err)
	}
	if len(pupils) != 3 {
		t.Fatalf("len = %d, want 3", len(pupils))
	}
	if v := pupils[0].Version.Value; v == nil || *v != 3.5 {
		t.Errorf("pupil 1 version = %v, want 3.5", v)
	}
	if v := pupils[1].Version.Value; v == nil || *v != 4 {
		t.Errorf("pupil 2 version = %v, want 4", v)
	}
	if pupils[2].Version.Value != nil {
		t.Errorf("pupil 3 version = %v, want nil", *pupils[2].Version.Value)
	}
	if len(pupils[0].Media) != 1 || pupils[0].Media[0].URL != "https://cdn/1.jpg" {
		t.Errorf("media = %+v", pupils[0].Media)
	}
}

func TestListClasses(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"class_id": "7A", "name": "7A", "periods": [
			{"start_time": "08:00", "end_time": "12:00", "auto_attendance_check": true}]}]`))
	})
	classes, err := src.ListClasses(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(classes) != 1 || len(classes[0].Periods) != 1 || !classes[0].Periods[0].AutoAttendanceCheck {
		t.Errorf("classes = %+v", classes)
	}
}

func TestListNon2xxIsError(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})
	if _, err := src.ListStaff(context.Background()); err == nil {
		t.Fatal("ListStaff succeeded on 503")
	}
}

func TestParseVersion(t *testing.T) {
	if v := ParseVersion(""); v.Value != nil || v.Raw != "" {
		t.Errorf("empty = %+v", v)
	}
	if v := ParseVersion("v2"); v.Value != nil || v.Raw != "v2" {
		t.Errorf("v2 = %+v", v)
	}
	if v := ParseVersion(" 1.25 "); v.Value == nil || *v.Value != 1.25 {
		t.Errorf("1.25 = %+v", v)
	}

	var e Entry
	if err := json.Unmarshal([]byte(`{"external_id": 9, "version": true}`), &e); err == nil {
		t.Error("boolean version accepted")
	}
}
