package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Index.Dim != 512 {
		t.Errorf("Index.Dim = %d, want 512", cfg.Index.Dim)
	}
	if cfg.Sync.Cron != "@hourly" {
		t.Errorf("Sync.Cron = %q, want @hourly", cfg.Sync.Cron)
	}
	if cfg.Recognition.FaceThreshold != 0.45 {
		t.Errorf("FaceThreshold = %v, want 0.45", cfg.Recognition.FaceThreshold)
	}
	if cfg.Tracking.ReRecognizeInterval != 3*time.Second {
		t.Errorf("ReRecognizeInterval = %v, want 3s", cfg.Tracking.ReRecognizeInterval)
	}
}

func TestLoadDurationsAndCameras(t *testing.T) {
	body := `
recognition:
  reemit_interval: 45s
vision:
  max_fps: 8
cameras:
  - id: gate
    url: rtsp://cam/1
    fps: 25
    class_ids: ["7A"]
  - id: hall
    url: rtsp://cam/2
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Recognition.ReemitInterval != 45*time.Second {
		t.Errorf("ReemitInterval = %v, want 45s", cfg.Recognition.ReemitInterval)
	}
	if len(cfg.Cameras) != 2 {
		t.Fatalf("len(Cameras) = %d, want 2", len(cfg.Cameras))
	}
	if cfg.Cameras[0].FPS != 8 {
		t.Errorf("gate FPS = %d, want clamp to 8", cfg.Cameras[0].FPS)
	}
	if cfg.Cameras[1].FPS != 5 {
		t.Errorf("hall FPS = %d, want default 5", cfg.Cameras[1].FPS)
	}
	if got := cfg.Cameras[0].ClassIDs; len(got) != 1 || got[0] != "7A" {
		t.Errorf("gate ClassIDs = %v", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RC_DB_DRIVER", "mongo")
	t.Setenv("RC_FACE_THRESHOLD", "0.6")
	t.Setenv("RC_ROSTER_URL", "https://school.example/api/")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "mongo" {
		t.Errorf("Driver = %q, want mongo", cfg.Database.Driver)
	}
	if cfg.Recognition.FaceThreshold != 0.6 {
		t.Errorf("FaceThreshold = %v, want 0.6", cfg.Recognition.FaceThreshold)
	}
	if cfg.Sync.Roster.BaseURL != "https://school.example/api" {
		t.Errorf("Roster.BaseURL = %q", cfg.Sync.Roster.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad driver", "database:\n  driver: sqlite\n"},
		{"duplicate camera", "cameras:\n  - id: a\n  - id: a\n"},
		{"missing camera id", "cameras:\n  - url: rtsp://x\n"},
		{"threshold out of range", "recognition:\n  face_threshold: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("Load succeeded, want error")
			}
		})
	}
}

func TestScheduleLocation(t *testing.T) {
	loc, err := ScheduleConfig{Timezone: "UTC"}.Location()
	if err != nil {
		t.Fatal(err)
	}
	if loc != time.UTC {
		t.Errorf("Location = %v, want UTC", loc)
	}
	if _, err := (ScheduleConfig{Timezone: "Nowhere/Land"}).Location(); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
