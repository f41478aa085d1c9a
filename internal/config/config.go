package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Mongo       MongoConfig       `yaml:"mongo"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Redis       RedisConfig       `yaml:"redis"`
	Vision      VisionConfig      `yaml:"vision"`
	Voice       VoiceConfig       `yaml:"voice"`
	Index       IndexConfig       `yaml:"index"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Sync        SyncConfig        `yaml:"sync"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
	Cameras     []CameraConfig    `yaml:"cameras"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// DatabaseConfig selects the identity store backend. Driver is "postgres"
// (default) or "mongo".
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type MongoConfig struct {
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	MaxPoolSize uint64 `yaml:"max_pool_size"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// RedisConfig is optional. An empty Addr disables the distributed sync lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectorModel      string  `yaml:"detector_model"`
	EmbedderModel      string  `yaml:"embedder_model"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	DefaultFPS         int     `yaml:"default_fps"`
	MaxFPS             int     `yaml:"max_fps"`
	WorkerCount        int     `yaml:"worker_count"`
	FrameWidth         int     `yaml:"frame_width"`
}

type VoiceConfig struct {
	Model      string   `yaml:"model"`
	FFmpegPath string   `yaml:"ffmpeg_path"`
	SampleRate int      `yaml:"sample_rate"`
	AllowedExt []string `yaml:"allowed_ext"`
}

type IndexConfig struct {
	Dir      string `yaml:"dir"`
	Dim      int    `yaml:"dim"`
	VoiceDim int    `yaml:"voice_dim"`
}

type RecognitionConfig struct {
	FaceThreshold  float64       `yaml:"face_threshold"`
	VoiceThreshold float64       `yaml:"voice_threshold"`
	TopK           int           `yaml:"top_k"`
	ReemitInterval time.Duration `yaml:"reemit_interval"`
	EventBuffer    int           `yaml:"event_buffer"`
}

type TrackingConfig struct {
	MaxAge              int           `yaml:"max_age"`
	MinHits             int           `yaml:"min_hits"`
	ReRecognizeInterval time.Duration `yaml:"re_recognize_interval"`
}

type SyncConfig struct {
	Cron        string        `yaml:"cron"`
	Concurrency int           `yaml:"concurrency"`
	MediaDir    string        `yaml:"media_dir"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	Roster      RosterConfig  `yaml:"roster"`
}

type RosterConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type ScheduleConfig struct {
	Timezone    string `yaml:"timezone"`
	RefreshCron string `yaml:"refresh_cron"`
}

// Location resolves Timezone, falling back to the local zone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

type StorageConfig struct {
	FrameRetention time.Duration `yaml:"frame_retention"`
}

// CameraConfig binds a camera to zero or more classes. A camera with no
// ClassIDs recognizes for whatever class is active.
type CameraConfig struct {
	ID       string   `yaml:"id"`
	URL      string   `yaml:"url"`
	FPS      int      `yaml:"fps"`
	ClassIDs []string `yaml:"class_ids"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mongo":
	default:
		return fmt.Errorf("database.driver %q: must be postgres or mongo", c.Database.Driver)
	}
	if c.Recognition.FaceThreshold < -1 || c.Recognition.FaceThreshold > 1 {
		return fmt.Errorf("recognition.face_threshold %v: out of [-1, 1]", c.Recognition.FaceThreshold)
	}
	if c.Index.Dim <= 0 {
		return fmt.Errorf("index.dim %d: must be positive", c.Index.Dim)
	}
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera with url %q has no id", cam.URL)
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "rollcall"
	}
	if cfg.Mongo.MaxPoolSize == 0 {
		cfg.Mongo.MaxPoolSize = 50
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.EmbedderModel == "" {
		cfg.Vision.EmbedderModel = "w600k_r50.onnx"
	}
	if cfg.Vision.DefaultFPS == 0 {
		cfg.Vision.DefaultFPS = 5
	}
	if cfg.Vision.MaxFPS == 0 {
		cfg.Vision.MaxFPS = 10
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 6
	}
	if cfg.Vision.FrameWidth == 0 {
		cfg.Vision.FrameWidth = 640
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Voice.FFmpegPath == "" {
		cfg.Voice.FFmpegPath = "ffmpeg"
	}
	if cfg.Voice.SampleRate == 0 {
		cfg.Voice.SampleRate = 16000
	}
	if len(cfg.Voice.AllowedExt) == 0 {
		cfg.Voice.AllowedExt = []string{".wav", ".mp3", ".m4a", ".ogg", ".oga", ".flac", ".webm", ".aac", ".opus"}
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = "data/indexes"
	}
	if cfg.Index.Dim == 0 {
		cfg.Index.Dim = 512
	}
	if cfg.Recognition.FaceThreshold == 0 {
		cfg.Recognition.FaceThreshold = 0.45
	}
	if cfg.Recognition.VoiceThreshold == 0 {
		cfg.Recognition.VoiceThreshold = 0.55
	}
	if cfg.Recognition.TopK == 0 {
		cfg.Recognition.TopK = 5
	}
	if cfg.Recognition.ReemitInterval == 0 {
		cfg.Recognition.ReemitInterval = 30 * time.Second
	}
	if cfg.Recognition.EventBuffer == 0 {
		cfg.Recognition.EventBuffer = 256
	}
	if cfg.Tracking.MaxAge == 0 {
		cfg.Tracking.MaxAge = 30
	}
	if cfg.Tracking.MinHits == 0 {
		cfg.Tracking.MinHits = 3
	}
	if cfg.Tracking.ReRecognizeInterval == 0 {
		cfg.Tracking.ReRecognizeInterval = 3 * time.Second
	}
	if cfg.Sync.Cron == "" {
		cfg.Sync.Cron = "@hourly"
	}
	if cfg.Sync.Concurrency == 0 {
		cfg.Sync.Concurrency = 4
	}
	if cfg.Sync.MediaDir == "" {
		cfg.Sync.MediaDir = "data/media"
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 30 * time.Minute
	}
	if cfg.Sync.Roster.Timeout == 0 {
		cfg.Sync.Roster.Timeout = 30 * time.Second
	}
	if cfg.Schedule.RefreshCron == "" {
		cfg.Schedule.RefreshCron = "@every 1m"
	}
	if cfg.Storage.FrameRetention == 0 {
		cfg.Storage.FrameRetention = 24 * time.Hour
	}
	for i := range cfg.Cameras {
		if cfg.Cameras[i].FPS == 0 {
			cfg.Cameras[i].FPS = cfg.Vision.DefaultFPS
		}
		if cfg.Cameras[i].FPS > cfg.Vision.MaxFPS {
			cfg.Cameras[i].FPS = cfg.Vision.MaxFPS
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RC_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("RC_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("RC_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("RC_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("RC_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("RC_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("RC_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("RC_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("RC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("RC_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("RC_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("RC_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("RC_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("RC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RC_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("RC_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("RC_FACE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.FaceThreshold = f
		}
	}
	if v := os.Getenv("RC_INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("RC_MEDIA_DIR"); v != "" {
		cfg.Sync.MediaDir = v
	}
	if v := os.Getenv("RC_ROSTER_URL"); v != "" {
		cfg.Sync.Roster.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("RC_ROSTER_TOKEN"); v != "" {
		cfg.Sync.Roster.Token = v
	}
	if v := os.Getenv("RC_TIMEZONE"); v != "" {
		cfg.Schedule.Timezone = v
	}
}
