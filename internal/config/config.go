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
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Upload   UploadConfig   `yaml:"upload"`
	Detector DetectorConfig `yaml:"detector"`
	Tracking TrackingConfig `yaml:"tracking"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Feed     FeedConfig     `yaml:"feed"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metrics_port"` // worker side listener
}

type DatabaseConfig struct {
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

type NATSConfig struct {
	URL        string        `yaml:"url"`
	AckWait    time.Duration `yaml:"ack_wait"`
	MaxDeliver int           `yaml:"max_deliver"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Archive   bool   `yaml:"archive"` // upload processed videos and detection exports
}

// Enabled reports whether an object store is configured at all.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

type WatcherConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Dir             string        `yaml:"dir"`
	Suffix          string        `yaml:"suffix"`
	SubmitURL       string        `yaml:"submit_url"`
	SubmitTimeout   time.Duration `yaml:"submit_timeout"`
	HandoffCapacity int           `yaml:"handoff_capacity"`
	ScanExisting    bool          `yaml:"scan_existing"`
}

type UploadConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type DetectorConfig struct {
	ModelsDir           string   `yaml:"models_dir"`
	Model               string   `yaml:"model"`
	ClassNames          []string `yaml:"class_names"`
	InputSize           int      `yaml:"input_size"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	NMSThreshold        float64  `yaml:"nms_threshold"`
}

type TrackingConfig struct {
	MaxAge       int     `yaml:"max_age"`
	MinHits      int     `yaml:"min_hits"`
	IoUThreshold float64 `yaml:"iou_threshold"`
}

type PipelineConfig struct {
	KeepPartialOnFailure *bool  `yaml:"keep_partial_on_failure"`
	FFmpegPath           string `yaml:"ffmpeg_path"`
	FFprobePath          string `yaml:"ffprobe_path"`
}

// KeepPartial returns the effective keep_partial_on_failure setting.
func (p PipelineConfig) KeepPartial() bool {
	return p.KeepPartialOnFailure == nil || *p.KeepPartialOnFailure
}

type FeedConfig struct {
	Interval time.Duration `yaml:"interval"`
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

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.AckWait == 0 {
		cfg.NATS.AckWait = 60 * time.Second
	}
	if cfg.NATS.MaxDeliver == 0 {
		cfg.NATS.MaxDeliver = 3
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "vesselwatch"
	}
	if cfg.Watcher.Suffix == "" {
		cfg.Watcher.Suffix = ".mp4"
	}
	if cfg.Watcher.SubmitURL == "" {
		cfg.Watcher.SubmitURL = fmt.Sprintf("http://localhost:%d/v1/detect", cfg.Server.Port)
	}
	if cfg.Watcher.SubmitTimeout == 0 {
		cfg.Watcher.SubmitTimeout = 10 * time.Second
	}
	if cfg.Watcher.HandoffCapacity == 0 {
		cfg.Watcher.HandoffCapacity = 256
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = "data/uploads"
	}
	if cfg.Upload.MaxBytes == 0 {
		cfg.Upload.MaxBytes = 4 << 30
	}
	if cfg.Detector.ModelsDir == "" {
		cfg.Detector.ModelsDir = "models"
	}
	if cfg.Detector.Model == "" {
		cfg.Detector.Model = "vessels.onnx"
	}
	if cfg.Detector.InputSize == 0 {
		cfg.Detector.InputSize = 640
	}
	if cfg.Detector.ConfidenceThreshold == 0 {
		cfg.Detector.ConfidenceThreshold = 0.25
	}
	if cfg.Detector.NMSThreshold == 0 {
		cfg.Detector.NMSThreshold = 0.45
	}
	if cfg.Tracking.MaxAge == 0 {
		cfg.Tracking.MaxAge = 30
	}
	if cfg.Tracking.MinHits == 0 {
		cfg.Tracking.MinHits = 1
	}
	if cfg.Tracking.IoUThreshold == 0 {
		cfg.Tracking.IoUThreshold = 0.3
	}
	if cfg.Pipeline.FFmpegPath == "" {
		cfg.Pipeline.FFmpegPath = "ffmpeg"
	}
	if cfg.Pipeline.FFprobePath == "" {
		cfg.Pipeline.FFprobePath = "ffprobe"
	}
	if cfg.Feed.Interval == 0 {
		cfg.Feed.Interval = time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VW_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("VW_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("VW_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("VW_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("VW_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("VW_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("VW_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("VW_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("VW_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("VW_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("VW_VIDEOS_PATH"); v != "" {
		cfg.Watcher.Dir = v
	}
	if v := os.Getenv("VW_WATCHER_ENABLED"); v != "" {
		cfg.Watcher.Enabled = parseBool(v, cfg.Watcher.Enabled)
	}
	if v := os.Getenv("VW_UPLOAD_DIR"); v != "" {
		cfg.Upload.Dir = v
	}
	if v := os.Getenv("VW_MODELS_DIR"); v != "" {
		cfg.Detector.ModelsDir = v
	}
	if v := os.Getenv("VW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
