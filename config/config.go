package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	CompreFace  CompreFaceConfig  `mapstructure:"compreface"`
	Rekognition RekognitionConfig `mapstructure:"rekognition"`
	OpenCV      OpenCVConfig      `mapstructure:"opencv"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	DataDir         string   `mapstructure:"data_dir"`
	Timezone        string   `mapstructure:"timezone"`
	SessionSecret   string   `mapstructure:"session_secret"`
	DefaultLanguage string   `mapstructure:"default_language"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds the attendance ledger settings.
type DBConfig struct {
	File string `mapstructure:"file"`
}

// RecognitionConfig controls the recognition pipeline.
type RecognitionConfig struct {
	// Provider selects the capability used for search and enrollment: compreface or rekognition.
	Provider string `mapstructure:"provider"`
	// Detector optionally overrides face detection; "opencv" runs detection locally.
	Detector           string  `mapstructure:"detector"`
	CollectionID       string  `mapstructure:"collection_id"`
	MatchThreshold     float64 `mapstructure:"match_threshold"`
	MaxWorkers         int     `mapstructure:"max_workers"`
	QueueSize          int     `mapstructure:"queue_size"`
	CallTimeoutSeconds int     `mapstructure:"call_timeout_seconds"`
	Enhance            bool    `mapstructure:"enhance"`
	EnhanceContrast    float64 `mapstructure:"enhance_contrast"`
	EnhanceBrightness  float64 `mapstructure:"enhance_brightness"`
	MaxImageSize       int     `mapstructure:"max_image_size"`
	MinFaceSize        float64 `mapstructure:"min_face_size"` // percent; boxes whose smaller side is below it are rejected
}

// CompreFaceConfig holds CompreFace settings.
type CompreFaceConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	URL               string  `mapstructure:"url"`
	RecognitionAPIKey string  `mapstructure:"recognition_api_key"`
	DetectionAPIKey   string  `mapstructure:"detection_api_key"`
	DetProbThreshold  float64 `mapstructure:"det_prob_threshold"`
}

// RekognitionConfig holds AWS Rekognition settings. Empty keys fall back to the default AWS credential chain.
type RekognitionConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
}

// OpenCVConfig holds the local Haar cascade detector settings.
type OpenCVConfig struct {
	CascadeFile   string  `mapstructure:"cascade_file"`
	ScaleFactor   float64 `mapstructure:"scale_factor"`
	MinNeighbors  int     `mapstructure:"min_neighbors"`
	MinSizeWidth  int     `mapstructure:"min_size_width"`
	MinSizeHeight int     `mapstructure:"min_size_height"`
}

// MQTTConfig holds settings for the MQTT event publisher.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// SyncConfig controls retrying of collection operations that failed while the capability was down.
type SyncConfig struct {
	ProcessingIntervalSeconds int     `mapstructure:"processing_interval_seconds"`
	MaxRetries                int     `mapstructure:"max_retries"`
	RetryInitialDelaySeconds  int     `mapstructure:"retry_initial_delay_seconds"`
	RetryBackoffFactor        float64 `mapstructure:"retry_backoff_factor"`
	RetryMaxDelaySeconds      int     `mapstructure:"retry_max_delay_seconds"`
	RetentionDays             int     `mapstructure:"retention_days"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Load reads configuration from file, environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	v.SetEnvPrefix("FACE_ATTENDANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Recognition.Provider = strings.ToLower(cfg.Recognition.Provider)
	cfg.Recognition.Detector = strings.ToLower(cfg.Recognition.Detector)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	var errs []error

	switch c.Recognition.Provider {
	case "compreface", "rekognition":
	default:
		errs = append(errs, fmt.Errorf("recognition.provider: unknown provider %q", c.Recognition.Provider))
	}
	switch c.Recognition.Detector {
	case "", "provider", "opencv":
	default:
		errs = append(errs, fmt.Errorf("recognition.detector: unknown detector %q", c.Recognition.Detector))
	}
	if c.Recognition.MatchThreshold < 0 || c.Recognition.MatchThreshold > 100 {
		errs = append(errs, fmt.Errorf("recognition.match_threshold must be within [0,100], got %v", c.Recognition.MatchThreshold))
	}
	if c.Recognition.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("recognition.max_workers must be positive, got %d", c.Recognition.MaxWorkers))
	}
	if c.Recognition.CallTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("recognition.call_timeout_seconds must be positive, got %d", c.Recognition.CallTimeoutSeconds))
	}
	if c.Recognition.CollectionID == "" {
		errs = append(errs, errors.New("recognition.collection_id must not be empty"))
	}
	if c.Recognition.Provider == "compreface" && c.CompreFace.URL == "" {
		errs = append(errs, errors.New("compreface.url is required when provider is compreface"))
	}

	return errors.Join(errs...)
}

// setDefaults registers default values for every key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.timezone", "UTC")
	v.SetDefault("server.session_secret", "change-me")
	v.SetDefault("server.default_language", "en")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/face-attendance.log")

	v.SetDefault("db.file", "/data/attendance.db")

	v.SetDefault("recognition.provider", "compreface")
	v.SetDefault("recognition.detector", "provider")
	v.SetDefault("recognition.collection_id", "students")
	v.SetDefault("recognition.match_threshold", 80.0)
	v.SetDefault("recognition.max_workers", 4)
	v.SetDefault("recognition.queue_size", 16)
	v.SetDefault("recognition.call_timeout_seconds", 10)
	v.SetDefault("recognition.enhance", true)
	v.SetDefault("recognition.enhance_contrast", 20.0)
	v.SetDefault("recognition.enhance_brightness", 10.0)
	v.SetDefault("recognition.max_image_size", 1920)
	v.SetDefault("recognition.min_face_size", 0.0)

	v.SetDefault("compreface.enabled", true)
	v.SetDefault("compreface.url", "http://compreface:8000")
	v.SetDefault("compreface.det_prob_threshold", 0.8)

	v.SetDefault("rekognition.region", "us-east-1")

	v.SetDefault("opencv.cascade_file", "/app/data/haarcascade_frontalface_default.xml")
	v.SetDefault("opencv.scale_factor", 1.1)
	v.SetDefault("opencv.min_neighbors", 5)
	v.SetDefault("opencv.min_size_width", 40)
	v.SetDefault("opencv.min_size_height", 40)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "face-attendance")
	v.SetDefault("mqtt.topic_prefix", "face-attendance")

	v.SetDefault("sync.processing_interval_seconds", 60)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.retry_initial_delay_seconds", 30)
	v.SetDefault("sync.retry_backoff_factor", 2.0)
	v.SetDefault("sync.retry_max_delay_seconds", 3600)
	v.SetDefault("sync.retention_days", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "face_attendance")
}

// ensureDirectories creates the data, log and database directories.
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.DB.File != "" && cfg.DB.File != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
