package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	ModelsDir  string           `yaml:"models_dir"`
	Detector   DetectorConfig   `yaml:"detector"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
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
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DetectorConfig configures the face detector.
type DetectorConfig struct {
	ScoreThreshold float32 `yaml:"score_threshold"`
	NMSThreshold   float32 `yaml:"nms_threshold"`
	TopK           int     `yaml:"top_k"`
	MinFaceSize    float32 `yaml:"min_face_size"`
}

// LivenessConfig configures the anti-spoof scorer, including temporal
// EMA smoothing.
type LivenessConfig struct {
	ConfidenceThreshold     float32 `yaml:"confidence_threshold"`
	BBoxInc                 float32 `yaml:"bbox_inc"`
	ModelImgSize            int     `yaml:"model_img_size"`
	EnableTemporalSmoothing bool    `yaml:"enable_temporal_smoothing"`
	Alpha                   float32 `yaml:"alpha"`
	MaxStaleFrames          int     `yaml:"max_stale_frames"`
	CleanupInterval         int     `yaml:"cleanup_interval"`
}

// RecognizerConfig configures gallery matching.
type RecognizerConfig struct {
	SimilarityThreshold float32 `yaml:"similarity_threshold"`
	EmbeddingDimension  int     `yaml:"embedding_dimension"`
	CacheTTLSeconds     float64 `yaml:"cache_ttl_seconds"`
}

// TrackerConfig configures the Deep-SORT tracker.
type TrackerConfig struct {
	MaxAge            int                  `yaml:"max_age"`
	NInit             int                  `yaml:"n_init"`
	MaxIOUDistance    float32              `yaml:"max_iou_distance"`
	MaxCosineDistance float32              `yaml:"max_cosine_distance"`
	FeatureBudget     int                  `yaml:"feature_budget"`
	Weights           TrackerWeightsConfig `yaml:"weights"`
}

type TrackerWeightsConfig struct {
	Appearance float32 `yaml:"appearance"`
	Motion     float32 `yaml:"motion"`
}

// AttendanceConfig holds the default Settings row values.
type AttendanceConfig struct {
	AttendanceCooldownSeconds int `yaml:"attendance_cooldown_seconds"`
	RelogCooldownSeconds      int `yaml:"relog_cooldown_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file and applies environment variable
// overrides, then fills in defaults for anything still unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	// Temporal smoothing is on unless the YAML sets it to false; setDefaults
	// cannot tell an explicit false from an absent key.
	cfg.Liveness.EnableTemporalSmoothing = true
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = "models"
	}

	if cfg.Detector.ScoreThreshold == 0 {
		cfg.Detector.ScoreThreshold = 0.5
	}
	if cfg.Detector.NMSThreshold == 0 {
		cfg.Detector.NMSThreshold = 0.4
	}
	if cfg.Detector.TopK == 0 {
		cfg.Detector.TopK = 50
	}
	if cfg.Detector.MinFaceSize == 0 {
		cfg.Detector.MinFaceSize = 40
	}

	if cfg.Liveness.ConfidenceThreshold == 0 {
		cfg.Liveness.ConfidenceThreshold = 0.5
	}
	if cfg.Liveness.BBoxInc == 0 {
		cfg.Liveness.BBoxInc = 1.5
	}
	if cfg.Liveness.ModelImgSize == 0 {
		cfg.Liveness.ModelImgSize = 80
	}
	if cfg.Liveness.Alpha == 0 {
		cfg.Liveness.Alpha = 0.3
	}
	if cfg.Liveness.MaxStaleFrames == 0 {
		cfg.Liveness.MaxStaleFrames = 30
	}
	if cfg.Liveness.CleanupInterval == 0 {
		cfg.Liveness.CleanupInterval = 100
	}

	if cfg.Recognizer.SimilarityThreshold == 0 {
		cfg.Recognizer.SimilarityThreshold = 0.4
	}
	if cfg.Recognizer.EmbeddingDimension == 0 {
		cfg.Recognizer.EmbeddingDimension = 512
	}
	if cfg.Recognizer.CacheTTLSeconds == 0 {
		cfg.Recognizer.CacheTTLSeconds = 1.0
	}

	if cfg.Tracker.MaxAge == 0 {
		cfg.Tracker.MaxAge = 30
	}
	if cfg.Tracker.NInit == 0 {
		cfg.Tracker.NInit = 3
	}
	if cfg.Tracker.MaxIOUDistance == 0 {
		cfg.Tracker.MaxIOUDistance = 0.7
	}
	if cfg.Tracker.MaxCosineDistance == 0 {
		cfg.Tracker.MaxCosineDistance = 0.4
	}
	if cfg.Tracker.FeatureBudget == 0 {
		cfg.Tracker.FeatureBudget = 100
	}
	if cfg.Tracker.Weights.Appearance == 0 {
		cfg.Tracker.Weights.Appearance = 0.7
	}
	if cfg.Tracker.Weights.Motion == 0 {
		cfg.Tracker.Weights.Motion = 0.3
	}

	if cfg.Attendance.AttendanceCooldownSeconds == 0 {
		cfg.Attendance.AttendanceCooldownSeconds = 10
	}
	if cfg.Attendance.RelogCooldownSeconds == 0 {
		cfg.Attendance.RelogCooldownSeconds = 1800
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATTEND_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ATTEND_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ATTEND_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ATTEND_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ATTEND_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ATTEND_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ATTEND_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ATTEND_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ATTEND_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ATTEND_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ATTEND_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ATTEND_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ATTEND_MODELS_DIR"); v != "" {
		cfg.ModelsDir = v
	}
	if v := os.Getenv("ATTEND_DETECTOR_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Detector.ScoreThreshold = float32(f)
		}
	}
	if v := os.Getenv("ATTEND_RECOGNIZER_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Recognizer.SimilarityThreshold = float32(f)
		}
	}
	if v := os.Getenv("ATTEND_ATTENDANCE_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Attendance.AttendanceCooldownSeconds = n
		}
	}
	if v := os.Getenv("ATTEND_RELOG_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Attendance.RelogCooldownSeconds = n
		}
	}
	if v := os.Getenv("ATTEND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
