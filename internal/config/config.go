// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// StreamHeartbeat is the interval between keep-alive frames on status streams.
	StreamHeartbeat time.Duration `yaml:"stream_heartbeat"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	DefaultProvider string `yaml:"default_provider"`
	DefaultModel    string `yaml:"default_model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	MaxPromptTokens int    `yaml:"max_prompt_tokens"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent AI calls
}

type TranscriptionConfig struct {
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	LanguageCode  string        `yaml:"language_code"`
	SpeakerLabels bool          `yaml:"speaker_labels"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
}

type MediaConfig struct {
	YtDlpPath       string        `yaml:"ytdlp_path"`
	FFmpegPath      string        `yaml:"ffmpeg_path"`
	WorkDir         string        `yaml:"work_dir"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	ExtractTimeout  time.Duration `yaml:"extract_timeout"`
}

type PipelineConfig struct {
	Workers            int           `yaml:"workers"`
	QueueSize          int           `yaml:"queue_size"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	StaleCheckInterval time.Duration `yaml:"stale_check_interval"`
	// Pending jobs idle for RequeueAfter are dispatched again by the sweeper.
	RequeueAfter       time.Duration `yaml:"requeue_after"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

type GuideConfig struct {
	Style             string `yaml:"style"`
	Audience          string `yaml:"audience"`
	MaxLength         int    `yaml:"max_length"`
	IncludeTimestamps bool   `yaml:"include_timestamps"`
}

type RateLimitConfig struct {
	SubmissionsPerHour int `yaml:"submissions_per_hour"` // 0 disables
}

type Config struct {
	Log           LogConfig           `yaml:"log"`
	HTTP          HTTPConfig          `yaml:"http"`
	Auth          AuthConfig          `yaml:"auth"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	AI            AIConfig            `yaml:"ai"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Media         MediaConfig         `yaml:"media"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Guide         GuideConfig         `yaml:"guide"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. ${VAR} references are expanded from
// the environment before parsing so secrets can stay out of the file.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes raw YAML, applies defaults and validates required fields.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.HTTP.StreamHeartbeat <= 0 {
		cfg.HTTP.StreamHeartbeat = 15 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.DefaultProvider == "" {
		cfg.AI.DefaultProvider = "openai"
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 2048
	}
	if cfg.AI.MaxPromptTokens <= 0 {
		cfg.AI.MaxPromptTokens = 12000
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}

	if cfg.Transcription.BaseURL == "" {
		cfg.Transcription.BaseURL = "https://api.assemblyai.com/v2"
	}
	if cfg.Transcription.LanguageCode == "" {
		cfg.Transcription.LanguageCode = "en"
	}
	if cfg.Transcription.PollInterval <= 0 {
		cfg.Transcription.PollInterval = 2 * time.Second
	}
	if cfg.Transcription.MaxAttempts <= 0 {
		cfg.Transcription.MaxAttempts = 300
	}
	if cfg.Transcription.HTTPTimeout <= 0 {
		cfg.Transcription.HTTPTimeout = 60 * time.Second
	}

	if cfg.Media.YtDlpPath == "" {
		cfg.Media.YtDlpPath = "yt-dlp"
	}
	if cfg.Media.FFmpegPath == "" {
		cfg.Media.FFmpegPath = "ffmpeg"
	}
	if cfg.Media.WorkDir == "" {
		cfg.Media.WorkDir = os.TempDir()
	}
	if cfg.Media.DownloadTimeout <= 0 {
		cfg.Media.DownloadTimeout = 15 * time.Minute
	}
	if cfg.Media.ExtractTimeout <= 0 {
		cfg.Media.ExtractTimeout = 5 * time.Minute
	}

	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.QueueSize <= 0 {
		cfg.Pipeline.QueueSize = cfg.Pipeline.Workers * 4
	}
	if cfg.Pipeline.StaleAfter <= 0 {
		cfg.Pipeline.StaleAfter = time.Hour
	}
	if cfg.Pipeline.StaleCheckInterval <= 0 {
		cfg.Pipeline.StaleCheckInterval = 5 * time.Minute
	}
	if cfg.Pipeline.RequeueAfter <= 0 {
		cfg.Pipeline.RequeueAfter = 30 * time.Second
	}
	if cfg.Pipeline.SweepInterval <= 0 {
		cfg.Pipeline.SweepInterval = 10 * time.Second
	}

	if cfg.Guide.Style == "" {
		cfg.Guide.Style = "step-by-step tutorial"
	}
	if cfg.Guide.Audience == "" {
		cfg.Guide.Audience = "beginner"
	}
	if cfg.Guide.MaxLength <= 0 {
		cfg.Guide.MaxLength = 2000
	}
}

// Minimal validation
func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if cfg.Transcription.APIKey == "" {
		return errors.New("transcription.api_key is required")
	}
	if cfg.AI.OpenAIKey == "" && cfg.AI.GeminiKey == "" {
		return errors.New("one of ai.openai_key or ai.gemini_key is required")
	}
	switch cfg.Guide.Audience {
	case "beginner", "intermediate", "advanced":
	default:
		return fmt.Errorf("guide.audience %q must be beginner, intermediate or advanced", cfg.Guide.Audience)
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
