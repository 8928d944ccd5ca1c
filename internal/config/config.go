// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/longtrack-api/internal/extended"
)

// Static errors for configuration validation.
var (
	// ErrACEStepURLRequired is returned when ACESTEP_API_URL is not set.
	ErrACEStepURLRequired = errors.New("config: ACESTEP_API_URL is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// ACE-Step backend settings
	ACEStepAPIURL       string        `env:"ACESTEP_API_URL, required" json:"acestep_api_url"`
	ACEStepAPIKey       string        `env:"ACESTEP_API_KEY" json:"-"` // Masked in JSON
	ACEStepOutputDir    string        `env:"ACESTEP_OUTPUT_DIR" json:"acestep_output_dir,omitempty"`
	ACEStepPollInterval time.Duration `env:"ACESTEP_POLL_INTERVAL, default=2s" json:"acestep_poll_interval"`
	ACEStepSteps        int           `env:"ACESTEP_INFERENCE_STEPS, default=8" json:"acestep_inference_steps"`
	SegmentTimeout      time.Duration `env:"SEGMENT_TIMEOUT, default=10m" json:"segment_timeout"`
	JobTimeout          time.Duration `env:"JOB_TIMEOUT, default=0s" json:"job_timeout"`

	// Storage settings
	TempDir      string `env:"TEMP_DIR, default=/tmp/longtrack" json:"temp_dir"`
	OutputFormat string `env:"OUTPUT_FORMAT, default=wav" json:"output_format"`

	// Generation defaults, applied to every request that leaves them unset
	DefaultTargetDuration time.Duration `env:"DEFAULT_TARGET_DURATION, default=240s" json:"default_target_duration"`
	SegmentDuration       time.Duration `env:"SEGMENT_DURATION, default=28s" json:"segment_duration"`
	OverlapDuration       time.Duration `env:"OVERLAP_DURATION, default=4s" json:"overlap_duration"`
	CrossfadeDuration     time.Duration `env:"CROSSFADE_DURATION, default=2s" json:"crossfade_duration"`
	SampleRate            int           `env:"SAMPLE_RATE, default=32000" json:"sample_rate"`
	Channels              int           `env:"CHANNELS, default=2" json:"channels"`
	MaxSegmentDuration    time.Duration `env:"MAX_SEGMENT_DURATION, default=30s" json:"max_segment_duration"`
	CrossfadeCurve        string        `env:"CROSSFADE_CURVE, default=equal_power" json:"crossfade_curve"`
	LengthTolerance       time.Duration `env:"LENGTH_TOLERANCE, default=500ms" json:"length_tolerance"`
	EdgeFade              time.Duration `env:"EDGE_FADE, default=0s" json:"edge_fade"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3KeyPrefix        string `env:"S3_KEY_PREFIX" json:"s3_key_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// Variables from a .env file (or the file named by ENV_FILE) are loaded
// first; variables already set in the environment win.
// It returns an error if required variables are not set or the generation
// defaults are inconsistent.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "ACESTEP_API_URL") {
			return nil, ErrACEStepURLRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Validate checks that all required configuration is present and that the
// generation defaults form a valid configuration.
func (c *Config) Validate() error {
	if c.ACEStepAPIURL == "" {
		return ErrACEStepURLRequired
	}
	if err := c.Generation(0).Validate(); err != nil {
		return fmt.Errorf("config: generation defaults: %w", err)
	}
	return nil
}

// Generation builds the generation configuration for one run. A zero target
// uses DefaultTargetDuration.
func (c *Config) Generation(target time.Duration) extended.GenerationConfig {
	if target == 0 {
		target = c.DefaultTargetDuration
	}
	return extended.GenerationConfig{
		TargetDuration:     target,
		SegmentDuration:    c.SegmentDuration,
		OverlapDuration:    c.OverlapDuration,
		CrossfadeDuration:  c.CrossfadeDuration,
		SampleRate:         c.SampleRate,
		Channels:           c.Channels,
		MaxSegmentDuration: c.MaxSegmentDuration,
		Curve:              extended.Curve(c.CrossfadeCurve),
		LengthTolerance:    c.LengthTolerance,
		EdgeFade:           c.EdgeFade,
	}
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, ACEStepAPIURL: %s, TempDir: %s, Segment: %v, Overlap: %v, Crossfade: %v, Curve: %s, SampleRate: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.ACEStepAPIURL,
		c.TempDir,
		c.SegmentDuration,
		c.OverlapDuration,
		c.CrossfadeDuration,
		c.CrossfadeCurve,
		c.SampleRate,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
