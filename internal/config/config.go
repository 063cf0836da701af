// Package config provides the configuration structure for the pronunciation-service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied by Validate.
const (
	defaultListenAddr       = ":8080"
	defaultMaxUploadBytes   = 5 * 1024 * 1024
	defaultGTPTimeout       = 15
	defaultModelTimeout     = 20
	defaultScoreTimeout     = 30
	defaultBreakerFailures  = 5
	defaultBreakerReset     = 30
	defaultFluencyTimeout   = 60
	defaultFFmpegPath       = "ffmpeg"
	defaultTranscodeTimeout = 30
	defaultDatasetPath      = "data/precomputed_sentences.csv"
	defaultFeedbackModel    = "gpt-4o-mini"
	defaultFeedbackTimeout  = 20
	defaultEvaluateSubject  = "pronunciation.evaluate"
	defaultAudioBucket      = "PRONUNCIATION_RECORDINGS"
	defaultBaseLogsDir      = "logs"
)

var (
	// ErrSpeechProURLEmpty indicates a configuration without a scoring service address.
	ErrSpeechProURLEmpty = errors.New("speechpro.url cannot be empty")
	// ErrFeedbackKeyEmpty indicates feedback enabled without an api key.
	ErrFeedbackKeyEmpty = errors.New("feedback.api_key is required when feedback is enabled")
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
}

// SpeechProConfig holds the remote scoring service settings.
type SpeechProConfig struct {
	URL                 string `toml:"url"`
	GTPTimeoutSeconds   int    `toml:"gtp_timeout_seconds"`
	ModelTimeoutSeconds int    `toml:"model_timeout_seconds"`
	ScoreTimeoutSeconds int    `toml:"score_timeout_seconds"`
	BreakerMaxFailures  int    `toml:"breaker_max_failures"`
	BreakerResetSeconds int    `toml:"breaker_reset_seconds"`
}

// FluencyProConfig holds the fluency analysis service settings.
type FluencyProConfig struct {
	WSURL          string `toml:"ws_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AudioConfig holds the transcoder settings. Output sample rates are fixed by
// the scoring and fluency backends and are not configurable.
type AudioConfig struct {
	FFmpegPath     string `toml:"ffmpeg_path"`
	TempDir        string `toml:"temp_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DatasetConfig locates the precomputed sentence dataset.
type DatasetConfig struct {
	Path string `toml:"path"`
}

// FeedbackConfig holds the coaching text generator settings.
type FeedbackConfig struct {
	Enabled        bool   `toml:"enabled"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables the worker.
type NATSConfig struct {
	URL                    string `toml:"url"`
	EvaluateSubject        string `toml:"evaluate_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// ProgressConfig locates the practice history database. An empty path disables it.
type ProgressConfig struct {
	DBPath string `toml:"db_path"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	SpeechPro  SpeechProConfig  `toml:"speechpro"`
	FluencyPro FluencyProConfig `toml:"fluencypro"`
	Audio      AudioConfig      `toml:"audio"`
	Dataset    DatasetConfig    `toml:"dataset"`
	Feedback   FeedbackConfig   `toml:"feedback"`
	NATS       NATSConfig       `toml:"nats"`
	Progress   ProgressConfig   `toml:"progress"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads and validates the configuration for the pronunciation-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate fills unset fields with defaults and rejects unusable settings.
func (c *Config) Validate() error {
	if c.SpeechPro.URL == "" {
		return ErrSpeechProURLEmpty
	}

	if c.Feedback.Enabled && c.Feedback.APIKey == "" {
		return ErrFeedbackKeyEmpty
	}

	setString(&c.Server.ListenAddr, defaultListenAddr)
	setInt64(&c.Server.MaxUploadBytes, defaultMaxUploadBytes)

	setInt(&c.SpeechPro.GTPTimeoutSeconds, defaultGTPTimeout)
	setInt(&c.SpeechPro.ModelTimeoutSeconds, defaultModelTimeout)
	setInt(&c.SpeechPro.ScoreTimeoutSeconds, defaultScoreTimeout)
	setInt(&c.SpeechPro.BreakerMaxFailures, defaultBreakerFailures)
	setInt(&c.SpeechPro.BreakerResetSeconds, defaultBreakerReset)

	setInt(&c.FluencyPro.TimeoutSeconds, defaultFluencyTimeout)

	setString(&c.Audio.FFmpegPath, defaultFFmpegPath)
	setInt(&c.Audio.TimeoutSeconds, defaultTranscodeTimeout)

	setString(&c.Dataset.Path, defaultDatasetPath)

	setString(&c.Feedback.Model, defaultFeedbackModel)
	setInt(&c.Feedback.TimeoutSeconds, defaultFeedbackTimeout)

	setString(&c.NATS.EvaluateSubject, defaultEvaluateSubject)
	setString(&c.NATS.AudioObjectStoreBucket, defaultAudioBucket)

	setString(&c.Paths.BaseLogsDir, defaultBaseLogsDir)

	return nil
}

// Seconds converts a whole-second setting to a time.Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func setString(field *string, fallback string) {
	if *field == "" {
		*field = fallback
	}
}

func setInt(field *int, fallback int) {
	if *field <= 0 {
		*field = fallback
	}
}

func setInt64(field *int64, fallback int64) {
	if *field <= 0 {
		*field = fallback
	}
}
