// Package config provides the configuration structure for the
// audiobook-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	JobsBucket               string `toml:"jobs_bucket"`
	AudioCacheBucket         string `toml:"audio_cache_bucket"`
	SubmitSubject            string `toml:"submit_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
}

// TTSConfig holds the configuration for the external TTS/STT service.
type TTSConfig struct {
	BaseURL               string `toml:"base_url"`
	STTBaseURL            string `toml:"stt_base_url"`
	MaxAttempts           int    `toml:"max_attempts"`
	BackoffSeconds        []int  `toml:"backoff_seconds"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	MaxTokensPreset       int    `toml:"max_tokens_preset"`
	MaxTokensClone        int    `toml:"max_tokens_clone"`
}

// ChunkerConfig holds the chunking word budgets.
type ChunkerConfig struct {
	TargetWords int `toml:"target_words"`
	MaxWords    int `toml:"max_words"`
}

// AssemblyConfig holds the final muxing settings.
type AssemblyConfig struct {
	FFmpegPath string `toml:"ffmpeg_path"`
	OutputDir  string `toml:"output_dir"`
}

// PathsConfig holds the configuration for file paths. CacheBackend selects
// where generated audio is cached: "disk" (default) or "nats".
type PathsConfig struct {
	CacheBackend string `toml:"cache_backend"`
	CacheDir     string `toml:"cache_dir"`
	BaseLogsDir  string `toml:"base_logs_dir"`
}

// ObservabilityConfig holds the metrics endpoint settings. An empty address
// disables the endpoint.
type ObservabilityConfig struct {
	MetricsAddr string `toml:"metrics_addr"`
}

// Config is the root configuration structure.
type Config struct {
	NATS          NATSConfig          `toml:"nats"`
	TTS           TTSConfig           `toml:"tts"`
	Chunker       ChunkerConfig       `toml:"chunker"`
	Assembly      AssemblyConfig      `toml:"assembly"`
	Paths         PathsConfig         `toml:"paths"`
	Observability ObservabilityConfig `toml:"observability"`
}

// Load loads the configuration for the audiobook-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
