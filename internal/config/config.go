// Package config provides the configuration schema, loader, and provider
// registry for glimpse.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Capture     CaptureConfig     `yaml:"capture"`
	Change      ChangeConfig      `yaml:"change"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Storage     StorageConfig     `yaml:"storage"`
	Embeddings  ProviderEntry     `yaml:"embeddings"`
}

// ServerConfig holds the ops HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the ops server (health, stats,
	// metrics). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output.
	LogFormat LogFormat `yaml:"log_format"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "tesseract", "postgres").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL is the provider's endpoint. For storage providers it is the
	// connection string; for the stream capture provider it is the video URL.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., an
	// embedding model or a tesseract language).
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig configures the frame source.
type CaptureConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// MonitorIndex is the zero-based display to capture.
	MonitorIndex int `yaml:"monitor_index"`

	// IntervalMS is the capture period in milliseconds.
	IntervalMS int `yaml:"interval_ms"`

	// FailureThreshold is the number of consecutive capture failures that
	// pause capturing.
	FailureThreshold int `yaml:"failure_threshold"`

	// BreakerResetMS is how long capturing stays paused.
	BreakerResetMS int `yaml:"breaker_reset_ms"`
}

// Interval returns IntervalMS as a duration.
func (c CaptureConfig) Interval() time.Duration { return ms(c.IntervalMS) }

// BreakerReset returns BreakerResetMS as a duration.
func (c CaptureConfig) BreakerReset() time.Duration { return ms(c.BreakerResetMS) }

// ChangeConfig configures the change detector.
type ChangeConfig struct {
	// DiffThreshold is the changed-pixel fraction a frame must exceed to be
	// processed. Nil means the default; 0 processes every changed frame.
	DiffThreshold *float64 `yaml:"diff_threshold"`

	// NoiseFloor is the per-channel delta at or below which a pixel counts
	// as unchanged.
	NoiseFloor *int `yaml:"noise_floor"`

	// SampleStride compares every n-th pixel.
	SampleStride int `yaml:"sample_stride"`
}

// RecognitionConfig configures the recognition worker pool.
type RecognitionConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// Workers is the number of workers, each with its own engine.
	Workers int `yaml:"workers"`

	// MinConfidence is the lowest region confidence kept, inclusive. Nil
	// means the default.
	MinConfidence *float64 `yaml:"min_confidence"`

	// MaxRetries is the total number of attempts per frame.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoffMS is the delay before the first retry.
	RetryBackoffMS int `yaml:"retry_backoff_ms"`

	// StoreEmpty persists frames in which no text passed the filter.
	StoreEmpty bool `yaml:"store_empty"`
}

// RetryBackoff returns RetryBackoffMS as a duration.
func (c RecognitionConfig) RetryBackoff() time.Duration { return ms(c.RetryBackoffMS) }

// PipelineConfig configures the queues and stage supervision.
type PipelineConfig struct {
	FrameQueueCapacity  int `yaml:"frame_queue_capacity"`
	ResultQueueCapacity int `yaml:"result_queue_capacity"`

	// ReportIntervalMS is the period of the stats log line. Negative
	// disables periodic reports.
	ReportIntervalMS int `yaml:"report_interval_ms"`

	RestartDelayMS   int `yaml:"restart_delay_ms"`
	PersistTimeoutMS int `yaml:"persist_timeout_ms"`
}

// ReportInterval returns ReportIntervalMS as a duration.
func (c PipelineConfig) ReportInterval() time.Duration { return ms(c.ReportIntervalMS) }

// RestartDelay returns RestartDelayMS as a duration.
func (c PipelineConfig) RestartDelay() time.Duration { return ms(c.RestartDelayMS) }

// PersistTimeout returns PersistTimeoutMS as a duration.
func (c PipelineConfig) PersistTimeout() time.Duration { return ms(c.PersistTimeoutMS) }

// StorageConfig selects the sink.
type StorageConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// EmbeddingDimensions is the vector dimension of the embedding column.
	// Must match the model configured in Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// Dimensions returns EmbeddingDimensions, falling back to fallback and then
// to [DefaultEmbeddingDimensions] when unset.
func (c StorageConfig) Dimensions(fallback int) int {
	switch {
	case c.EmbeddingDimensions > 0:
		return c.EmbeddingDimensions
	case fallback > 0:
		return fallback
	default:
		return DefaultEmbeddingDimensions
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
