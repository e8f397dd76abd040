package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"capture":     {"screenshot", "stream"},
	"recognition": {"tesseract"},
	"storage":     {"log", "postgres", "redis"},
	"embeddings":  {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. ${VAR} and $VAR references are expanded from the
// environment before decoding, so secrets can stay out of the file.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// [ApplyDefaults] to have run and returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	validateProviderName("capture", cfg.Capture.Provider.Name)
	validateProviderName("recognition", cfg.Recognition.Provider.Name)
	validateProviderName("storage", cfg.Storage.Provider.Name)
	validateProviderName("embeddings", cfg.Embeddings.Name)

	// Capture
	c := cfg.Capture
	if c.MonitorIndex < 0 {
		errs = append(errs, fmt.Errorf("capture.monitor_index %d must not be negative", c.MonitorIndex))
	}
	if c.IntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("capture.interval_ms %d must be positive", c.IntervalMS))
	} else if c.IntervalMS < 1000 {
		slog.Warn("capture.interval_ms is below one second; capture and recognition load will be high",
			"interval_ms", c.IntervalMS)
	}
	if c.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("capture.failure_threshold %d must be at least 1", c.FailureThreshold))
	}
	if c.BreakerResetMS <= 0 {
		errs = append(errs, fmt.Errorf("capture.breaker_reset_ms %d must be positive", c.BreakerResetMS))
	}
	if c.Provider.Name == "stream" && c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("capture.provider.base_url is required for the stream provider"))
	}

	// Change detection
	ch := cfg.Change
	if ch.DiffThreshold != nil && (*ch.DiffThreshold < 0 || *ch.DiffThreshold > 1) {
		errs = append(errs, fmt.Errorf("change.diff_threshold %.4f is out of range [0, 1]", *ch.DiffThreshold))
	}
	if ch.NoiseFloor != nil && (*ch.NoiseFloor < 0 || *ch.NoiseFloor > 255) {
		errs = append(errs, fmt.Errorf("change.noise_floor %d is out of range [0, 255]", *ch.NoiseFloor))
	}
	if ch.SampleStride < 1 {
		errs = append(errs, fmt.Errorf("change.sample_stride %d must be at least 1", ch.SampleStride))
	}

	// Recognition
	r := cfg.Recognition
	if r.Workers < 1 {
		errs = append(errs, fmt.Errorf("recognition.workers %d must be at least 1", r.Workers))
	} else if r.Workers > runtime.NumCPU() {
		slog.Warn("recognition.workers exceeds the number of CPUs",
			"workers", r.Workers,
			"cpus", runtime.NumCPU(),
		)
	}
	if r.MinConfidence != nil && (*r.MinConfidence < 0 || *r.MinConfidence > 1) {
		errs = append(errs, fmt.Errorf("recognition.min_confidence %.2f is out of range [0, 1]", *r.MinConfidence))
	}
	if r.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("recognition.max_retries %d must be at least 1", r.MaxRetries))
	}
	if r.RetryBackoffMS < 0 {
		errs = append(errs, fmt.Errorf("recognition.retry_backoff_ms %d must not be negative", r.RetryBackoffMS))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.FrameQueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("pipeline.frame_queue_capacity %d must be at least 1", p.FrameQueueCapacity))
	}
	if p.ResultQueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("pipeline.result_queue_capacity %d must be at least 1", p.ResultQueueCapacity))
	}
	if p.RestartDelayMS < 0 {
		errs = append(errs, fmt.Errorf("pipeline.restart_delay_ms %d must not be negative", p.RestartDelayMS))
	}
	if p.PersistTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("pipeline.persist_timeout_ms %d must not be negative", p.PersistTimeoutMS))
	}

	// Storage
	s := cfg.Storage
	switch s.Provider.Name {
	case "postgres", "redis":
		if s.Provider.BaseURL == "" {
			errs = append(errs, fmt.Errorf("storage.provider.base_url is required for the %s provider", s.Provider.Name))
		}
	}
	if s.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions %d must not be negative", s.EmbeddingDimensions))
	}

	// Embeddings ↔ storage
	if cfg.Embeddings.Name != "" && s.Provider.Name != "postgres" {
		slog.Warn("embeddings provider is configured but only the postgres storage provider uses it",
			"storage", s.Provider.Name)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
