package config

// Default values applied by [ApplyDefaults].
const (
	DefaultCaptureProvider     = "screenshot"
	DefaultIntervalMS          = 3000
	DefaultFailureThreshold    = 5
	DefaultBreakerResetMS      = 30000
	DefaultDiffThreshold       = 0.006
	DefaultNoiseFloor          = 10
	DefaultSampleStride        = 4
	DefaultRecognitionProvider = "tesseract"
	DefaultWorkers             = 2
	DefaultMinConfidence       = 0.7
	DefaultMaxRetries          = 3
	DefaultRetryBackoffMS      = 1000
	DefaultQueueCapacity       = 100
	DefaultReportIntervalMS    = 60000
	DefaultRestartDelayMS      = 1000
	DefaultPersistTimeoutMS    = 10000
	DefaultStorageProvider     = "log"
	DefaultEmbeddingDimensions = 1536
)

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}

	c := &cfg.Capture
	setString(&c.Provider.Name, DefaultCaptureProvider)
	setInt(&c.IntervalMS, DefaultIntervalMS)
	setInt(&c.FailureThreshold, DefaultFailureThreshold)
	setInt(&c.BreakerResetMS, DefaultBreakerResetMS)

	ch := &cfg.Change
	if ch.DiffThreshold == nil {
		v := DefaultDiffThreshold
		ch.DiffThreshold = &v
	}
	if ch.NoiseFloor == nil {
		v := DefaultNoiseFloor
		ch.NoiseFloor = &v
	}
	setInt(&ch.SampleStride, DefaultSampleStride)

	r := &cfg.Recognition
	setString(&r.Provider.Name, DefaultRecognitionProvider)
	setInt(&r.Workers, DefaultWorkers)
	if r.MinConfidence == nil {
		v := DefaultMinConfidence
		r.MinConfidence = &v
	}
	setInt(&r.MaxRetries, DefaultMaxRetries)
	setInt(&r.RetryBackoffMS, DefaultRetryBackoffMS)

	p := &cfg.Pipeline
	setInt(&p.FrameQueueCapacity, DefaultQueueCapacity)
	setInt(&p.ResultQueueCapacity, DefaultQueueCapacity)
	setInt(&p.ReportIntervalMS, DefaultReportIntervalMS)
	setInt(&p.RestartDelayMS, DefaultRestartDelayMS)
	setInt(&p.PersistTimeoutMS, DefaultPersistTimeoutMS)

	// Storage.EmbeddingDimensions stays zero so the embeddings provider's
	// own dimensions can be used; see [StorageConfig.Dimensions].
	setString(&cfg.Storage.Provider.Name, DefaultStorageProvider)
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
